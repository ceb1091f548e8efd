package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"attachment-sync/pkg/api"
	"attachment-sync/pkg/config"
	"attachment-sync/pkg/fetch"
	"attachment-sync/pkg/orchestrate"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-assets":
		runListAssets(os.Args[2:])
	case "version":
		fmt.Printf("attachment-sync %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `attachment-sync - Form attachment reconciliation tool

Usage:
  attachment-sync <command> [options]

Commands:
  sync         Reconcile attachments for one or more assets
  validate     Validate configuration file
  list-assets  List assets visible to the configured account
  version      Show version info

Run 'attachment-sync <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	return appCfg
}

// newAPIClient builds the server client with separate metadata and streaming
// fetchers, so metadata calls keep an overall deadline while downloads are
// bounded only by connect and idle timeouts.
func newAPIClient(appCfg *config.AppConfig, log *logrus.Logger) *api.Client {
	policy := fetch.RetryPolicy{
		MaxRetries:   appCfg.MaxRetries,
		InitialDelay: appCfg.InitialRetryDelay,
		MaxDelay:     appCfg.MaxRetryDelay,
	}

	metaClient := fetch.NewClient(appCfg.HTTPClientSettings, appCfg.RequestTimeout, appCfg.ConnectTimeout, log)
	metaFetcher := fetch.NewFetcher(metaClient, policy, log)

	downloadClient := fetch.NewDownloadClient(appCfg.HTTPClientSettings, appCfg.ConnectTimeout, log)
	streamFetcher := fetch.NewFetcher(downloadClient, policy, log)

	return api.NewClient(appCfg.ServerURL, appCfg.APIToken, metaFetcher, streamFetcher, appCfg.PageSize, log)
}

// parseAssetSelection resolves the -asset / -assets flags into an ordered UID
// list. An empty result with allAssets false is an error for the caller.
func parseAssetSelection(asset, assets string) []string {
	var uids []string
	if assets != "" {
		for _, s := range strings.Split(assets, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				uids = append(uids, s)
			}
		}
	} else if asset != "" {
		uids = []string{asset}
	}
	return uids
}

// runSync handles the sync subcommand
func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	assetUID := fs.String("asset", "", "Asset UID to reconcile (single asset)")
	assetUIDs := fs.String("assets", "", "Comma-separated asset UIDs")
	allAssets := fs.Bool("all-assets", false, "Reconcile all deployed assets")
	destructive := fs.Bool("destructive", false, "Delete removed images instead of quarantining them")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: attachment-sync sync [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  attachment-sync sync -asset aXy123\n")
		fmt.Fprintf(os.Stderr, "  attachment-sync sync -assets aXy123,bQr456\n")
		fmt.Fprintf(os.Stderr, "  attachment-sync sync --all-assets\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	uids := parseAssetSelection(*assetUID, *assetUIDs)
	if len(uids) == 0 && !*allAssets {
		fmt.Fprintln(os.Stderr, "Error: one of -asset, -assets, or --all-assets is required")
		fs.Usage()
		os.Exit(1)
	}

	executeSync(*configFile, uids, *allAssets, *destructive, *logLevel)
}

func executeSync(configFile string, uids []string, allAssets, destructive bool, logLevelStr string) {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)

	if destructive {
		appCfg.DestructiveImages = true
		log.Warn("Destructive mode enabled via CLI flag: removed images will be deleted, not quarantined")
	}
	logAppConfig(appCfg, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	var runCtx context.Context
	var cancelRun context.CancelFunc

	if appCfg.GlobalRunTimeout > 0 {
		log.Infof("Setting global run timeout: %v", appCfg.GlobalRunTimeout)
		runCtx, cancelRun = context.WithTimeout(context.Background(), appCfg.GlobalRunTimeout)
	} else {
		runCtx, cancelRun = context.WithCancel(context.Background())
	}
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// ===========================================================
	// == Initialize Components & Run ==
	// ===========================================================
	client := newAPIClient(appCfg, log)
	logEntry := log.WithField("component", "sync")

	uids, err := orchestrate.ResolveAssets(runCtx, client, uids, allAssets, logEntry)
	if err != nil {
		log.Fatalf("Asset selection error: %v", err)
	}
	if len(uids) == 0 {
		log.Warn("No assets to reconcile.")
		os.Exit(0)
	}

	orch := orchestrate.NewOrchestrator(appCfg, client, logEntry)
	log.Infof("Starting run %s over %d asset(s)", orch.RunID(), len(uids))

	reports, err := orch.Run(runCtx, uids)

	entryErrors := 0
	for _, r := range reports {
		entryErrors += len(r.Errors)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Run cancelled gracefully.")
			os.Exit(0)
		} else if errors.Is(err, context.DeadlineExceeded) {
			log.Error("Run timed out (global timeout).")
			os.Exit(1)
		}
		log.Errorf("Run finished with fatal error: %v", err)
		os.Exit(1)
	}

	if entryErrors > 0 {
		log.Warnf("Run completed with %d entry error(s) across %d asset(s). See run reports for details.", entryErrors, len(reports))
		os.Exit(1)
	}

	log.Infof("Run completed successfully over %d asset(s).", len(reports))
	os.Exit(0)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: attachment-sync validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Configuration valid.")
	return 0
}

// runListAssets handles the list-assets subcommand
func runListAssets(args []string) {
	fs := flag.NewFlagSet("list-assets", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: attachment-sync list-assets [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListAssets(*configFile, *logLevel, os.Stdout, os.Stderr))
}

// doListAssets lists assets and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListAssets(configPath, logLevelStr string, stdout, stderr io.Writer) int {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configPath, log)
	client := newAPIClient(appCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if appCfg.GlobalRunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, appCfg.GlobalRunTimeout)
		defer cancel()
	}

	assets, err := client.ListAssets(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].UID < assets[j].UID })

	fmt.Fprintf(stdout, "Assets on %s:\n\n", appCfg.ServerURL)
	for _, a := range assets {
		deployed := "not deployed"
		if a.DeploymentActive {
			deployed = "deployed"
		}
		fmt.Fprintf(stdout, "  %s\n", a.UID)
		fmt.Fprintf(stdout, "    Name: %s\n", a.Name)
		fmt.Fprintf(stdout, "    Status: %s\n", deployed)
		fmt.Fprintln(stdout)
	}
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Server:%s, OutputDir:%s, PageSize:%d, Destructive:%t",
		appCfg.ServerURL, appCfg.OutputBaseDir, appCfg.PageSize, appCfg.DestructiveImages)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Timeouts: Request:%v, Connect:%v, DownloadIdle:%v, GlobalRun:%v",
		appCfg.RequestTimeout, appCfg.ConnectTimeout, appCfg.DownloadIdleTimeout, appCfg.GlobalRunTimeout)
	log.Infof("Global Config HTTP Client: MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
