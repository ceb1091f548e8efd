// Package orchestrate drives one reconciliation run: per asset it fetches
// remote metadata, builds the action map, then runs the action executor and
// the orphan sweeper concurrently against the asset's image directory.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"attachment-sync/pkg/action"
	"attachment-sync/pkg/api"
	"attachment-sync/pkg/clean"
	"attachment-sync/pkg/config"
	"attachment-sync/pkg/models"
	"attachment-sync/pkg/state"
	"attachment-sync/pkg/sync"
	"attachment-sync/pkg/utils"
)

const (
	imagesDirName  = "images"
	reportsDirName = "reports"
	removedSuffix  = "_removed"

	actionMapFilename = "action_map.json"
	runReportFilename = "run_report.json"
	ledgerFilename    = "image_info.csv"
)

// Orchestrator runs reconciliation over a set of assets. Assets and records
// are processed sequentially so logs and counters stay deterministic; inside
// one asset only the sweeper runs alongside the executor.
type Orchestrator struct {
	cfg    *config.AppConfig
	client *api.Client
	log    *logrus.Entry
	runID  string
}

// NewOrchestrator creates an orchestrator; every run gets a fresh run id
// stamped on reports and log lines.
func NewOrchestrator(cfg *config.AppConfig, client *api.Client, log *logrus.Entry) *Orchestrator {
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		log:    log.WithField("run_id", runID),
		runID:  runID,
	}
}

// RunID returns the identifier of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Run reconciles the given assets in order. The first fatal error stops the
// whole run; per-entry failures only show up in the report counters.
func (o *Orchestrator) Run(ctx context.Context, assetUIDs []string) ([]*models.RunReport, error) {
	reports := make([]*models.RunReport, 0, len(assetUIDs))
	for _, uid := range assetUIDs {
		report, err := o.SyncAsset(ctx, uid)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("asset '%s': %w", uid, err)
		}
	}
	return reports, nil
}

// SyncAsset reconciles one asset end to end. The returned error is fatal
// (malformed metadata, exhausted metadata retries, directory bootstrap
// failure, ambiguous field match); everything per-entry lands in the report.
func (o *Orchestrator) SyncAsset(ctx context.Context, assetUID string) (*models.RunReport, error) {
	assetLog := o.log.WithField("asset_uid", assetUID)

	report := &models.RunReport{
		RunID:     o.runID,
		AssetUID:  assetUID,
		StartedAt: time.Now(),
	}

	asset, err := o.client.GetAsset(ctx, assetUID)
	if err != nil {
		return nil, err
	}
	report.AssetName = asset.Name

	if len(asset.ImageFields) == 0 {
		assetLog.Warn("Asset declares no image fields, skipping")
		report.FinishedAt = time.Now()
		return report, nil
	}

	records, err := o.client.GetSubmissions(ctx, assetUID)
	if err != nil {
		return nil, err
	}
	report.Records = len(records)

	// Records without attachments never enter the builder; they are reported
	// separately as skipped.
	eligible := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		if len(rec.Attachments) == 0 {
			assetLog.WithField("record_id", rec.ID).Debug("Record has no attachments, skipping")
			report.Skipped++
			continue
		}
		eligible = append(eligible, rec)
	}

	assetName := utils.SanitizeFilename(asset.Name)
	imageDir := filepath.Join(o.cfg.OutputBaseDir, imagesDirName, assetUID, assetName)
	removedDir := filepath.Join(o.cfg.OutputBaseDir, imagesDirName, assetUID, assetName+removedSuffix)
	reportsDir := filepath.Join(o.cfg.OutputBaseDir, reportsDirName, assetUID)

	for _, dir := range []string{imageDir, reportsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating output directory '%s': %w", utils.ErrFilesystem, dir, err)
		}
	}

	builder := action.NewBuilder(assetLog)
	actionMap, err := builder.Build(assetUID, eligible, asset.ImageFields)
	if err != nil {
		return nil, err
	}
	report.Counts = actionMap.Counts

	if err := writeJSON(filepath.Join(reportsDir, actionMapFilename), actionMap); err != nil {
		return nil, err
	}

	store := state.NewStore(o.cfg.OutputBaseDir, assetLog)
	ledger, err := sync.OpenLedger(filepath.Join(reportsDir, ledgerFilename), []rune(o.cfg.LedgerDelimiter)[0], assetLog)
	if err != nil {
		return nil, err
	}

	executor := sync.NewExecutor(o.client, store, ledger,
		assetUID, asset.Name, imageDir, removedDir,
		o.cfg.DestructiveImages, o.cfg.DownloadIdleTimeout, o.cfg.MaxRetries,
		assetLog)
	plan := executor.BuildPlan(actionMap)

	sweeper := clean.New(clean.Config{
		ImageDir:       imageDir,
		RemovedDir:     removedDir,
		AccountedNames: plan.AccountedNames(),
		NoneNames:      plan.NoneNames,
		Destructive:    o.cfg.DestructiveImages,
	}, assetLog.WithField("component", "sweeper"))

	// Executor and sweeper share only the directory tree; the up-front name
	// sets keep their file ownership disjoint, so no locking is needed.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return executor.Run(gctx, plan, report) })
	g.Go(func() error { return sweeper.Run(gctx) })
	runErr := g.Wait()

	if err := ledger.Close(); err != nil {
		assetLog.Errorf("Closing ledger: %v", err)
	}

	sweepReport := sweeper.Report()
	report.Orphans = sweepReport.Removed + sweepReport.Quarantined
	report.Quarantined += sweepReport.Quarantined
	report.Deleted += sweepReport.Removed
	report.FinishedAt = time.Now()

	if err := writeJSON(filepath.Join(reportsDir, runReportFilename), report); err != nil {
		assetLog.Errorf("Writing run report: %v", err)
	}

	assetLog.Infof("Asset done: %d downloads, %d up to date, %d deleted, %d quarantined, %d orphans, %d errors",
		report.Downloads, report.UpToDate, report.Deleted, report.Quarantined, report.Orphans, len(report.Errors))

	return report, runErr
}

// writeJSON writes v to path with indentation, truncating any previous run's
// artifact.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling '%s': %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
