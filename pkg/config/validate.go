package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"attachment-sync/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// ServerURL
	if c.ServerURL == "" {
		return warnings, fmt.Errorf("%w: server_url is required", utils.ErrConfigValidation)
	}
	u, parseErr := url.Parse(c.ServerURL)
	if parseErr != nil || u.Scheme == "" || u.Host == "" {
		return warnings, fmt.Errorf("%w: server_url '%s' is not an absolute URL", utils.ErrConfigValidation, c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return warnings, fmt.Errorf("%w: server_url scheme must be http or https, got '%s'", utils.ErrConfigValidation, u.Scheme)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	// APIToken
	if c.APIToken == "" {
		c.APIToken = os.Getenv("ATTACHMENT_SYNC_TOKEN")
	}
	if c.APIToken == "" {
		warnings = append(warnings, "api_token is empty and ATTACHMENT_SYNC_TOKEN is unset, requests will be anonymous")
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './media'")
		c.OutputBaseDir = "./media"
	}

	// LedgerDelimiter
	switch {
	case c.LedgerDelimiter == "":
		c.LedgerDelimiter = ","
	case len([]rune(c.LedgerDelimiter)) != 1:
		warnings = append(warnings, fmt.Sprintf(
			"ledger_delimiter '%s' must be a single character, defaulting to ','", c.LedgerDelimiter))
		c.LedgerDelimiter = ","
	case c.LedgerDelimiter == `"` || c.LedgerDelimiter == "\n" || c.LedgerDelimiter == "\r":
		return warnings, fmt.Errorf("%w: ledger_delimiter cannot be a quote or line break", utils.ErrConfigValidation)
	}

	// PageSize
	if c.PageSize <= 0 {
		c.PageSize = 100
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay < c.InitialRetryDelay {
		warnings = append(warnings, "max_retry_delay is below initial_retry_delay, raising it")
		c.MaxRetryDelay = c.InitialRetryDelay
	}

	// Time budgets: request < connect; idle watchdog independent
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = c.RequestTimeout + 15*time.Second
	}
	if c.ConnectTimeout < c.RequestTimeout {
		warnings = append(warnings, "connect_timeout should exceed request_timeout, raising it")
		c.ConnectTimeout = c.RequestTimeout + 15*time.Second
	}
	if c.DownloadIdleTimeout <= 0 {
		c.DownloadIdleTimeout = 60 * time.Second
	}
	if c.GlobalRunTimeout < 0 {
		warnings = append(warnings, "global_run_timeout cannot be negative, disabling it")
		c.GlobalRunTimeout = 0
	}

	// HTTP client settings
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}

	return warnings, nil
}
