package config

import "time"

// AppConfig holds the global application configuration.
type AppConfig struct {
	ServerURL     string `yaml:"server_url"`
	APIToken      string `yaml:"api_token,omitempty"` // Falls back to the ATTACHMENT_SYNC_TOKEN env var
	OutputBaseDir string `yaml:"output_base_dir"`

	// DestructiveImages selects permanent deletion over quarantine for files
	// the run decides to remove. Sweeper "none" hits are always quarantined.
	DestructiveImages bool `yaml:"destructive_images,omitempty"`

	LedgerDelimiter string `yaml:"ledger_delimiter,omitempty"` // Single character, default ","
	PageSize        int    `yaml:"page_size,omitempty"`        // Asset listing page size

	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`

	RequestTimeout      time.Duration `yaml:"request_timeout,omitempty"`       // Per-request budget for metadata calls
	ConnectTimeout      time.Duration `yaml:"connect_timeout,omitempty"`       // Cancels an in-flight request with no headers yet
	DownloadIdleTimeout time.Duration `yaml:"download_idle_timeout,omitempty"` // Streaming inactivity watchdog, resets per chunk
	GlobalRunTimeout    time.Duration `yaml:"global_run_timeout,omitempty"`    // 0 = no timeout

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP transport.
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}
