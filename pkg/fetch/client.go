package fetch

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/config"
)

// newTransport builds the shared transport. connectTimeout bounds how long an
// in-flight request may go without producing response headers before it is
// cancelled.
func newTransport(cfg config.HTTPClientConfig, connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		ResponseHeaderTimeout:  connectTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}
	return transport
}

// NewClient creates the HTTP client for metadata calls (listing, asset and
// submission fetches). requestTimeout is the overall per-request budget.
func NewClient(cfg config.HTTPClientConfig, requestTimeout, connectTimeout time.Duration, log *logrus.Logger) *http.Client {
	client := &http.Client{
		Timeout:   requestTimeout,
		Transport: newTransport(cfg, connectTimeout),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.Debugf("HTTP client initialized (request timeout %v, connect timeout %v)", requestTimeout, connectTimeout)
	return client
}

// NewDownloadClient creates the HTTP client for attachment streaming. It has
// no overall timeout: long transfers are bounded by the connect budget until
// headers arrive and by the inactivity watchdog afterwards.
func NewDownloadClient(cfg config.HTTPClientConfig, connectTimeout time.Duration, log *logrus.Logger) *http.Client {
	client := &http.Client{
		Transport: newTransport(cfg, connectTimeout),
	}
	log.Debugf("Download client initialized (connect timeout %v, no overall timeout)", connectTimeout)
	return client
}
