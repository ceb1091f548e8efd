package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/fetch"
	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// Client talks to the forms server. Metadata calls (listing, asset fetch,
// submission fetch) go through the bounded metadata fetcher; attachment
// streaming goes through the download fetcher, which has no overall timeout.
type Client struct {
	baseURL       string
	token         string
	metaFetcher   *fetch.Fetcher
	streamFetcher *fetch.Fetcher
	pageSize      int
	log           *logrus.Logger
}

// NewClient creates a forms-server client.
func NewClient(baseURL, token string, metaFetcher, streamFetcher *fetch.Fetcher, pageSize int, log *logrus.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		token:         token,
		metaFetcher:   metaFetcher,
		streamFetcher: streamFetcher,
		pageSize:      pageSize,
		log:           log,
	}
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrRequestCreation, rawURL, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getJSON fetches rawURL with retries and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return err
	}

	resp, err := c.metaFetcher.FetchWithRetry(req, ctx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from '%s': %w", rawURL, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding '%s': %w", utils.ErrMalformedResponse, rawURL, err)
	}
	return nil
}

// ListAssets returns all assets, following pagination until the server
// reports no next page.
func (c *Client) ListAssets(ctx context.Context) ([]models.Asset, error) {
	pageURL := fmt.Sprintf("%s/api/v2/assets.json?limit=%d", c.baseURL, c.pageSize)

	var assets []models.Asset
	for pageURL != "" {
		var page assetListPage
		if err := c.getJSON(ctx, pageURL, &page); err != nil {
			return nil, fmt.Errorf("listing assets: %w", err)
		}
		for _, s := range page.Results {
			if s.UID == "" {
				return nil, fmt.Errorf("%w: asset list entry missing 'uid'", utils.ErrMalformedResponse)
			}
			assets = append(assets, models.Asset{
				UID:              s.UID,
				Name:             s.Name,
				DeploymentActive: s.DeploymentActive,
			})
		}
		if page.Next == nil {
			break
		}
		pageURL = *page.Next
	}

	c.log.Debugf("Listed %d assets", len(assets))
	return assets, nil
}

// GetAsset fetches one asset's metadata including its image-field schema.
func (c *Client) GetAsset(ctx context.Context, uid string) (*models.Asset, error) {
	assetURL := fmt.Sprintf("%s/api/v2/assets/%s.json", c.baseURL, url.PathEscape(uid))

	var detail assetDetail
	if err := c.getJSON(ctx, assetURL, &detail); err != nil {
		return nil, fmt.Errorf("fetching asset '%s': %w", uid, err)
	}
	return detail.toAsset()
}

// GetSubmissions fetches all submissions of an asset, following pagination.
func (c *Client) GetSubmissions(ctx context.Context, assetUID string) ([]*models.Record, error) {
	pageURL := fmt.Sprintf("%s/api/v2/assets/%s/data.json?limit=%d", c.baseURL, url.PathEscape(assetUID), c.pageSize)

	var records []*models.Record
	for pageURL != "" {
		var page submissionPage
		if err := c.getJSON(ctx, pageURL, &page); err != nil {
			return nil, fmt.Errorf("fetching submissions of '%s': %w", assetUID, err)
		}
		for _, raw := range page.Results {
			rec, err := parseSubmission(assetUID, raw)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if page.Next == nil {
			break
		}
		pageURL = *page.Next
	}

	c.log.WithField("asset_uid", assetUID).Debugf("Fetched %d submissions", len(records))
	return records, nil
}

// Download is one open attachment stream. Cancel aborts the in-flight
// request; the caller hands it to the streaming watchdog. Close releases the
// body and the request context.
type Download struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	cancel        context.CancelFunc
}

// CancelFunc returns the function that aborts the underlying request.
func (d *Download) CancelFunc() context.CancelFunc { return d.cancel }

// Close drains and releases the stream.
func (d *Download) Close() {
	if d.Body != nil {
		io.Copy(io.Discard, d.Body)
		d.Body.Close()
	}
	d.cancel()
}

// DownloadAttachment opens a streaming fetch of one attachment. Retries
// cover the request/headers phase; once the stream is open, failures belong
// to the caller's copy loop.
func (c *Client) DownloadAttachment(ctx context.Context, downloadURL string) (*Download, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(reqCtx, downloadURL)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.streamFetcher.FetchWithRetry(req, reqCtx)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		cancel()
		return nil, err
	}

	return &Download{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		cancel:        cancel,
	}, nil
}
