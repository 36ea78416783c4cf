// Package portal implements the rate-limited HTTP client for the disclosure
// portal: metadata search with pagination, the issuer directory export, and
// document content download.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbound-research/filings-cli/internal/model"
)

const (
	exportCSVPath    = "/csa-party/service/exportCsv"
	issuersPageSize  = 10000
	maxBackoff       = 30 * time.Second
	documentsService = "searchDocuments"
	issuersService   = "reportingIssuers"
)

// Window is a date range over which filings are requested from the portal.
type Window struct {
	Start model.Date
	End   model.Date
}

func (w Window) String() string { return w.Start.String() + ".." + w.End.String() }

// Options configures the portal client. All values are validated by the
// config layer before a client is constructed.
type Options struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	PageSize    int
	MaxPages    int
}

// Client performs portal requests through the shared Gate with bounded
// retry and exponential backoff.
type Client struct {
	http *http.Client
	gate *Gate
	opts Options
}

// NewClient creates a portal client gated by g.
func NewClient(opts Options, g *Gate) *Client {
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate: g,
		opts: opts,
	}
}

// exportRequest is the JSON body of the portal's CSV export service.
type exportRequest struct {
	Service   string     `json:"service"`
	QueryArgs exportArgs `json:"queryArgs"`
}

type exportArgs struct {
	Locale   string `json:"_locale"`
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`
	Start    int    `json:"start"`
	PageSize int    `json:"pageSize"`
}

// Search fetches one page of filing metadata for the window. pageToken is ""
// for the first page; the returned token is non-empty while more pages may
// exist. The caller owns loop termination and the total-pages bound.
func (c *Client) Search(ctx context.Context, w Window, pageToken string) ([]model.RawFiling, string, error) {
	offset := 1
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", &PermanentFetchError{Err: eris.Wrapf(err, "portal: malformed page token %q", pageToken)}
		}
		offset = n
	}

	body := exportRequest{
		Service: documentsService,
		QueryArgs: exportArgs{
			Locale:   "en",
			FromDate: w.Start.String(),
			ToDate:   w.End.String(),
			Start:    offset,
			PageSize: c.opts.PageSize,
		},
	}

	data, err := c.post(ctx, body)
	if err != nil {
		return nil, "", err
	}

	var rows []model.RawFiling
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, "", &PermanentFetchError{Err: eris.Wrap(err, "portal: decode search CSV")}
	}

	// A full page means the portal may have more rows at the next offset.
	next := ""
	if len(rows) == c.opts.PageSize {
		next = strconv.Itoa(offset + c.opts.PageSize)
	}
	return rows, next, nil
}

// SearchAll drives Search across every page of the window, bounded by the
// configured page cap. Exceeding the cap is a PermanentFetchError: a
// non-terminating token sequence means the portal is misbehaving and the
// window marker must not advance over a partial metadata set.
func (c *Client) SearchAll(ctx context.Context, w Window) ([]model.RawFiling, error) {
	var all []model.RawFiling
	token := ""
	for page := 0; ; page++ {
		if page >= c.opts.MaxPages {
			return nil, &PermanentFetchError{
				Err: eris.Errorf("portal: pagination cap of %d pages exceeded for window %s", c.opts.MaxPages, w),
			}
		}

		rows, next, err := c.Search(ctx, w, token)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)

		if next == "" {
			return all, nil
		}
		token = next
	}
}

// FetchIssuers downloads the full reporting issuers directory export.
func (c *Client) FetchIssuers(ctx context.Context) ([]model.RawIssuer, error) {
	body := exportRequest{
		Service: issuersService,
		QueryArgs: exportArgs{
			Locale:   "en",
			Start:    1,
			PageSize: issuersPageSize,
		},
	}

	data, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rows []model.RawIssuer
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, &PermanentFetchError{Err: eris.Wrap(err, "portal: decode issuers CSV")}
	}
	return rows, nil
}

// DownloadContent fetches the document bytes at url. When declaredSize is
// positive and disagrees with the fetched length the content is flagged, not
// rejected; the mismatch marker travels downstream with the record.
func (c *Client) DownloadContent(ctx context.Context, url string, declaredSize int64) ([]byte, bool, error) {
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	mismatch := declaredSize > 0 && int64(len(data)) != declaredSize
	if mismatch {
		zap.L().Warn("portal: content length disagrees with declared size",
			zap.String("url", url),
			zap.Int64("declared", declaredSize),
			zap.Int("fetched", len(data)),
		)
	}
	return data, mismatch, nil
}

func (c *Client) post(ctx context.Context, body exportRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "portal: marshal export request")
	}
	return c.do(ctx, http.MethodPost, c.opts.BaseURL+exportCSVPath, payload)
}

// do issues one logical request with bounded retry. Each attempt is an
// explicit state transition (attempt count, next delay) rather than
// recursion, and every attempt passes through the gate first.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		data, status, err := c.attempt(ctx, method, url, payload)
		if err == nil {
			c.gate.OnSuccess()
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "portal: request cancelled")
		}

		if status == http.StatusTooManyRequests {
			c.gate.OnThrottle()
		}

		// 4xx other than 429 indicates a malformed request; retrying
		// cannot help.
		if status >= 400 && !isTransientStatus(status) {
			return nil, &PermanentFetchError{Status: status, Err: err}
		}

		lastErr = err
		lastStatus = status
		zap.L().Warn("portal: request failed, will retry",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	return nil, &TransientFetchError{Attempts: c.opts.MaxAttempts, LastStatus: lastStatus, Err: lastErr}
}

// attempt issues a single gated HTTP request. status is 0 for errors raised
// before a response arrived.
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "portal: build request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "portal: %s %s", method, url)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, eris.Errorf("portal: %s %s returned %d", method, url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrapf(err, "portal: read response from %s", url)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(float64(c.opts.BackoffBase) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "portal: backoff interrupted")
	case <-t.C:
		return nil
	}
}
