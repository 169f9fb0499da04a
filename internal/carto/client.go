// Package carto is a minimal client for the CARTO SQL API used by
// OpenDataPhilly. Queries are returned as CSV and decoded into rows.
package carto

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/logging"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrTransport wraps every failure to obtain a well-formed result set.
var ErrTransport = errors.New("source fetch failed")

// Config configures a Client.
type Config struct {
	BaseURL string
	// Filename is passed through as the CARTO "filename" parameter.
	Filename string
	// SkipFields is a comma-separated list of columns CARTO should omit.
	SkipFields string
	Timeout    time.Duration
	UserAgent  string
}

// Client issues SQL API requests. It never retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.SkipFields == "" {
		cfg.SkipFields = "cartodb_id"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Result is a decoded CSV result set.
type Result struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of a header column, or -1.
func (r *Result) Index(name string) int {
	for i, h := range r.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// URL builds the request URL for a query.
func (c *Client) URL(query string) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "csv")
	if c.cfg.Filename != "" {
		params.Set("filename", c.cfg.Filename)
	}
	params.Set("skipfields", c.cfg.SkipFields)
	return c.cfg.BaseURL + "?" + params.Encode()
}

// Query runs a SQL statement against the API and returns the full result set.
// The whole body is read before returning.
func (c *Client) Query(ctx context.Context, query string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(query), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/csv")

	start := time.Now()
	logging.Info().Str("provider", "carto").Str("url", c.cfg.BaseURL).Str("query", query).Msg("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Error().Str("provider", "carto").Err(err).Msg("fetch")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	result, err := decode(resp.Body)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("provider", "carto").
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int("results", len(result.Rows)).
		Msg("response")
	return result, nil
}

// decode parses a UTF-8 CSV payload, dropping a leading byte order mark.
func decode(body io.Reader) (*Result, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	r := csv.NewReader(transform.NewReader(body, dec))

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed csv: %v", ErrTransport, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty response, header row missing", ErrTransport)
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &Result{Header: header, Rows: records[1:]}, nil
}
