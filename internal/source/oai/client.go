// Package oai implements the OAI-PMH ListRecords client used to harvest
// metadata from arXiv-style repositories. Pagination runs through the
// protocol's resumption tokens; every HTTP request, including token
// follow-ups, passes through the shared rate limiter.
package oai

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"arxiv_harvester/internal/domain"
	"arxiv_harvester/internal/ratelimit"
)

const dateLayout = "2006-01-02"

// Config holds OAI client configuration.
type Config struct {
	BaseURL          string
	MetadataPrefix   string
	Timeout          time.Duration
	MaxAttempts      int
	RetryAfter       time.Duration
	RetryStatusCodes []int
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	metadataPrefix string
	maxAttempts    int
	retryAfter     time.Duration
	retryStatus    map[int]bool
	limiter        *ratelimit.Limiter
	clock          ratelimit.Clock
	logger         *slog.Logger
}

func New(cfg Config, limiter *ratelimit.Limiter, clock ratelimit.Clock, logger *slog.Logger) *Client {
	if clock == nil {
		clock = ratelimit.NewClock()
	}
	retryStatus := make(map[int]bool, len(cfg.RetryStatusCodes))
	for _, code := range cfg.RetryStatusCodes {
		retryStatus[code] = true
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		metadataPrefix: cfg.MetadataPrefix,
		maxAttempts:    cfg.MaxAttempts,
		retryAfter:     cfg.RetryAfter,
		retryStatus:    retryStatus,
		limiter:        limiter,
		clock:          clock,
		logger:         logger.With("source", "oai"),
	}
}

// ListRecords starts a harvest for the window and returns an iterator over
// its raw records. Deleted records are skipped. A "noRecordsMatch"
// protocol error surfaces as domain.ErrNoRecordsMatch.
func (c *Client) ListRecords(ctx context.Context, w domain.FetchWindow) (domain.RecordIterator, error) {
	params := url.Values{}
	params.Set("verb", "ListRecords")
	params.Set("metadataPrefix", c.metadataPrefix)
	if w.SetSpec != "" {
		params.Set("set", w.SetSpec)
	}
	if !w.From.IsZero() {
		params.Set("from", w.From.Format(dateLayout))
	}
	if !w.Until.IsZero() {
		params.Set("until", w.Until.Format(dateLayout))
	}

	it := &recordIterator{client: c}
	if err := it.fetch(ctx, params); err != nil {
		return nil, err
	}
	return it, nil
}

type recordIterator struct {
	client *Client
	buf    []domain.RawRecord
	pos    int
	token  string
	done   bool
}

func (it *recordIterator) Next(ctx context.Context) (*domain.RawRecord, error) {
	for it.pos >= len(it.buf) {
		if it.done {
			return nil, io.EOF
		}
		params := url.Values{}
		params.Set("verb", "ListRecords")
		params.Set("resumptionToken", it.token)
		if err := it.fetch(ctx, params); err != nil {
			return nil, err
		}
	}

	r := it.buf[it.pos]
	it.pos++
	return &r, nil
}

func (it *recordIterator) fetch(ctx context.Context, params url.Values) error {
	env, err := it.client.request(ctx, params)
	if err != nil {
		return err
	}

	if env.Error != nil {
		if env.Error.Code == "noRecordsMatch" {
			return fmt.Errorf("%w: %s", domain.ErrNoRecordsMatch, env.Error.Message)
		}
		return fmt.Errorf("oai error %s: %s", env.Error.Code, env.Error.Message)
	}

	it.buf = it.buf[:0]
	it.pos = 0
	for _, rec := range env.ListRecords.Records {
		if rec.Header.Status == "deleted" {
			continue
		}
		it.buf = append(it.buf, toRaw(rec))
	}

	it.token = env.ListRecords.ResumptionToken.Value
	it.done = it.token == ""
	return nil
}

func (c *Client) request(ctx context.Context, params url.Values) (*envelope, error) {
	reqURL := c.baseURL + "?" + params.Encode()

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, retryWait, err := c.doRequest(ctx, reqURL)
		if err == nil {
			return env, nil
		}
		if retryWait == 0 || attempt >= c.maxAttempts {
			return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		c.logger.Warn("request throttled, retrying",
			"attempt", attempt,
			"wait", retryWait,
			"error", err,
		)
		if err := c.clock.Sleep(ctx, retryWait); err != nil {
			return nil, err
		}
	}
}

// doRequest performs one HTTP round trip. A non-zero retryWait marks the
// failure as retryable after that wait (the server's Retry-After when
// advertised, the configured default otherwise).
func (c *Client) doRequest(ctx context.Context, reqURL string) (env *envelope, retryWait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ArxivHarvester/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if c.retryStatus[resp.StatusCode] {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			wait = c.retryAfter
		}
		return nil, wait, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	env = &envelope{}
	if err := xml.NewDecoder(resp.Body).Decode(env); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	return env, 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func toRaw(rec record) domain.RawRecord {
	dc := rec.Metadata.DC
	return domain.RawRecord{
		Identifier: rec.Header.Identifier,
		Datestamp:  rec.Header.Datestamp,
		SetSpecs:   rec.Header.SetSpecs,
		Metadata: map[string][]string{
			"title":       dc.Title,
			"creator":     dc.Creator,
			"subject":     dc.Subject,
			"description": dc.Description,
			"date":        dc.Date,
			"type":        dc.Type,
			"identifier":  dc.Identifier,
		},
	}
}
