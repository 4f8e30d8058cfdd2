// Package client holds the HTTP plumbing shared by the catalog fetcher, the
// download controller and the patch-notes fetcher.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v5"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	ChromePath string
}

// Client wraps a shared http.Client with the request conventions of this tool.
type Client struct {
	http   *http.Client
	stream *http.Client
	opts   Options
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Client{
		http: &http.Client{Timeout: opts.Timeout},
		// bodies of file downloads may take hours; only the headers are bounded
		stream: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: opts.Timeout,
			TLSHandshakeTimeout:   opts.Timeout,
		}},
		opts: opts,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	URL    string
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d %s from %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Retryable reports whether another attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// CDNChallenge reports whether the response looks like a CDN bot check.
func (e *StatusError) CDNChallenge() bool {
	if e.Code != http.StatusForbidden && e.Code != http.StatusServiceUnavailable {
		return false
	}
	return e.Header.Get("Cf-Ray") != "" || strings.EqualFold(e.Header.Get("Server"), "cloudflare")
}

// --- HTTP Helper Functions (kept private) ---

// createRequest creates an HTTP request carrying the browser-like headers
// file hosts expect.
func (c *Client) createRequest(ctx context.Context, method, urlStr string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("url", urlStr).Msg("Failed to create HTTP request object")
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept-Encoding", "br, gzip")
	return req, nil
}

// sendRequest sends an HTTP request and checks the status.
func (c *Client) sendRequest(req *http.Request) (*http.Response, error) {
	return c.send(c.http, req)
}

func (c *Client) send(hc *http.Client, req *http.Request) (*http.Response, error) {
	log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("Sending HTTP request")
	resp, err := hc.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readResponseBody(resp)
		preview := string(body[:min(len(body), 200)])
		log.Debug().Str("url", req.URL.String()).Int("status", resp.StatusCode).Str("body", preview).Msg("HTTP request returned non-OK status")
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String(), Header: resp.Header, Body: preview}
	}
	log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status", resp.StatusCode).Msg("HTTP request successful")
	return resp, nil
}

// readResponseBody reads, decodes and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp.Header.Get("Content-Encoding"), raw)
}

func decodeBody(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return raw, nil
}

// Get fetches url and returns the decoded body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := c.createRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return readResponseBody(resp)
}

// PostJSON sends v as a JSON body and decodes the JSON answer into out,
// when out is not nil.
func (c *Client) PostJSON(ctx context.Context, url string, v, out any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", url, err)
	}
	req, err := c.createRequest(ctx, http.MethodPost, url)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	body, err := readResponseBody(resp)
	if err != nil || out == nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Stream opens url for a raw read starting at offset. A 206 answer means
// the server honoured the range. The caller closes the body.
func (c *Client) Stream(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := c.createRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return c.send(c.stream, req)
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON from %s: %w", url, err)
	}
	return nil
}

// RetryPolicy bounds GetWithRetry.
type RetryPolicy struct {
	Attempts uint
	Timeout  time.Duration // per attempt
	Wait     time.Duration // between attempts; zero retries immediately
}

// CatalogRetry is the manifest policy: two attempts of seven seconds each.
var CatalogRetry = RetryPolicy{Attempts: 2, Timeout: 7 * time.Second}

// GetWithRetry fetches url under policy. Each failed attempt is logged as a
// transient network error; client errors other than 408/429 stop the loop.
func (c *Client) GetWithRetry(ctx context.Context, url string, policy RetryPolicy) ([]byte, error) {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if policy.Wait > 0 {
		b = backoff.NewConstantBackOff(policy.Wait)
	}
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		actx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		body, err := c.Get(actx, url)
		if err == nil {
			return body, nil
		}
		log.Warn().Err(err).Str("kind", string(clierr.NetworkTransient)).
			Str("url", url).Int("attempt", attempt).Msg("Request attempt failed")
		if se, ok := err.(*StatusError); ok && !se.Retryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.Attempts),
		backoff.WithMaxElapsedTime(0),
	)
	// the last attempt comes back still wrapped
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return nil, perm.Unwrap()
	}
	return body, err
}
