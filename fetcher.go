package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"
)

const maxRedirects = 10

// FetchResult is a fully read, size-checked HTTP response
type FetchResult struct {
	URL           *url.URL
	StatusCode    int
	Header        http.Header
	ContentLength int64 // declared length, -1 when unknown
	Body          []byte
}

// Fetcher performs guarded HTTP requests for a single summary call.
// It owns its transport; Close releases it.
type Fetcher struct {
	client    *http.Client
	transport *http.Transport
	opts      FetchOptions
	logger    *slog.Logger
}

// newFetcher creates a per-call client whose every connection goes through the
// SSRF-checking dialer
func newFetcher(opts FetchOptions, resolver *SafeResolver, tlsConfig *tls.Config, logger *slog.Logger) *Fetcher {
	opts = opts.withDefaults()

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: nil, // never use environment proxies
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return resolver.DialContext(ctx, network, addr, dialer)
		},
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.TotalTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig.Clone()
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.TotalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				if isPrivateHostLiteral(req.URL.Hostname()) {
					return fmt.Errorf("%w: redirect to %s", ErrSSRFBlocked, req.URL.Host)
				}
				return nil
			},
		},
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// Close releases pooled connections
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// newRequest builds a request with the configured headers after the literal host check
func (f *Fetcher) newRequest(ctx context.Context, method, targetURL string) (*http.Request, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrTransport, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrTransport, parsed.Scheme)
	}
	if isPrivateHostLiteral(parsed.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, parsed.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}

	userAgent := f.opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	if f.opts.Lang != "" {
		req.Header.Set("Accept-Language", f.opts.Lang)
	}

	return req, nil
}

// Get issues a GET request and reads the body within the configured limits.
// Non-2xx responses are returned as results, not errors.
func (f *Fetcher) Get(ctx context.Context, targetURL string, header http.Header) (*FetchResult, error) {
	req, err := f.newRequest(ctx, http.MethodGet, targetURL)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	f.logger.Debug("Fetching URL", "url", targetURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if f.opts.ContentLengthRequired && resp.ContentLength < 0 {
		return nil, fmt.Errorf("%w: %s", ErrContentLengthMissing, targetURL)
	}
	limit := f.opts.ContentLengthLimit
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrContentLengthExceeded, resp.ContentLength, limit)
	}

	readLimit := limit
	if readLimit < math.MaxInt64 {
		readLimit++
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, readLimit))
	if err != nil {
		return nil, classifyError(err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrContentLengthExceeded, limit)
	}

	return &FetchResult{
		URL:           resp.Request.URL,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          body,
	}, nil
}

// FetchText fetches targetURL and returns its body decoded to UTF-8
func (f *Fetcher) FetchText(ctx context.Context, targetURL string) (string, error) {
	result, err := f.Get(ctx, targetURL, nil)
	if err != nil {
		return "", err
	}
	return result.Text()
}

// Text checks the status code and decodes the body to UTF-8
func (r *FetchResult) Text() (string, error) {
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HTTP %d %s", ErrTransport, r.StatusCode, http.StatusText(r.StatusCode))
	}
	return decodeBody(r.Body, r.Header.Get("Content-Type")), nil
}

// FetchHead reports whether a HEAD request for targetURL answers exactly 200
func (f *Fetcher) FetchHead(ctx context.Context, targetURL string) bool {
	req, err := f.newRequest(ctx, http.MethodHead, targetURL)
	if err != nil {
		f.logger.Debug("HEAD request rejected", "url", targetURL, "error", err)
		return false
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("HEAD request failed", "url", targetURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// decodeBody converts body to UTF-8 using the Content-Type header and meta tags
func decodeBody(body []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
