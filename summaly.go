package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// Summarizer turns URLs into link preview metadata. It holds no per-call state
// and is safe for concurrent use.
type Summarizer struct {
	resolver   *SafeResolver
	extractors []SiteExtractor
	tlsConfig  *tls.Config
	logger     *slog.Logger
}

// Option configures a Summarizer
type Option func(*summarizerConfig)

type summarizerConfig struct {
	resolver   HostResolver
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	extractors []SiteExtractor
	tlsConfig  *tls.Config
	logger     *slog.Logger
}

// WithLogger sets the logger used for the whole pipeline
func WithLogger(logger *slog.Logger) Option {
	return func(c *summarizerConfig) { c.logger = logger }
}

// WithResolver replaces the DNS resolver used for SSRF validation
func WithResolver(resolver HostResolver) Option {
	return func(c *summarizerConfig) { c.resolver = resolver }
}

// WithDialer replaces the function that connects to validated addresses
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *summarizerConfig) { c.dial = dial }
}

// WithTLSConfig sets the TLS configuration of the per-call transports
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *summarizerConfig) { c.tlsConfig = cfg }
}

// WithSiteExtractors replaces the ordered list of site extractors
func WithSiteExtractors(extractors ...SiteExtractor) Option {
	return func(c *summarizerConfig) { c.extractors = extractors }
}

// NewSummarizer creates a Summarizer with the default site extractors
func NewSummarizer(opts ...Option) *Summarizer {
	cfg := &summarizerConfig{
		logger:     slog.Default(),
		extractors: defaultSiteExtractors(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	resolver := NewSafeResolver(cfg.resolver, cfg.logger)
	resolver.dialer = cfg.dial

	return &Summarizer{
		resolver:   resolver,
		extractors: cfg.extractors,
		tlsConfig:  cfg.tlsConfig,
		logger:     cfg.logger,
	}
}

// pipelineState is a step of a single Summarize call
type pipelineState int

const (
	stateStart pipelineState = iota
	stateHostValidated
	stateSiteMatched
	stateGenericFallback
	stateFetched
	stateExtracted
	stateDone
	stateFailed
)

func (s pipelineState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateHostValidated:
		return "host_validated"
	case stateSiteMatched:
		return "site_matched"
	case stateGenericFallback:
		return "generic_fallback"
	case stateFetched:
		return "fetched"
	case stateExtracted:
		return "extracted"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// pipeline tracks the state of one call
type pipeline struct {
	state  pipelineState
	logger *slog.Logger
}

func (p *pipeline) to(next pipelineState, args ...any) {
	p.logger.Debug("Pipeline transition", append([]any{"from", p.state.String(), "to", next.String()}, args...)...)
	p.state = next
}

func (p *pipeline) fail(err error) error {
	p.to(stateFailed, "error", err)
	return err
}

// Summarize fetches rawURL and extracts its link preview metadata.
// Failures are one of the Err* values in errors.go, possibly wrapped.
func (s *Summarizer) Summarize(ctx context.Context, rawURL string, opts FetchOptions) (*Metadata, error) {
	opts = opts.withDefaults()
	logger := s.logger.With("url", rawURL)
	p := &pipeline{state: stateStart, logger: logger}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, p.fail(fmt.Errorf("%w: invalid URL: %w", ErrTransport, err))
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return nil, p.fail(fmt.Errorf("%w: unsupported scheme %q", ErrTransport, pageURL.Scheme))
	}

	host := pageURL.Hostname()
	if isPrivateHostLiteral(host) {
		return nil, p.fail(fmt.Errorf("%w: %s", ErrSSRFBlocked, host))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	if _, err := s.resolver.Resolve(ctx, host); err != nil {
		return nil, p.fail(classifyError(err))
	}
	p.to(stateHostValidated)

	fetcher := newFetcher(opts, s.resolver, s.tlsConfig, logger)
	defer fetcher.Close()

	fc := &fetchContext{url: pageURL, opts: opts, fetcher: fetcher, logger: logger}

	result, err := s.fetch(ctx, p, fc)
	if err != nil {
		return nil, p.fail(err)
	}
	p.to(stateFetched)

	if result.Metadata != nil {
		p.to(stateDone, "title", result.Metadata.Title)
		return result.Metadata, nil
	}

	data := extractPage(result.Document, pageURL)
	if data.Title == "" {
		return nil, p.fail(fmt.Errorf("%w: no title in %s", ErrNotFound, rawURL))
	}
	p.to(stateExtracted, "title", data.Title)

	metadata := data.toMetadata(rawURL)
	icon, player := s.enrich(ctx, fetcher, result, data.Favicon, pageURL, opts)
	metadata.Icon = icon
	metadata.Player = player

	p.to(stateDone)
	return metadata, nil
}

// fetch runs the first matching site extractor, or fetches the page generically
func (s *Summarizer) fetch(ctx context.Context, p *pipeline, fc *fetchContext) (*siteResult, error) {
	for _, extractor := range s.extractors {
		if !extractor.Match(fc.url) {
			continue
		}
		p.to(stateSiteMatched, "extractor", extractor.Name())
		result, err := extractor.Extract(ctx, fc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", extractor.Name(), err)
		}
		if result == nil || (result.Metadata == nil && result.Document == nil) {
			return nil, fmt.Errorf("%w: %s returned no result", ErrNotFound, extractor.Name())
		}
		return result, nil
	}

	p.to(stateGenericFallback)
	body, err := fc.fetcher.FetchText(ctx, fc.url.String())
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	return &siteResult{Document: doc}, nil
}

// enrich checks the favicon and resolves the oEmbed player. Both are optional:
// failures leave the field absent.
func (s *Summarizer) enrich(ctx context.Context, fetcher *Fetcher, result *siteResult, favicon string, pageURL *url.URL, opts FetchOptions) (*string, Player) {
	var icon *string
	player := emptyPlayer()
	if result.Player != nil {
		player = *result.Player
	}

	g, gctx := errgroup.WithContext(ctx)

	if favicon != "" {
		g.Go(func() error {
			if fetcher.FetchHead(gctx, favicon) {
				icon = &favicon
			}
			return nil
		})
	}

	if result.Player == nil && !opts.NoOEmbed {
		g.Go(func() error {
			resolved, err := resolveOEmbed(gctx, fetcher, result.Document, pageURL)
			if err != nil {
				level := slog.LevelDebug
				if errors.Is(err, ErrSSRFBlocked) {
					level = slog.LevelWarn
				}
				fetcher.logger.Log(gctx, level, "oEmbed resolution failed", "error", err)
				return nil
			}
			if resolved != nil {
				player = *resolved
			}
			return nil
		})
	}

	_ = g.Wait()
	return icon, player
}
