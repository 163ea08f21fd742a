package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// fetchContext is what a site extractor gets to work with for one call
type fetchContext struct {
	url     *url.URL
	opts    FetchOptions
	fetcher *Fetcher
	logger  *slog.Logger
}

// siteResult is the outcome of a site extractor. Exactly one of Metadata or
// Document is set. A non-nil Player means oEmbed discovery is skipped.
type siteResult struct {
	Metadata *Metadata
	Document *goquery.Document
	Player   *Player
}

// SiteExtractor handles URLs of one site before the generic pipeline is tried.
// Match must not perform I/O.
type SiteExtractor interface {
	Name() string
	Match(u *url.URL) bool
	Extract(ctx context.Context, fc *fetchContext) (*siteResult, error)
}

// defaultSiteExtractors returns the site extractors in priority order
func defaultSiteExtractors() []SiteExtractor {
	return []SiteExtractor{
		skebExtractor{},
		branchioExtractor{},
		wikipediaExtractor{},
		youtubeExtractor{},
	}
}

// parseDocument turns fetched HTML into a goquery document
func parseDocument(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML: %w", ErrParse, err)
	}
	return doc, nil
}

// skebExtractor handles Skeb, which answers the first request with a 429 and a
// script that sets a request_key cookie
type skebExtractor struct{}

var (
	cookieAssignment = regexp.MustCompile(`document\.cookie\s*=\s*"([^"]+)"`)
	requestKeyValue  = regexp.MustCompile(`request_key=([^;]+)`)
)

// maxRetryAfter bounds how long a Retry-After header can make us wait
const maxRetryAfter = 5 * time.Second

func (skebExtractor) Name() string { return "skeb" }

func (skebExtractor) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "skeb.jp" || host == "ske.be"
}

func (skebExtractor) Extract(ctx context.Context, fc *fetchContext) (*siteResult, error) {
	target := fc.url.String()

	result, err := fc.fetcher.Get(ctx, target, nil)
	if err != nil {
		return nil, err
	}

	if result.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(result.Header.Get("Retry-After"), time.Now())
		fc.logger.Debug("Skeb challenge received", "url", target, "retryAfter", wait)

		requestKey := findRequestKey(string(result.Body))
		if requestKey == "" {
			return nil, fmt.Errorf("%w: skeb challenge without request_key", ErrTransport)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, classifyError(ctx.Err())
		}

		header := http.Header{}
		header.Set("Cookie", (&http.Cookie{Name: "request_key", Value: requestKey}).String())
		result, err = fc.fetcher.Get(ctx, target, header)
		if err != nil {
			return nil, err
		}
	}

	body, err := result.Text()
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	return &siteResult{Document: doc}, nil
}

// parseRetryAfter reads delta-seconds or an HTTP date, clamped to [0, maxRetryAfter]
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var wait time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		wait = t.Sub(now)
	}

	return min(max(wait, 0), maxRetryAfter)
}

// findRequestKey pulls the request_key cookie value out of the first script with inline text
func findRequestKey(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		script = s.Text()
		return strings.TrimSpace(script) == ""
	})
	cookie := cookieAssignment.FindStringSubmatch(script)
	if cookie == nil {
		return ""
	}
	key := requestKeyValue.FindStringSubmatch(cookie[1])
	if key == nil {
		return ""
	}
	return key[1]
}

// branchioExtractor handles Branch deep links, which redirect to app stores
// unless asked for the web page
type branchioExtractor struct{}

var branchHost = regexp.MustCompile(`^[a-zA-Z0-9]+\.app\.link$`)

func (branchioExtractor) Name() string { return "branchio" }

func (branchioExtractor) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return branchHost.MatchString(host) || host == "spotify.link"
}

func (branchioExtractor) Extract(ctx context.Context, fc *fetchContext) (*siteResult, error) {
	body, err := fc.fetcher.FetchText(ctx, webOnlyURL(fc.url))
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	return &siteResult{Document: doc}, nil
}

// webOnlyURL returns u with $web_only=true set in its query
func webOnlyURL(u *url.URL) string {
	rewritten := *u
	query := rewritten.Query()
	query.Set("$web_only", "true")
	rewritten.RawQuery = query.Encode()
	return rewritten.String()
}
