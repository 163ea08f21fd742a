package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const (
	wikipediaIcon            = "https://wikipedia.org/static/favicon/wikipedia.ico"
	wikipediaDescriptionClip = 300
)

var wikipediaHost = regexp.MustCompile(`^[a-zA-Z]{2}\.wikipedia\.org$`)

// WikipediaResponse represents the response of the MediaWiki extracts query
type WikipediaResponse struct {
	Query *struct {
		Pages map[string]WikipediaPage `json:"pages"`
	} `json:"query"`
}

// WikipediaPage represents a single page of a MediaWiki query result
type WikipediaPage struct {
	PageID  int     `json:"pageid"`
	Title   string  `json:"title"`
	Extract string  `json:"extract"`
	Missing *string `json:"missing"`
}

// wikipediaExtractor summarizes articles through the MediaWiki API instead of
// scraping the page
type wikipediaExtractor struct{}

func (wikipediaExtractor) Name() string { return "wikipedia" }

func (wikipediaExtractor) Match(u *url.URL) bool {
	return wikipediaHost.MatchString(u.Hostname())
}

func (wikipediaExtractor) Extract(ctx context.Context, fc *fetchContext) (*siteResult, error) {
	lang := strings.ToLower(strings.Split(fc.url.Hostname(), ".")[0])
	title := wikipediaTitle(fc.url)
	if title == "" {
		return nil, fmt.Errorf("%w: no article title in %s", ErrNotFound, fc.url.Path)
	}

	endpoint := wikipediaEndpoint(fc.url.Scheme, lang, title)
	fc.logger.Debug("Querying Wikipedia API", "lang", lang, "title", title, "endpoint", endpoint)

	body, err := fc.fetcher.FetchText(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp WikipediaResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: Wikipedia response: %w", ErrParse, err)
	}
	if resp.Query == nil || len(resp.Query.Pages) == 0 {
		return nil, fmt.Errorf("%w: Wikipedia response has no pages", ErrParse)
	}

	page := firstWikipediaPage(resp.Query.Pages)
	if page.Missing != nil || page.Title == "" {
		return nil, fmt.Errorf("%w: Wikipedia article %q", ErrNotFound, title)
	}

	thumbnail := fmt.Sprintf("https://wikipedia.org/static/images/project-logos/%swiki.png", lang)
	icon := wikipediaIcon

	return &siteResult{Metadata: &Metadata{
		Title:       page.Title,
		Icon:        &icon,
		Description: optionalString(clip(page.Extract, wikipediaDescriptionClip)),
		Thumbnail:   &thumbnail,
		Player:      emptyPlayer(),
		Sitename:    "Wikipedia",
		URL:         fc.url.String(),
	}}, nil
}

// wikipediaTitle returns the article segment of /wiki/<title>, still escaped
func wikipediaTitle(u *url.URL) string {
	segments := strings.Split(u.EscapedPath(), "/")
	if len(segments) < 3 {
		return ""
	}
	return segments[2]
}

func wikipediaEndpoint(scheme, lang, escapedTitle string) string {
	if scheme != "http" {
		scheme = "https"
	}
	title, err := url.PathUnescape(escapedTitle)
	if err != nil {
		title = escapedTitle
	}
	query := url.Values{}
	query.Set("format", "json")
	query.Set("action", "query")
	query.Set("prop", "extracts")
	query.Set("exintro", "")
	query.Set("explaintext", "")
	query.Set("titles", title)
	return fmt.Sprintf("%s://%s.wikipedia.org/w/api.php?%s", scheme, lang, query.Encode())
}

// firstWikipediaPage picks the page with the lowest key so results are stable
func firstWikipediaPage(pages map[string]WikipediaPage) WikipediaPage {
	keys := make([]string, 0, len(pages))
	for k := range pages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return pages[keys[0]]
}
