package main

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/feeds"
)

const feedDescriptionLength = 280

// generateFeed creates an Atom feed of recently summarized links
func generateFeed(summaries []SummaryCache, categoryMapper *CategoryMapper, selfLink string) (string, error) {
	slog.Debug("Generating feed", "itemCount", len(summaries))
	now := time.Now()

	feed := &feeds.Feed{
		Title:       "Recent link previews",
		Description: "Links recently summarized by summaly",
		Link:        &feeds.Link{Href: selfLink, Rel: "self", Type: "application/atom+xml"},
		Id:          "tag:summaly,2024:feed",
		Created:     now,
		Updated:     now,
	}

	seen := make(map[string]bool)
	for _, summary := range summaries {
		if seen[summary.URL] {
			continue
		}
		seen[summary.URL] = true

		var metadata Metadata
		if err := json.Unmarshal(summary.Body, &metadata); err != nil {
			slog.Warn("Skipping undecodable cached summary", "url", summary.URL, "error", err)
			continue
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Title:       metadata.Title,
			Link:        &feeds.Link{Href: metadata.URL, Rel: "alternate", Type: "text/html"},
			Id:          "tag:summaly:" + summary.CacheKey,
			Description: feedEntryHTML(&metadata, categorizePreview(&metadata, categoryMapper), summary.FetchedAt),
			Created:     summary.FetchedAt,
			Updated:     summary.FetchedAt,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return "", fmt.Errorf("failed to generate feed: %w", err)
	}

	slog.Debug("Feed generated successfully", "feedSize", len(atom))
	return atom, nil
}

// feedEntryHTML renders the preview card of one feed entry
func feedEntryHTML(metadata *Metadata, categories []string, fetchedAt time.Time) string {
	var b strings.Builder

	b.WriteString(`<div style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.5;">`)

	if len(categories) > 0 {
		b.WriteString(`<div style="margin-bottom: 8px;">`)
		for _, cat := range categories {
			fmt.Fprintf(&b, `<span style="display: inline-block; background: #e5e5e5; color: #666; padding: 2px 6px; border-radius: 12px; font-size: 12px; margin-right: 4px;">%s</span>`, html.EscapeString(cat))
		}
		b.WriteString(`</div>`)
	}

	if metadata.Description != nil {
		fmt.Fprintf(&b, `<p style="margin: 0 0 6px 0; color: #666;">%s</p>`, html.EscapeString(truncateString(*metadata.Description, feedDescriptionLength)))
	}
	if metadata.Thumbnail != nil {
		fmt.Fprintf(&b, `<img src="%s" alt="Preview image" style="max-width: 100%%; height: auto; border-radius: 4px;" loading="lazy">`, html.EscapeString(*metadata.Thumbnail))
	}

	fmt.Fprintf(&b, `<div style="margin-top: 8px; color: #828282;"><strong>%s</strong> • summarized %s</div>`, html.EscapeString(metadata.Sitename), calculateAge(fetchedAt))
	b.WriteString(`</div>`)

	return b.String()
}
