package main

import (
	"context"
	"net/url"
	"strings"
)

const youtubeOEmbedEndpoint = "https://www.youtube.com/oembed"

// youtubeExtractor asks YouTube's oEmbed provider for the player directly
// instead of relying on the page advertising it
type youtubeExtractor struct{}

func (youtubeExtractor) Name() string { return "youtube" }

func (youtubeExtractor) Match(u *url.URL) bool {
	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be":
		return true
	}
	return false
}

func (youtubeExtractor) Extract(ctx context.Context, fc *fetchContext) (*siteResult, error) {
	body, err := fc.fetcher.FetchText(ctx, fc.url.String())
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if fc.opts.NoOEmbed {
		return &siteResult{Document: doc}, nil
	}

	player := emptyPlayer()
	sanitized, err := fetchOEmbed(ctx, fc.fetcher, youtubeOEmbedURL(fc.url.String()))
	if err != nil {
		fc.logger.Debug("YouTube oEmbed lookup failed", "url", fc.url.String(), "error", err)
	} else if sanitized != nil {
		player = *sanitized
	}

	return &siteResult{Document: doc, Player: &player}, nil
}

func youtubeOEmbedURL(pageURL string) string {
	return youtubeOEmbedEndpoint + "?format=json&url=" + url.QueryEscape(pageURL)
}
