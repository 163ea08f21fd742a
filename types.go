package main

import "time"

// FetchOptions is the per-call configuration for a summary request
type FetchOptions struct {
	UserAgent             string
	Lang                  string
	ConnectTimeout        time.Duration
	TotalTimeout          time.Duration
	ContentLengthLimit    int64 // bytes
	ContentLengthRequired bool
	NoOEmbed              bool
}

const (
	defaultConnectTimeout     = 10 * time.Second
	defaultTotalTimeout       = 10 * time.Second
	defaultContentLengthLimit = int64(1_000_000_000_000) // 100^6
	defaultUserAgent          = "summaly-go/1.0 (+https://github.com/lepinkainen/summaly)"
)

// DefaultFetchOptions returns the options used when a caller leaves fields unset
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		ConnectTimeout:     defaultConnectTimeout,
		TotalTimeout:       defaultTotalTimeout,
		ContentLengthLimit: defaultContentLengthLimit,
	}
}

// withDefaults fills zero-valued timeouts and limits
func (o FetchOptions) withDefaults() FetchOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = defaultTotalTimeout
	}
	if o.ContentLengthLimit <= 0 {
		o.ContentLengthLimit = defaultContentLengthLimit
	}
	return o
}

// Player describes a sanitized embeddable iframe. Absent values encode as null.
type Player struct {
	URL    *string  `json:"url"`
	Width  *int     `json:"width"`
	Height *int     `json:"height"`
	Allow  []string `json:"allow"`
}

func emptyPlayer() Player {
	return Player{Allow: []string{}}
}

// Metadata is the link preview returned for a URL
type Metadata struct {
	Title            string  `json:"title"`
	Icon             *string `json:"icon"`
	Description      *string `json:"description"`
	Thumbnail        *string `json:"thumbnail"`
	Player           Player  `json:"player"`
	Sitename         string  `json:"sitename"`
	Sensitive        bool    `json:"sensitive"`
	FediverseCreator *string `json:"fediverseCreator"`
	ActivityPub      *string `json:"activityPub"`
	URL              string  `json:"url"`
}

// oEmbedResponse holds the fields of an oEmbed document we care about
type oEmbedResponse struct {
	Version string `json:"version"`
	Type    string `json:"type"`
	HTML    string `json:"html"`
}

// SummaryCache represents a cached summary row in the database
type SummaryCache struct {
	ID        int
	CacheKey  string
	URL       string
	Title     string
	Body      []byte // serialized Metadata
	FetchedAt time.Time
	ExpiresAt time.Time
}

// optionalString returns nil for empty strings
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
