package main

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rtaLabel is the Restricted To Adults meta rating value
const rtaLabel = "RTA-5042-1996-1400-1577-RTA"

// pageData holds the fields extracted from a document before enrichment
type pageData struct {
	Title            string
	Description      string
	Thumbnail        string
	SiteName         string
	Favicon          string // absolute candidate, liveness not yet checked
	Sensitive        bool
	FediverseCreator string
	ActivityPub      string
}

// selector is one source in a fallback chain: a CSS selector and the attribute
// to read, or "" for the element text
type selector struct {
	query string
	attr  string
}

var (
	titleSources = []selector{
		{`meta[property="og:title"]`, "content"},
		{`meta[name="twitter:title"]`, "content"},
		{`meta[property="twitter:title"]`, "content"},
		{`title`, ""},
	}
	thumbnailSources = []selector{
		{`meta[property="og:image"]`, "content"},
		{`meta[name="twitter:image"]`, "content"},
		{`meta[property="twitter:image"]`, "content"},
		{`link[rel="image_src"]`, "href"},
		{`link[rel="apple-touch-icon"]`, "href"},
	}
	descriptionSources = []selector{
		{`meta[property="og:description"]`, "content"},
		{`meta[name="twitter:description"]`, "content"},
		{`meta[property="twitter:description"]`, "content"},
		{`meta[name="description"]`, "content"},
	}
	siteNameSources = []selector{
		{`meta[property="og:site_name"]`, "content"},
		{`meta[name="application-name"]`, "content"},
	}
	faviconSources = []selector{
		{`link[rel="shortcut icon"]`, "href"},
		{`link[rel="icon"]`, "href"},
	}
)

// firstValue walks the chain and returns the first non-empty value
func firstValue(doc *goquery.Document, chain []selector) string {
	for _, sel := range chain {
		var value string
		doc.Find(sel.query).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if sel.attr == "" {
				value = strings.TrimSpace(s.Text())
			} else {
				value = strings.TrimSpace(s.AttrOr(sel.attr, ""))
			}
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

// resolveURL makes ref absolute against base. Unparseable refs yield "".
func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// extractPage reads OpenGraph, Twitter card and plain meta tags from doc
func extractPage(doc *goquery.Document, pageURL *url.URL) pageData {
	data := pageData{
		Title:       firstValue(doc, titleSources),
		Description: firstValue(doc, descriptionSources),
		Thumbnail:   resolveURL(pageURL, firstValue(doc, thumbnailSources)),
		SiteName:    firstValue(doc, siteNameSources),
	}

	if data.SiteName == "" {
		data.SiteName = pageURL.Hostname()
	}

	favicon := firstValue(doc, faviconSources)
	if favicon == "" {
		favicon = "/favicon.ico"
	}
	data.Favicon = resolveURL(pageURL, favicon)

	data.Sensitive = isSensitive(doc)

	data.FediverseCreator = firstValue(doc, []selector{{`meta[name="fediverse:creator"]`, "content"}})

	activityPub := firstValue(doc, []selector{{`link[rel="alternate"][type="application/activity+json"]`, "href"}})
	data.ActivityPub = resolveURL(pageURL, activityPub)

	return data
}

// isSensitive checks the mixi content rating and the adult rating meta tags
func isSensitive(doc *goquery.Document) bool {
	mixi := firstValue(doc, []selector{{`meta[property="mixi:content-rating"]`, "content"}})
	if mixi == "1" {
		return true
	}

	rating := firstValue(doc, []selector{{`meta[name="rating"]`, "content"}})
	return strings.EqualFold(rating, "adult") || strings.EqualFold(rating, rtaLabel)
}

// toMetadata builds the final record. Icon and player are filled in by the caller.
func (p pageData) toMetadata(pageURL string) *Metadata {
	return &Metadata{
		Title:            p.Title,
		Description:      optionalString(p.Description),
		Thumbnail:        optionalString(p.Thumbnail),
		Player:           emptyPlayer(),
		Sitename:         p.SiteName,
		Sensitive:        p.Sensitive,
		FediverseCreator: optionalString(p.FediverseCreator),
		ActivityPub:      optionalString(p.ActivityPub),
		URL:              pageURL,
	}
}

// truncateString truncates a string to maxLen runes, ending with "..."
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}

// clip keeps the first length runes and appends "..." when text was longer
func clip(text string, length int) string {
	runes := []rune(text)
	if len(runes) <= length {
		return text
	}
	return string(runes[:length]) + "..."
}
