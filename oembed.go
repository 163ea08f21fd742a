package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPlayerHeight = 1024

var (
	// safePermissions are the only iframe permissions a player may request
	safePermissions = []string{
		"autoplay",
		"clipboard-write",
		"fullscreen",
		"encrypted-media",
		"picture-in-picture",
		"web-share",
		"accelerometer",
	}
	// ignoredPermissions are dropped silently before the safe-list check
	ignoredPermissions = []string{"gyroscope"}
)

// htmlFieldStart finds the opening quote of the "html" member of an oEmbed document
var htmlFieldStart = regexp.MustCompile(`"html"\s*:\s*"`)

// htmlFieldEnd matches what may follow the closing quote of a JSON string member
var htmlFieldEnd = regexp.MustCompile(`^\s*(,\s*"|})`)

// resolveOEmbed discovers the oEmbed link in doc and returns a sanitized player.
// A page without an oEmbed link yields (nil, nil).
func resolveOEmbed(ctx context.Context, fetcher *Fetcher, doc *goquery.Document, pageURL *url.URL) (*Player, error) {
	href, ok := doc.Find(`link[type="application/json+oembed"]`).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, nil
	}

	endpoint := resolveURL(pageURL, strings.TrimSpace(href))
	if endpoint == "" {
		return nil, fmt.Errorf("%w: invalid oEmbed link %q", ErrParse, href)
	}

	return fetchOEmbed(ctx, fetcher, endpoint)
}

// fetchOEmbed requests an oEmbed endpoint and turns the answer into a player
func fetchOEmbed(ctx context.Context, fetcher *Fetcher, endpoint string) (*Player, error) {
	body, err := fetcher.FetchText(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	oembed, err := decodeOEmbed(body)
	if err != nil {
		return nil, err
	}

	if oembed.Version != "1.0" || (oembed.Type != "rich" && oembed.Type != "video") {
		fetcher.logger.Debug("Ignoring oEmbed document", "endpoint", endpoint, "version", oembed.Version, "type", oembed.Type)
		return nil, nil
	}

	return sanitizeEmbed(oembed.HTML, fetcher.logger), nil
}

// decodeOEmbed parses an oEmbed document. Providers sometimes emit raw quotes
// inside the html member, so a failed decode is retried once after repairing it.
func decodeOEmbed(body string) (*oEmbedResponse, error) {
	var oembed oEmbedResponse
	err := json.Unmarshal([]byte(body), &oembed)
	if err == nil {
		return &oembed, nil
	}

	repaired, ok := repairOEmbedJSON(body)
	if !ok {
		return nil, fmt.Errorf("%w: oEmbed JSON: %w", ErrParse, err)
	}
	if err := json.Unmarshal([]byte(repaired), &oembed); err != nil {
		return nil, fmt.Errorf("%w: oEmbed JSON after repair: %w", ErrParse, err)
	}
	return &oembed, nil
}

// repairOEmbedJSON escapes unescaped double quotes inside the "html" string.
// The closing quote is the first one followed by another member or the end of
// the object.
func repairOEmbedJSON(body string) (string, bool) {
	loc := htmlFieldStart.FindStringIndex(body)
	if loc == nil {
		return "", false
	}
	start := loc[1]

	var sb strings.Builder
	sb.WriteString(body[:start])

	escaped := false
	for i := start; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			if htmlFieldEnd.MatchString(body[i+1:]) {
				sb.WriteString(body[i:])
				return sb.String(), true
			}
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}

	return "", false
}

// sanitizeEmbed validates an oEmbed html fragment and returns its iframe as a
// player, or nil when the fragment is ambiguous or asks for unsafe permissions
func sanitizeEmbed(fragment string, logger *slog.Logger) *Player {
	iframes := findIframes(fragment)
	if len(iframes) != 1 {
		logger.Debug("oEmbed html must contain exactly one iframe", "count", len(iframes))
		return nil
	}
	iframe := iframes[0]

	src := strings.Trim(strings.TrimSpace(attrValue(iframe, "src")), `\"`)
	parsed, err := url.Parse(src)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		logger.Debug("oEmbed iframe src is not https", "src", src)
		return nil
	}

	width := parseDimension(attrValue(iframe, "width"))
	height := parseDimension(attrValue(iframe, "height"))
	if height != nil && *height > maxPlayerHeight {
		clamped := maxPlayerHeight
		height = &clamped
	}

	allow := parsePermissions(attrValue(iframe, "allow"))
	if hasAttr(iframe, "allowfullscreen") && !slices.Contains(allow, "fullscreen") {
		allow = append(allow, "fullscreen")
	}

	for _, perm := range allow {
		if !slices.Contains(safePermissions, perm) {
			logger.Info("Non-safe iframe permission detected, skipping embed", "permission", perm, "src", src)
			return nil
		}
	}

	return &Player{
		URL:    &src,
		Width:  width,
		Height: height,
		Allow:  allow,
	}
}

// findIframes parses fragment in a body context and collects every iframe element
func findIframes(fragment string) []*html.Node {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil
	}

	var iframes []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Iframe {
			iframes = append(iframes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return iframes
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// parseDimension accepts a plain integer after trailing % and stray quotes are
// removed; anything else is treated as unset
func parseDimension(raw string) *int {
	value := strings.Trim(strings.TrimRight(strings.TrimSpace(raw), "%"), `\"`)
	if value == "" {
		return nil
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

// parsePermissions splits an iframe allow attribute, dropping empty and ignored tokens
func parsePermissions(raw string) []string {
	perms := []string{}
	for _, token := range strings.Split(raw, ";") {
		perm := strings.Trim(strings.TrimSpace(token), `\"`)
		if perm == "" || slices.Contains(ignoredPermissions, perm) || slices.Contains(perms, perm) {
			continue
		}
		perms = append(perms, perm)
	}
	return perms
}
