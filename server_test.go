package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Server, *testSite) {
	t.Helper()
	site := newTestSite(t, handler)
	server := NewServer(site.summarizer(nil), setupTestDB(t), DefaultConfig(), nil, slog.Default())
	return server, site
}

func serve(server *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func summaryPath(path, pageURL string) string {
	return path + "?url=" + url.QueryEscape(pageURL)
}

func TestServer_Summary(t *testing.T) {
	server, site := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			writeHTML(w, `<html><head><meta property="og:title" content="Served"></head></html>`)
		default:
			http.NotFound(w, r)
		}
	})

	for _, path := range []string{"/", "/url"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(server, summaryPath(path, "http://example.com/page"))

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if rec.Header().Get("Cache-Control") != "max-age=600, public" {
				t.Errorf("Unexpected Cache-Control: %s", rec.Header().Get("Cache-Control"))
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Error("Expected a request id header")
			}

			var metadata Metadata
			if err := json.Unmarshal(rec.Body.Bytes(), &metadata); err != nil {
				t.Fatalf("Invalid JSON response: %v", err)
			}
			if metadata.Title != "Served" || metadata.URL != "http://example.com/page" {
				t.Errorf("Unexpected metadata: %+v", metadata)
			}
		})
	}

	pageRequests := 0
	for _, hit := range site.requests() {
		if hit == "GET example.com/page" {
			pageRequests++
		}
	}
	if pageRequests != 1 {
		t.Errorf("Expected the second request to be served from cache, got %d page fetches", pageRequests)
	}
}

func TestServer_Errors(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, `<html><head></head><body>untitled</body></html>`)
	})

	testCases := []struct {
		name   string
		target string
		status int
	}{
		{"missing url", "/", http.StatusBadRequest},
		{"bad timeout", summaryPath("/url", "http://example.com/") + "&responseTimeout=soon", http.StatusBadRequest},
		{"bad bool", summaryPath("/url", "http://example.com/") + "&contentLengthRequired=maybe", http.StatusBadRequest},
		{"negative limit", summaryPath("/url", "http://example.com/") + "&contentLengthLimit=-1", http.StatusBadRequest},
		{"no title", summaryPath("/url", "http://example.com/"), http.StatusNotFound},
		{"blocked host", summaryPath("/url", "http://127.0.0.1/"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(server, tc.target)
			if rec.Code != tc.status {
				t.Fatalf("Expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}

			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Errorf("Expected JSON error body, got %q", rec.Body.String())
			}
			if rec.Header().Get("Cache-Control") != "" {
				t.Error("Errors must not be cacheable")
			}
		})
	}
}

func TestServer_FeedAndHealth(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, `<html><head><title>Feed me</title><meta name="rating" content="adult"></head></html>`)
	})

	if rec := serve(server, summaryPath("/url", "http://example.com/post")); rec.Code != http.StatusOK {
		t.Fatalf("Summary failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := serve(server, "/feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for feed, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/atom+xml") {
		t.Errorf("Unexpected feed content type: %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Feed me") || !strings.Contains(rec.Body.String(), "Sensitive") {
		t.Errorf("Feed should list the summarized link: %s", rec.Body.String())
	}

	rec = serve(server, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	if rec := serve(server, "/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestParseFetchOptions(t *testing.T) {
	query, _ := url.ParseQuery("lang=ja&userAgent=Bot&responseTimeout=3&operationTimeout=20&contentLengthLimit=2048&contentLengthRequired=true&noOEmbed=1")

	opts, err := parseFetchOptions(query)
	if err != nil {
		t.Fatalf("parseFetchOptions failed: %v", err)
	}

	want := FetchOptions{
		Lang:                  "ja",
		UserAgent:             "Bot",
		ConnectTimeout:        3 * time.Second,
		TotalTimeout:          20 * time.Second,
		ContentLengthLimit:    2048,
		ContentLengthRequired: true,
		NoOEmbed:              true,
	}
	if opts != want {
		t.Errorf("Expected %+v, got %+v", want, opts)
	}

	empty, err := parseFetchOptions(url.Values{})
	if err != nil {
		t.Fatalf("parseFetchOptions failed for empty query: %v", err)
	}
	if empty != (FetchOptions{}) {
		t.Errorf("Expected zero options, got %+v", empty)
	}
}
