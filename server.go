package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const summaryCacheControl = "max-age=600, public"

// Server exposes the summarizer over HTTP and caches its answers in SQLite
type Server struct {
	summarizer *Summarizer
	db         *sql.DB
	config     *Config
	categories *CategoryMapper
	logger     *slog.Logger
}

// NewServer wires a Server. categories may be nil.
func NewServer(summarizer *Summarizer, db *sql.DB, config *Config, categories *CategoryMapper, logger *slog.Logger) *Server {
	return &Server{
		summarizer: summarizer,
		db:         db,
		config:     config,
		categories: categories,
		logger:     logger,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleSummary)
	mux.HandleFunc("GET /url", s.handleSummary)
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID)
	w.Header().Set("X-Request-Id", requestID)

	query := r.URL.Query()
	rawURL := query.Get("url")
	if rawURL == "" {
		logger.Debug("Rejecting request without url")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url parameter is required"})
		return
	}
	logger = logger.With("url", rawURL)

	opts, err := parseFetchOptions(query)
	if err != nil {
		logger.Debug("Rejecting malformed options", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if opts.UserAgent == "" {
		opts.UserAgent = s.config.UserAgent
	}

	key := cacheKey(rawURL, opts)
	cached, err := getCachedSummary(s.db, key)
	if err != nil {
		logger.Warn("Error getting cached summary", "error", err)
	}
	if cached != nil {
		logger.Debug("Serving cached summary")
		w.Header().Set("Cache-Control", summaryCacheControl)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	start := time.Now()
	metadata, err := s.summarizer.Summarize(r.Context(), rawURL, opts)
	if err != nil {
		status := statusForError(err)
		level := slog.LevelInfo
		if status == http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "Summary failed", "status", status, "error", err, "duration", time.Since(start))
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	logger.Info("Summarized", "title", metadata.Title, "duration", time.Since(start))

	if err := cacheSummary(s.db, key, metadata, s.config.cacheTTL); err != nil {
		logger.Warn("Failed to cache summary", "error", err)
	}

	w.Header().Set("Cache-Control", summaryCacheControl)
	writeJSON(w, http.StatusOK, metadata)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", uuid.NewString())

	summaries, err := getRecentSummaries(s.db, s.config.FeedSize)
	if err != nil {
		logger.Error("Failed to load recent summaries", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	atom, err := generateFeed(summaries, s.categories, fmt.Sprintf("%s://%s/feed", scheme, r.Host))
	if err != nil {
		logger.Error("Failed to generate feed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	_, _ = w.Write([]byte(atom))
}

// statusForError maps a Summarize failure onto an HTTP status
func statusForError(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// parseFetchOptions reads the scraping options from the query string.
// Timeouts are whole seconds.
func parseFetchOptions(query url.Values) (FetchOptions, error) {
	opts := FetchOptions{
		Lang:      query.Get("lang"),
		UserAgent: query.Get("userAgent"),
	}

	var err error
	if opts.ConnectTimeout, err = secondsParam(query, "responseTimeout"); err != nil {
		return opts, err
	}
	if opts.TotalTimeout, err = secondsParam(query, "operationTimeout"); err != nil {
		return opts, err
	}

	if v := query.Get("contentLengthLimit"); v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil || limit < 0 {
			return opts, fmt.Errorf("invalid contentLengthLimit %q", v)
		}
		opts.ContentLengthLimit = limit
	}

	if opts.ContentLengthRequired, err = boolParam(query, "contentLengthRequired"); err != nil {
		return opts, err
	}
	if opts.NoOEmbed, err = boolParam(query, "noOEmbed"); err != nil {
		return opts, err
	}

	return opts, nil
}

func secondsParam(query url.Values, name string) (time.Duration, error) {
	v := query.Get(name)
	if v == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return time.Duration(seconds) * time.Second, nil
}

func boolParam(query url.Values, name string) (bool, error) {
	switch strings.ToLower(query.Get(name)) {
	case "":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s %q", name, query.Get(name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// runCacheCleanup deletes expired summaries every interval until ctx is done
func runCacheCleanup(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleanupExpiredSummaries(db); err != nil {
				slog.Warn("Cache cleanup failed", "error", err)
			}
		}
	}
}
