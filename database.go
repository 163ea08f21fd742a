package main

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// initDB opens the SQLite database at dbPath and creates the cache schema
func initDB(dbPath string) (*sql.DB, error) {
	slog.Debug("Initializing database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath) // Use "sqlite" driver name
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createCacheTable := `
	CREATE TABLE IF NOT EXISTS summary_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cache_key TEXT NOT NULL UNIQUE,         -- sha256 of url + options
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		body BLOB NOT NULL,                     -- JSON encoded Metadata
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP
	)`
	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create summary_cache table: %w", err)
	}

	createIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_summary_expires ON summary_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_summary_fetched ON summary_cache(fetched_at)",
	}
	for _, indexSQL := range createIndexes {
		if _, err := db.Exec(indexSQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create summary_cache index: %w", err)
		}
	}
	slog.Debug("Database initialized successfully")

	return db, nil
}

// cacheKey identifies a summary by its URL and every option that changes the result
func cacheKey(rawURL string, opts FetchOptions) string {
	opts = opts.withDefaults()
	h := sha256.New()
	for _, part := range []string{
		rawURL,
		opts.Lang,
		opts.UserAgent,
		strconv.FormatInt(opts.ContentLengthLimit, 10),
		strconv.FormatBool(opts.ContentLengthRequired),
		strconv.FormatBool(opts.NoOEmbed),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// getCachedSummary returns the unexpired summary stored under key, or nil
func getCachedSummary(db *sql.DB, key string) (*Metadata, error) {
	query := `
		SELECT id, cache_key, url, title, body, fetched_at, expires_at
		FROM summary_cache
		WHERE cache_key = ? AND expires_at > ?`

	var cache SummaryCache
	err := db.QueryRow(query, key, time.Now()).Scan(
		&cache.ID,
		&cache.CacheKey,
		&cache.URL,
		&cache.Title,
		&cache.Body,
		&cache.FetchedAt,
		&cache.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query summary cache: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(cache.Body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode cached summary: %w", err)
	}

	slog.Debug("Found cached summary", "url", cache.URL, "title", cache.Title)
	return &metadata, nil
}

// cacheSummary stores metadata under key for ttl
func cacheSummary(db *sql.DB, key string, metadata *Metadata, ttl time.Duration) error {
	body, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO summary_cache (cache_key, url, title, body, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			body = excluded.body,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`

	if _, err := db.Exec(query, key, metadata.URL, metadata.Title, body, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}

	slog.Debug("Cached summary", "url", metadata.URL, "ttl", ttl)
	return nil
}

// cleanupExpiredSummaries removes expired cache entries
func cleanupExpiredSummaries(db *sql.DB) error {
	result, err := db.Exec("DELETE FROM summary_cache WHERE expires_at < ?", time.Now())
	if err != nil {
		return fmt.Errorf("failed to cleanup expired cache: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		slog.Debug("Cleaned up expired summaries", "count", rowsAffected)
	}

	return nil
}

// getRecentSummaries returns the most recently fetched summaries, newest first
func getRecentSummaries(db *sql.DB, limit int) ([]SummaryCache, error) {
	rows, err := db.Query(`
		SELECT id, cache_key, url, title, body, fetched_at, expires_at
		FROM summary_cache
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []SummaryCache
	for rows.Next() {
		var cache SummaryCache
		if err := rows.Scan(&cache.ID, &cache.CacheKey, &cache.URL, &cache.Title, &cache.Body, &cache.FetchedAt, &cache.ExpiresAt); err != nil {
			slog.Error("Error scanning row", "error", err)
			continue
		}
		summaries = append(summaries, cache)
	}

	return summaries, rows.Err()
}
