package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config is the server configuration, read from a JSON file
type Config struct {
	Listen             string              `json:"listen"`
	Database           string              `json:"database"`
	UserAgent          string              `json:"user_agent"`
	CacheTTL           string              `json:"cache_ttl"`
	CleanupInterval    string              `json:"cleanup_interval"`
	FeedSize           int                 `json:"feed_size"`
	LogLevel           string              `json:"log_level"`
	CategoryDomains    map[string][]string `json:"category_domains"`
	CategoryDomainsURL string              `json:"category_domains_url"`

	cacheTTL        time.Duration
	cleanupInterval time.Duration
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":3000",
		Database:        "summaly.db",
		CacheTTL:        "600s",
		CleanupInterval: "10m",
		FeedSize:        30,
		LogLevel:        "info",
		cacheTTL:        600 * time.Second,
		cleanupInterval: 10 * time.Minute,
	}
}

// loadConfigFromFile loads configuration from a local file on top of the defaults
func loadConfigFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate parses the duration fields and rejects unusable values
func (c *Config) validate() error {
	ttl, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return fmt.Errorf("invalid cache_ttl %q: %w", c.CacheTTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	c.cacheTTL = ttl

	interval, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return fmt.Errorf("invalid cleanup_interval %q: %w", c.CleanupInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %s", c.CleanupInterval)
	}
	c.cleanupInterval = interval

	if c.FeedSize <= 0 {
		return fmt.Errorf("feed_size must be positive, got %d", c.FeedSize)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	return nil
}

// slogLevel maps log_level onto a slog level, defaulting to info
func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DomainConfig represents the configuration structure for domain mappings
type DomainConfig struct {
	CategoryDomains map[string][]string `json:"category_domains"`
}

// CategoryMapper provides methods for domain categorization
type CategoryMapper struct {
	domainToCategory map[string]string // reverse lookup for efficient searching
}

// loadDomainsFromURL loads domain mappings from a remote URL with timeout
func loadDomainsFromURL(url string) (*DomainConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch domain config: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var config DomainConfig
	if err := json.Unmarshal(body, &config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &config, nil
}

// LoadCategoryMapper builds the domain categorization with fallback priority:
// 1. category_domains from the config file
// 2. category_domains_url, if set
// If neither yields mappings, returns nil to disable domain categories
func LoadCategoryMapper(config *Config) *CategoryMapper {
	if len(config.CategoryDomains) > 0 {
		slog.Debug("Using domain categories from config file", "categories", len(config.CategoryDomains))
		return NewCategoryMapper(&DomainConfig{CategoryDomains: config.CategoryDomains})
	}

	if config.CategoryDomainsURL == "" {
		slog.Debug("No domain configuration available, domain categories disabled")
		return nil
	}

	slog.Debug("Loading domain categories from remote URL", "url", config.CategoryDomainsURL)
	domains, err := loadDomainsFromURL(config.CategoryDomainsURL)
	if err != nil {
		slog.Warn("Failed to load remote domain config, domain categories will be disabled", "error", err)
		return nil
	}
	slog.Info("Successfully loaded domain categories from remote URL", "url", config.CategoryDomainsURL)

	return NewCategoryMapper(domains)
}

// NewCategoryMapper creates a new CategoryMapper with reverse lookup optimization
func NewCategoryMapper(config *DomainConfig) *CategoryMapper {
	mapper := &CategoryMapper{
		domainToCategory: make(map[string]string),
	}

	for category, domains := range config.CategoryDomains {
		for _, domain := range domains {
			mapper.domainToCategory[strings.ToLower(domain)] = category
		}
	}

	slog.Debug("CategoryMapper initialized", "categories", len(config.CategoryDomains), "domain_mappings", len(mapper.domainToCategory))
	return mapper
}

// GetCategoryForDomain returns the category for a domain or one of its parents,
// or empty string if not found
func (cm *CategoryMapper) GetCategoryForDomain(domain string) string {
	domain = strings.ToLower(domain)

	for {
		if category, exists := cm.domainToCategory[domain]; exists {
			return category
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			return ""
		}
		domain = domain[dot+1:]
	}
}
