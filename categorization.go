package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// categorizePreview returns the feed categories of a summarized link
func categorizePreview(metadata *Metadata, categoryMapper *CategoryMapper) []string {
	var categories []string

	domain := ""
	if u, err := url.Parse(metadata.URL); err == nil {
		domain = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}

	if metadata.Sitename != "" {
		categories = append(categories, metadata.Sitename)
	} else if domain != "" {
		categories = append(categories, domain)
	}

	if domain != "" && categoryMapper != nil {
		if category := categoryMapper.GetCategoryForDomain(domain); category != "" {
			categories = append(categories, category)
		}
	}

	if metadata.Sensitive {
		categories = append(categories, "Sensitive")
	}
	if metadata.Player.URL != nil {
		categories = append(categories, "Player")
	}
	if metadata.FediverseCreator != nil || metadata.ActivityPub != nil {
		categories = append(categories, "Fediverse")
	}

	return categories
}

// calculateAge returns a human-readable time difference from the given time to now
func calculateAge(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Hour:
		minutes := int(diff.Minutes())
		if minutes < 1 {
			return "just now"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d days ago", days)
	default:
		weeks := int(diff.Hours() / (24 * 7))
		return fmt.Sprintf("%d weeks ago", weeks)
	}
}
