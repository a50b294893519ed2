package models

import "time"

// CacheEntry stores recognized text for an upload digest.
type CacheEntry struct {
	Digest    string        `json:"digest"`
	Text      string        `json:"text"`
	Source    Source        `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
