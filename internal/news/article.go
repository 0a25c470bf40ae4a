package news

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// Article is the canonical record stored in a day partition.
type Article struct {
	ID            string
	URL           string
	Title         *string
	PublishedAt   *time.Time // UTC
	Domain        *string
	Language      *string // raw upstream value
	SourceCountry *string
	SocialImage   *string
}

// ID derives the stable article id from a url. URLs that differ only in case
// or surrounding whitespace share an id.
func ID(url string) string {
	h := sha1.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(url))))
	return hex.EncodeToString(h.Sum(nil))
}

// Day is the UTC calendar date the article belongs to, or fallback's date
// when the publication time is unknown.
func (a Article) Day(fallback time.Time) string {
	if a.PublishedAt != nil {
		return a.PublishedAt.UTC().Format(time.DateOnly)
	}
	return fallback.UTC().Format(time.DateOnly)
}
