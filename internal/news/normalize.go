package news

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// timestamp layouts seen across GDELT encodings
var publishedLayouts = []string{
	"20060102T150405Z",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102150405",
	time.RFC1123Z,
	time.RFC1123,
}

// DropStats counts entries discarded during normalization.
type DropStats struct {
	NoURL    int
	Language int
}

func (d DropStats) Total() int { return d.NoURL + d.Language }

// Normalizer maps raw entries to Articles.
type Normalizer struct {
	// EnglishOnly drops every entry whose language is not "english". The
	// upstream query is already restricted; this catches what slips through.
	EnglishOnly bool
}

// Normalize converts entries of the given format. Every entry is either kept
// (possibly with null fields) or dropped; none fails the batch.
func (n Normalizer) Normalize(format Format, entries []RawEntry) ([]Article, DropStats) {
	m := FieldMaps[format]
	var stats DropStats
	out := make([]Article, 0, len(entries))

	for _, e := range entries {
		url, ok := m.Value(e, FieldURL)
		if !ok {
			stats.NoURL++
			continue
		}

		a := Article{
			ID:            ID(url),
			URL:           url,
			Title:         optional(cleanTitle(value(m, e, FieldTitle))),
			Domain:        optional(value(m, e, FieldDomain)),
			Language:      optional(m.Raw(e, FieldLanguage)),
			SourceCountry: optional(value(m, e, FieldSourceCountry)),
			SocialImage:   optional(value(m, e, FieldSocialImage)),
		}
		if raw, ok := m.Value(e, FieldPublished); ok {
			a.PublishedAt = ParsePublished(raw)
		}

		if n.EnglishOnly && !IsEnglish(a.Language) {
			stats.Language++
			continue
		}
		out = append(out, a)
	}
	return out, stats
}

// IsEnglish is the post-filter predicate; a missing language fails it.
func IsEnglish(lang *string) bool {
	return lang != nil && strings.EqualFold(*lang, "english")
}

// ParsePublished returns the UTC instant for raw, or nil when no known layout
// matches.
func ParsePublished(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func value(m FieldMap, e RawEntry, f Field) string {
	v, _ := m.Value(e, f)
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// markupTag matches an opening or closing inline HTML tag at the start of a
// string. Anything else in angle brackets is title text.
var markupTag = regexp.MustCompile(`(?i)^</?(?:a|abbr|b|br|cite|code|div|em|font|i|mark|p|q|s|small|span|strong|sub|sup|u)\b[^<>]*>`)

// cleanTitle decodes entities and drops the inline markup some sources leave
// in their titles. A '<' that does not open a known tag is kept verbatim.
func cleanTitle(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '<' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if tag := markupTag.FindString(s[i:]); tag != "" {
			b.WriteString(tag)
			i += len(tag)
			continue
		}
		b.WriteString("&lt;")
		i++
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
