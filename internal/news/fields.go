package news

import "strings"

// Format is a GDELT response encoding, in negotiation order.
type Format string

const (
	FormatJSON     Format = "json"
	FormatJSONFeed Format = "jsonfeed"
	FormatCSV      Format = "csv"
)

// Formats lists the encodings in the order they are tried.
var Formats = []Format{FormatJSON, FormatJSONFeed, FormatCSV}

// RawEntry is one upstream record before normalization. Keys are normalized
// with Key so every encoding is looked up the same way.
type RawEntry map[string]string

// Key folds a field or column name: lowercase, no spaces, underscores or dashes.
func Key(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))
}

// Field is a canonical article field fed from upstream data.
type Field int

const (
	FieldURL Field = iota
	FieldTitle
	FieldPublished
	FieldDomain
	FieldLanguage
	FieldSourceCountry
	FieldSocialImage
)

// FieldMap lists, per canonical field, the raw keys to try in order. A field
// that is missing from the map is always null for that format.
type FieldMap map[Field][]string

// FieldMaps holds the mapping for every supported format.
var FieldMaps = map[Format]FieldMap{
	FormatJSON: {
		FieldURL:           {"url"},
		FieldTitle:         {"title"},
		FieldPublished:     {"seendate"},
		FieldDomain:        {"domain"},
		FieldLanguage:      {"language"},
		FieldSourceCountry: {"sourcecountry"},
		FieldSocialImage:   {"socialimage"},
	},
	// JSON Feed items carry no domain, language, country or image.
	FormatJSONFeed: {
		FieldURL:       {"url"},
		FieldTitle:     {"title"},
		FieldPublished: {"datepublished"},
	},
	FormatCSV: {
		FieldURL:           {"url"},
		FieldTitle:         {"title"},
		FieldPublished:     {"date", "seendate"},
		FieldDomain:        {"domain"},
		FieldLanguage:      {"language"},
		FieldSourceCountry: {"sourcecountry"},
		FieldSocialImage:   {"socialimage"},
	},
}

// CSVColumns are the columns the CSV encoding is expected to carry; absent
// ones are synthesized as empty (null) values.
var CSVColumns = []string{"url", "mobileurl", "date", "title", "socialimage", "domain", "language", "sourcecountry"}

// Value returns the first non-empty trimmed value for field.
func (m FieldMap) Value(e RawEntry, field Field) (string, bool) {
	for _, k := range m[field] {
		if v := strings.TrimSpace(e[k]); v != "" {
			return v, true
		}
	}
	return "", false
}

// Raw is Value without the trimming: it returns the upstream text of the
// first key whose value is not blank.
func (m FieldMap) Raw(e RawEntry, field Field) string {
	for _, k := range m[field] {
		if strings.TrimSpace(e[k]) != "" {
			return e[k]
		}
	}
	return ""
}

// Usable reports whether the entry has a url and so can become an Article.
func (m FieldMap) Usable(e RawEntry) bool {
	_, ok := m.Value(e, FieldURL)
	return ok
}

// CountUsable counts entries that would survive the url check.
func CountUsable(format Format, entries []RawEntry) int {
	m := FieldMaps[format]
	n := 0
	for _, e := range entries {
		if m.Usable(e) {
			n++
		}
	}
	return n
}
