package gdelt

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/deusflow/newsgraph/internal/logger"
	"github.com/deusflow/newsgraph/internal/news"
)

// ErrNoUsableFormat means every encoding came back empty or undecodable.
var ErrNoUsableFormat = errors.New("gdelt: no response format produced usable rows")

const sampleBytes = 200

// Fetcher is the request side of negotiation; *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, format news.Format) (*Response, error)
}

// Attempt is the outcome of trying one encoding.
type Attempt struct {
	Format  news.Format
	Entries []news.RawEntry
	Usable  int    // entries carrying a url
	Reason  string // why the attempt produced nothing, if it did not
	Sample  string
}

// OK reports whether this attempt wins the negotiation.
func (a Attempt) OK() bool { return a.Usable > 0 }

// Result is the winning attempt plus everything tried before it.
type Result struct {
	Format   news.Format
	Entries  []news.RawEntry
	Attempts []Attempt
}

type Negotiator struct {
	fetcher Fetcher
	formats []news.Format
}

func NewNegotiator(f Fetcher) *Negotiator {
	return &Negotiator{fetcher: f, formats: news.Formats}
}

// Negotiate tries JSON, then JSON Feed, then CSV, and returns the first
// encoding that yields at least one usable entry. Transport errors abort
// immediately; decode problems only move on to the next encoding.
func (n *Negotiator) Negotiate(ctx context.Context) (*Result, error) {
	res := &Result{}
	var last Attempt

	for _, format := range n.formats {
		resp, err := n.fetcher.Fetch(ctx, format)
		if err != nil {
			return nil, err
		}

		last = Decode(resp)
		res.Attempts = append(res.Attempts, last)
		if last.OK() {
			logger.Info("gdelt format accepted", "format", format, "entries", len(last.Entries), "usable", last.Usable)
			res.Format = format
			res.Entries = last.Entries
			return res, nil
		}
		logger.Warn("gdelt format yielded no rows", "format", format, "reason", last.Reason)
	}

	reasons := make([]string, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Format, a.Reason))
	}
	sample := last.Sample
	if sample == "" {
		sample = "<empty body>"
	}
	return nil, fmt.Errorf("%w (%s); body sample: %q", ErrNoUsableFormat, strings.Join(reasons, "; "), sample)
}

// Decode turns a response into raw entries according to its format.
func Decode(resp *Response) Attempt {
	a := Attempt{Format: resp.Format, Sample: Sample(resp.Body)}

	var err error
	switch resp.Format {
	case news.FormatJSON:
		a.Entries, err = decodeJSON(resp)
	case news.FormatJSONFeed:
		a.Entries, err = decodeJSONFeed(resp.Body)
	case news.FormatCSV:
		a.Entries, err = decodeCSV(resp.Body)
	default:
		err = fmt.Errorf("unknown format %q", resp.Format)
	}
	if err != nil {
		a.Reason = err.Error()
		a.Entries = nil
		return a
	}

	a.Usable = news.CountUsable(resp.Format, a.Entries)
	if a.Usable == 0 {
		a.Reason = fmt.Sprintf("%d entries, none with a url", len(a.Entries))
	}
	return a
}

func isJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || mt == "text/json" || strings.HasSuffix(mt, "+json")
}

func decodeJSON(resp *Response) ([]news.RawEntry, error) {
	if !isJSONContentType(resp.ContentType) {
		return nil, fmt.Errorf("content type %q is not JSON", resp.ContentType)
	}
	var payload struct {
		Articles []map[string]any `json:"articles"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	entries := make([]news.RawEntry, 0, len(payload.Articles))
	for _, obj := range payload.Articles {
		e := make(news.RawEntry, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case nil:
			case string:
				e[news.Key(k)] = val
			default:
				e[news.Key(k)] = fmt.Sprint(val)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeJSONFeed(body []byte) ([]news.RawEntry, error) {
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON feed: %w", err)
	}
	if feed.FeedType != "json" {
		return nil, fmt.Errorf("expected a JSON feed, got %q", feed.FeedType)
	}

	entries := make([]news.RawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := item.Link
		if link == "" && strings.HasPrefix(item.GUID, "http") {
			link = item.GUID
		}
		entries = append(entries, news.RawEntry{
			"url":           link,
			"title":         item.Title,
			"datepublished": item.Published,
		})
	}
	return entries, nil
}

func decodeCSV(body []byte) ([]news.RawEntry, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty body")
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no CSV records")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = news.Key(h)
	}
	rows := records[1:]

	entries := make([]news.RawEntry, 0, len(rows))
	for _, row := range rows {
		e := make(news.RawEntry, len(news.CSVColumns))
		for _, c := range news.CSVColumns {
			e[c] = ""
		}
		for i, v := range row {
			if i < len(header) && header[i] != "" {
				e[header[i]] = v
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Sample is a short printable prefix of body for error messages.
func Sample(body []byte) string {
	if len(body) > sampleBytes {
		body = body[:sampleBytes]
	}
	s := strings.ToValidUTF8(string(body), string(utf8.RuneError))
	return strings.TrimSpace(s)
}
