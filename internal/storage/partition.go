package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/deusflow/newsgraph/internal/logger"
	"github.com/deusflow/newsgraph/internal/news"
)

// PartitionDir is the directory under the output root holding day files.
const PartitionDir = "parquet"

const partitionExt = ".parquet"

// articleRow is the on-disk column layout of a partition.
type articleRow struct {
	ID            string  `parquet:"id"`
	URL           string  `parquet:"url"`
	Title         *string `parquet:"title,optional"`
	PublishedAt   *string `parquet:"published_at,optional"` // RFC 3339, UTC
	Domain        *string `parquet:"domain,optional"`
	Language      *string `parquet:"language,optional"`
	SourceCountry *string `parquet:"source_country,optional"`
	SocialImage   *string `parquet:"social_image,optional"`
}

func toRow(a news.Article) articleRow {
	row := articleRow{
		ID:            a.ID,
		URL:           a.URL,
		Title:         a.Title,
		Domain:        a.Domain,
		Language:      a.Language,
		SourceCountry: a.SourceCountry,
		SocialImage:   a.SocialImage,
	}
	if a.PublishedAt != nil {
		s := a.PublishedAt.UTC().Format(time.RFC3339Nano)
		row.PublishedAt = &s
	}
	return row
}

func (r articleRow) article() news.Article {
	a := news.Article{
		ID:            r.ID,
		URL:           r.URL,
		Title:         r.Title,
		Domain:        r.Domain,
		Language:      r.Language,
		SourceCountry: r.SourceCountry,
		SocialImage:   r.SocialImage,
	}
	if r.PublishedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *r.PublishedAt); err == nil {
			utc := t.UTC()
			a.PublishedAt = &utc
		}
	}
	return a
}

// DayResult reports what happened to one day partition.
type DayResult struct {
	Day      string
	Path     string
	New      int  // incoming rows appended
	Existing int  // incoming rows whose id was already stored
	Total    int  // rows in the partition after the write
	Written  bool // false when nothing new arrived and the file was left alone
	Added    []news.Article
}

// WriteResult aggregates the per-day outcomes of one batch.
type WriteResult struct {
	Days []DayResult
}

func (r *WriteResult) NewTotal() int {
	n := 0
	for _, d := range r.Days {
		n += d.New
	}
	return n
}

func (r *WriteResult) ExistingTotal() int {
	n := 0
	for _, d := range r.Days {
		n += d.Existing
	}
	return n
}

// Touched lists the partition files rewritten in this batch.
func (r *WriteResult) Touched() []string {
	var out []string
	for _, d := range r.Days {
		if d.Written {
			out = append(out, d.Path)
		}
	}
	return out
}

// Added returns every article appended in this batch.
func (r *WriteResult) Added() []news.Article {
	var out []news.Article
	for _, d := range r.Days {
		out = append(out, d.Added...)
	}
	return out
}

// PartitionWriter merges articles into one Parquet file per UTC day. It does
// no locking: a single writer per output root is assumed.
type PartitionWriter struct {
	root string
}

func NewPartitionWriter(root string) *PartitionWriter {
	return &PartitionWriter{root: root}
}

// Path is the partition file for day (YYYY-MM-DD).
func (w *PartitionWriter) Path(day string) string {
	return filepath.Join(w.root, PartitionDir, day[:4], day[5:7], day+partitionExt)
}

// Write groups articles by day and merges each group into its partition.
// Rows already stored keep their place and content; only unseen ids are
// appended. Days are processed in ascending order and a failure stops the
// batch without undoing days already written.
func (w *PartitionWriter) Write(articles []news.Article, now time.Time) (*WriteResult, error) {
	byDay := make(map[string][]news.Article)
	for _, a := range articles {
		day := a.Day(now)
		byDay[day] = append(byDay[day], a)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	res := &WriteResult{}
	for _, day := range days {
		dr, err := w.writeDay(day, byDay[day])
		if err != nil {
			return res, err
		}
		res.Days = append(res.Days, dr)
		logger.Debug("partition merged", "day", day, "new", dr.New, "existing", dr.Existing, "total", dr.Total, "written", dr.Written)
	}
	return res, nil
}

func (w *PartitionWriter) writeDay(day string, batch []news.Article) (DayResult, error) {
	path := w.Path(day)
	dr := DayResult{Day: day, Path: path}

	stored, err := readRows(path)
	if err != nil {
		return dr, err
	}

	seen := make(map[string]struct{}, len(stored)+len(batch))
	for _, r := range stored {
		seen[r.ID] = struct{}{}
	}

	rows := stored
	for _, a := range batch {
		if _, dup := seen[a.ID]; dup {
			dr.Existing++
			continue
		}
		seen[a.ID] = struct{}{}
		rows = append(rows, toRow(a))
		dr.Added = append(dr.Added, a)
		dr.New++
	}
	dr.Total = len(rows)

	if dr.New == 0 {
		return dr, nil
	}
	if err := writeRows(path, rows); err != nil {
		return dr, err
	}
	dr.Written = true
	return dr, nil
}

// ReadPartition loads every article stored in a partition file.
func ReadPartition(path string) ([]news.Article, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	out := make([]news.Article, len(rows))
	for i, r := range rows {
		out[i] = r.article()
	}
	return out, nil
}

// readRows returns nil, nil when the partition does not exist yet.
func readRows(path string) ([]articleRow, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat partition %s: %w", path, err)
	}
	rows, err := parquet.ReadFile[articleRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading partition %s: %w", path, err)
	}
	return rows, nil
}

// writeRows replaces path with rows via a temp file in the same directory.
func writeRows(path string, rows []articleRow) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating partition dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp partition: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := parquet.Write(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("encoding partition %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp partition: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing partition %s: %w", path, err)
	}
	return nil
}
