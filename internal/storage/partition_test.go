package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deusflow/newsgraph/internal/news"
)

func strPtr(s string) *string { return &s }

func article(url string, published *time.Time, title string) news.Article {
	return news.Article{
		ID:          news.ID(url),
		URL:         url,
		Title:       strPtr(title),
		PublishedAt: published,
		Language:    strPtr("English"),
	}
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

var fetchTime = time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

func TestWriteNewPartition(t *testing.T) {
	root := t.TempDir()
	w := NewPartitionWriter(root)

	batch := []news.Article{
		article("https://a.com/1", at("2024-03-02T23:59:00Z"), "late"),
		article("https://a.com/2", at("2024-03-03T00:01:00Z"), "early"),
		article("https://a.com/3", nil, "undated"),
	}
	res, err := w.Write(batch, fetchTime)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.NewTotal() != 3 || res.ExistingTotal() != 0 {
		t.Errorf("new=%d existing=%d, want 3/0", res.NewTotal(), res.ExistingTotal())
	}
	if len(res.Touched()) != 2 {
		t.Errorf("expected 2 touched files, got %v", res.Touched())
	}

	day2 := filepath.Join(root, "parquet", "2024", "03", "2024-03-02.parquet")
	got, err := ReadPartition(day2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://a.com/1" {
		t.Fatalf("2024-03-02 partition = %+v", got)
	}
	if got[0].PublishedAt == nil || !got[0].PublishedAt.Equal(*at("2024-03-02T23:59:00Z")) {
		t.Errorf("published_at round trip = %v", got[0].PublishedAt)
	}

	// the undated row lands on the fetch day together with the 00:01 row
	day3, err := ReadPartition(w.Path("2024-03-03"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(day3) != 2 {
		t.Errorf("expected 2 rows on 2024-03-03, got %d", len(day3))
	}
}

func TestWriteKeepsSubsecondPublished(t *testing.T) {
	root := t.TempDir()
	w := NewPartitionWriter(root)
	pub := at("2024-03-02T10:00:00.75Z")

	if _, err := w.Write([]news.Article{article("https://a.com/frac", pub, "frac")}, fetchTime); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadPartition(w.Path("2024-03-02"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].PublishedAt == nil || !got[0].PublishedAt.Equal(*pub) {
		t.Errorf("published_at = %v, want %v", got, pub)
	}
}

func TestMergeFirstWriteWins(t *testing.T) {
	root := t.TempDir()
	w := NewPartitionWriter(root)
	pub := at("2024-03-02T12:00:00Z")

	if _, err := w.Write([]news.Article{
		article("https://a.com/1", pub, "original"),
		article("https://a.com/2", pub, "second"),
	}, fetchTime); err != nil {
		t.Fatalf("first write: %v", err)
	}

	res, err := w.Write([]news.Article{
		article("HTTPS://A.COM/1 ", pub, "changed title"),
		article("https://a.com/3", pub, "third"),
	}, fetchTime)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if res.NewTotal() != 1 || res.ExistingTotal() != 1 {
		t.Errorf("new=%d existing=%d, want 1/1", res.NewTotal(), res.ExistingTotal())
	}

	got, err := ReadPartition(w.Path("2024-03-02"))
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d rows, got %d", len(wantOrder), len(got))
	}
	for i, u := range wantOrder {
		if got[i].URL != u {
			t.Errorf("row %d = %s, want %s", i, got[i].URL, u)
		}
	}
	if *got[0].Title != "original" {
		t.Errorf("stored row was overwritten: title %q", *got[0].Title)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w := NewPartitionWriter(root)
	batch := []news.Article{
		article("https://a.com/1", at("2024-03-01T08:00:00Z"), "one"),
		article("https://a.com/2", at("2024-03-02T08:00:00Z"), "two"),
		article("https://a.com/2", at("2024-03-02T08:00:00Z"), "two again"),
	}

	first, err := w.Write(batch, fetchTime)
	if err != nil {
		t.Fatal(err)
	}
	if first.NewTotal() != 2 || first.ExistingTotal() != 1 {
		t.Errorf("first run new=%d existing=%d, want 2/1", first.NewTotal(), first.ExistingTotal())
	}

	path := w.Path("2024-03-02")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	second, err := w.Write(batch, fetchTime)
	if err != nil {
		t.Fatal(err)
	}
	if second.NewTotal() != 0 {
		t.Errorf("second run should add nothing, got %d", second.NewTotal())
	}
	if second.ExistingTotal() != len(batch) {
		t.Errorf("second run existing=%d, want %d", second.ExistingTotal(), len(batch))
	}
	if len(second.Touched()) != 0 {
		t.Errorf("no-op run rewrote %v", second.Touched())
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("partition bytes changed on a no-op run")
	}
}

func TestWriteFailsOnCorruptPartition(t *testing.T) {
	root := t.TempDir()
	w := NewPartitionWriter(root)
	path := w.Path("2024-03-02")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not parquet"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := w.Write([]news.Article{article("https://a.com/1", at("2024-03-02T08:00:00Z"), "x")}, fetchTime)
	if err == nil {
		t.Fatal("expected error reading a corrupt partition")
	}
}

func TestPartitionPath(t *testing.T) {
	w := NewPartitionWriter("/data")
	want := filepath.Join("/data", "parquet", "2024", "03", "2024-03-02.parquet")
	if got := w.Path("2024-03-02"); got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}
}
