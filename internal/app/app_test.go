package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/newsgraph/internal/config"
	"github.com/deusflow/newsgraph/internal/gdelt"
	"github.com/deusflow/newsgraph/internal/news"
	"github.com/deusflow/newsgraph/internal/storage"
)

const gdeltJSON = `{"articles":[
 {"url":"https://example.com/late","title":"Late &amp; night","seendate":"20240302T235900Z","domain":"example.com","language":"English","sourcecountry":"United States"},
 {"url":"https://example.com/early","title":"Early","seendate":"20240303T000100Z","domain":"example.com","language":"English","sourcecountry":""},
 {"url":"https://example.de/a","title":"Nachricht","seendate":"20240303T010000Z","domain":"example.de","language":"German"},
 {"url":"","title":"no link","seendate":"20240303T010000Z","language":"English"}
]}`

type fakeMirror struct {
	inserted []news.Article
	closed   int
	err      error
}

func (f *fakeMirror) Insert(ctx context.Context, articles []news.Article, now time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, articles...)
	return len(articles), nil
}

func (f *fakeMirror) Close() error {
	f.closed++
	return nil
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Endpoint = endpoint
	cfg.OutRoot = t.TempDir()
	cfg.JitterMin = 0
	cfg.JitterMax = 0
	return cfg
}

func testOptions(m Mirror) Options {
	return Options{
		Now:    func() time.Time { return time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC) },
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
		Mirror: m,
	}
}

func gdeltServer(t *testing.T, handler func(format string, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(r.URL.Query().Get("format"), w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunEndToEndIsIdempotent(t *testing.T) {
	srv := gdeltServer(t, func(format string, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(gdeltJSON))
	})
	cfg := testConfig(t, srv.URL)
	cfg.RequestInterval = 5 * time.Second
	mirror := &fakeMirror{}

	first, err := Run(context.Background(), cfg, testOptions(mirror))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Format != news.FormatJSON || first.Fetched != 4 {
		t.Errorf("format=%s fetched=%d", first.Format, first.Fetched)
	}
	if first.Kept != 2 || first.Dropped.NoURL != 1 || first.Dropped.Language != 1 || first.Dropped.Total() != 2 {
		t.Errorf("kept=%d dropped=%+v", first.Kept, first.Dropped)
	}
	if first.New != 2 || first.Existing != 0 || len(first.Touched) != 2 {
		t.Errorf("new=%d existing=%d touched=%v", first.New, first.Existing, first.Touched)
	}
	if len(mirror.inserted) != 2 || mirror.closed != 1 {
		t.Errorf("mirror got %d articles, closed %d times", len(mirror.inserted), mirror.closed)
	}

	wantManifest := []string{"parquet/2024/03/2024-03-02.parquet", "parquet/2024/03/2024-03-03.parquet"}
	if strings.Join(first.Manifest, ",") != strings.Join(wantManifest, ",") {
		t.Errorf("manifest = %v, want %v", first.Manifest, wantManifest)
	}

	late, err := storage.ReadPartition(filepath.Join(cfg.OutRoot, "parquet", "2024", "03", "2024-03-02.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(late) != 1 || *late[0].Title != "Late & night" || late[0].SourceCountry == nil {
		t.Errorf("2024-03-02 partition = %+v", late)
	}
	early, err := storage.ReadPartition(filepath.Join(cfg.OutRoot, "parquet", "2024", "03", "2024-03-03.parquet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(early) != 1 || early[0].SourceCountry != nil {
		t.Errorf("empty source country should be null: %+v", early)
	}

	second, err := Run(context.Background(), cfg, testOptions(mirror))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.New != 0 || second.Existing != first.Kept || len(second.Touched) != 0 {
		t.Errorf("second run new=%d existing=%d touched=%v", second.New, second.Existing, second.Touched)
	}
	if len(mirror.inserted) != 2 {
		t.Errorf("nothing new should reach the mirror, got %d", len(mirror.inserted))
	}
	if first.RunID == second.RunID {
		t.Error("run ids should differ between runs")
	}
}

func TestRunFallsBackToCSV(t *testing.T) {
	srv := gdeltServer(t, func(format string, w http.ResponseWriter) {
		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("URL,Date,Title,Domain,Language\nhttps://example.com/csv,20240301T120000Z,From CSV,example.com,english\n"))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>busy</html>"))
		}
	})
	cfg := testConfig(t, srv.URL)

	sum, err := Run(context.Background(), cfg, testOptions(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Format != news.FormatCSV || sum.New != 1 {
		t.Errorf("format=%s new=%d", sum.Format, sum.New)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutRoot, "parquet", "2024", "03", "2024-03-01.parquet")); err != nil {
		t.Errorf("csv partition missing: %v", err)
	}
}

func TestRunFailsWithoutUsableFormat(t *testing.T) {
	srv := gdeltServer(t, func(format string, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/plain")
	})
	cfg := testConfig(t, srv.URL)
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "newsgraph.prom")

	_, err := Run(context.Background(), cfg, testOptions(nil))
	if !errors.Is(err, gdelt.ErrNoUsableFormat) {
		t.Fatalf("expected ErrNoUsableFormat, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutRoot, storage.ManifestPath)); !os.IsNotExist(err) {
		t.Errorf("failed run should not write a manifest: %v", err)
	}

	prom, err := os.ReadFile(cfg.MetricsTextfile)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), "newsgraph_last_run_success 0") {
		t.Errorf("failed run not reported in metrics:\n%s", prom)
	}
}

func TestRunMirrorFailureStillBuildsManifest(t *testing.T) {
	srv := gdeltServer(t, func(format string, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(gdeltJSON))
	})
	cfg := testConfig(t, srv.URL)

	_, err := Run(context.Background(), cfg, testOptions(&fakeMirror{err: errors.New("db down")}))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected mirror error, got %v", err)
	}
	m, rerr := storage.ReadManifest(filepath.Join(cfg.OutRoot, storage.ManifestPath))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(m.Files) != 2 {
		t.Errorf("manifest files = %v", m.Files)
	}
}

func TestSummaryPrint(t *testing.T) {
	var buf bytes.Buffer
	(&Summary{Format: news.FormatJSON, Fetched: 3, Kept: 2, New: 2, Touched: []string{"a.parquet"}}).Print(&buf)
	out := buf.String()
	for _, want := range []string{"Fetched 3 rows (format=json)", "New rows: 2", "a.parquet"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
