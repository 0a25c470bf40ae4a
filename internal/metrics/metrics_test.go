package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilRunIsNoop(t *testing.T) {
	var m *Run
	m.RecordRequest(200)
	m.RecordFetch("json", 3)
	m.RecordPartition(1, 2, true)
	m.Finish(errors.New("ignored"))
	if err := m.WriteTextfile("/nonexistent/path"); err != nil {
		t.Errorf("nil run should not write: %v", err)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordRequest(503)
	m.RecordRequest(200)
	m.RecordFetch("csv", 10)
	m.RecordDrops(1, 2)
	m.RecordPartition(3, 4, true)
	m.RecordPartition(0, 3, false)
	m.RecordManifest(5)
	m.Finish(nil)

	stats := m.GetStats()
	checks := map[string]int64{
		"requests":       2,
		"rows_fetched":   10,
		"dropped_no_url": 1,
		"dropped_lang":   2,
		"rows_new":       3,
		"rows_existing":  7,
		"files_touched":  1,
		"manifest_files": 5,
	}
	for k, want := range checks {
		if got := stats[k].(int64); got != want {
			t.Errorf("%s = %d, want %d", k, got, want)
		}
	}
	if stats["format"] != "csv" {
		t.Errorf("format = %v", stats["format"])
	}
	if !stats["is_healthy"].(bool) {
		t.Error("expected healthy run")
	}
}

func TestFinishWithError(t *testing.T) {
	m := New()
	m.Finish(errors.New("disk full"))
	stats := m.GetStats()
	if stats["is_healthy"].(bool) {
		t.Error("expected unhealthy run")
	}
	if stats["last_error"] != "disk full" {
		t.Errorf("last_error = %v", stats["last_error"])
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordRequest(429)
	m.RecordFetch("json", 7)
	m.RecordPartition(7, 0, true)
	m.Finish(nil)

	path := filepath.Join(t.TempDir(), "newsgraph.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`newsgraph_last_run_rows{outcome="new"} 7`,
		`newsgraph_last_run_requests{status="429"} 1`,
		`newsgraph_last_run_success 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}
