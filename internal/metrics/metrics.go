package metrics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run holds the counters of one ingestion run. A nil *Run ignores every
// call, so components can take it as an optional dependency.
type Run struct {
	mu sync.Mutex

	// Counters
	Requests      int64
	StatusCounts  map[int]int64 // 0 = transport error
	RowsFetched   int64
	DroppedNoURL  int64
	DroppedLang   int64
	RowsNew       int64
	RowsExisting  int64
	FilesTouched  int64
	ManifestFiles int64

	// Status
	Format    string
	StartedAt time.Time
	Duration  time.Duration
	LastError string
	IsHealthy bool
}

func New() *Run {
	return &Run{
		StatusCounts: make(map[int]int64),
		StartedAt:    time.Now(),
		IsHealthy:    true,
	}
}

func (m *Run) RecordRequest(status int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
	m.StatusCounts[status]++
}

func (m *Run) RecordFetch(format string, rows int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Format = format
	m.RowsFetched += int64(rows)
}

func (m *Run) RecordDrops(noURL, language int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DroppedNoURL += int64(noURL)
	m.DroppedLang += int64(language)
}

func (m *Run) RecordPartition(newRows, existingRows int, written bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RowsNew += int64(newRows)
	m.RowsExisting += int64(existingRows)
	if written {
		m.FilesTouched++
	}
}

func (m *Run) RecordManifest(files int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ManifestFiles = int64(files)
}

// Finish stamps the run duration and, when err is non-nil, marks it failed.
func (m *Run) Finish(err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duration = time.Since(m.StartedAt)
	if err != nil {
		m.LastError = err.Error()
		m.IsHealthy = false
	}
}

func (m *Run) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"requests":       m.Requests,
		"format":         m.Format,
		"rows_fetched":   m.RowsFetched,
		"dropped_no_url": m.DroppedNoURL,
		"dropped_lang":   m.DroppedLang,
		"rows_new":       m.RowsNew,
		"rows_existing":  m.RowsExisting,
		"files_touched":  m.FilesTouched,
		"manifest_files": m.ManifestFiles,
		"duration_ms":    m.Duration.Milliseconds(),
		"last_error":     m.LastError,
		"is_healthy":     m.IsHealthy,
		"started_at":     m.StartedAt.Format(time.RFC3339),
	}
}

// Registry exposes the run as Prometheus gauges, one sample per counter.
func (m *Run) Registry() (*prometheus.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := prometheus.NewRegistry()
	gauge := func(name, help string, v float64) error {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "newsgraph", Name: name, Help: help})
		g.Set(v)
		return reg.Register(g)
	}

	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "newsgraph",
		Name:      "last_run_rows",
		Help:      "Rows seen by the last ingestion run, by outcome.",
	}, []string{"outcome"})
	rows.WithLabelValues("fetched").Set(float64(m.RowsFetched))
	rows.WithLabelValues("dropped_no_url").Set(float64(m.DroppedNoURL))
	rows.WithLabelValues("dropped_language").Set(float64(m.DroppedLang))
	rows.WithLabelValues("new").Set(float64(m.RowsNew))
	rows.WithLabelValues("existing").Set(float64(m.RowsExisting))
	if err := reg.Register(rows); err != nil {
		return nil, err
	}

	requests := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "newsgraph",
		Name:      "last_run_requests",
		Help:      "HTTP requests made by the last run, by status code (0 = transport error).",
	}, []string{"status"})
	for code, n := range m.StatusCounts {
		requests.WithLabelValues(strconv.Itoa(code)).Set(float64(n))
	}
	if err := reg.Register(requests); err != nil {
		return nil, err
	}

	healthy := 0.0
	if m.IsHealthy {
		healthy = 1
	}
	for _, g := range []struct {
		name, help string
		v          float64
	}{
		{"last_run_files_touched", "Partition files written by the last run.", float64(m.FilesTouched)},
		{"last_run_manifest_files", "Entries in the manifest after the last run.", float64(m.ManifestFiles)},
		{"last_run_duration_seconds", "Wall time of the last run.", m.Duration.Seconds()},
		{"last_run_timestamp_seconds", "Start time of the last run.", float64(m.StartedAt.Unix())},
		{"last_run_success", "1 if the last run finished without error.", healthy},
	} {
		if err := gauge(g.name, g.help, g.v); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// WriteTextfile writes the run metrics for the node-exporter textfile
// collector. The file is replaced atomically.
func (m *Run) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	reg, err := m.Registry()
	if err != nil {
		return fmt.Errorf("building metrics registry: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
