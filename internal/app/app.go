package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsgraph/internal/config"
	"github.com/deusflow/newsgraph/internal/gdelt"
	"github.com/deusflow/newsgraph/internal/logger"
	"github.com/deusflow/newsgraph/internal/metrics"
	"github.com/deusflow/newsgraph/internal/news"
	"github.com/deusflow/newsgraph/internal/ratelimit"
	"github.com/deusflow/newsgraph/internal/retry"
	"github.com/deusflow/newsgraph/internal/storage"
)

// Options carries the collaborators a run would otherwise build itself.
// Zero values mean production behaviour.
type Options struct {
	HTTPClient *http.Client
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
	Mirror     Mirror // overrides cfg.DatabaseURL when set
}

// Summary is what one ingestion run did.
type Summary struct {
	RunID    string
	Format   news.Format
	Fetched  int
	Dropped  news.DropStats
	Kept     int
	New      int
	Existing int
	Touched  []string
	Mirrored int
	Manifest []string
	Duration time.Duration
}

// Print writes the human summary shown at the end of a run.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Fetched %d rows (format=%s), kept %d (dropped: %d without url, %d non-English)\n",
		s.Fetched, s.Format, s.Kept, s.Dropped.NoURL, s.Dropped.Language)
	fmt.Fprintf(w, "New rows: %d, already stored: %d\n", s.New, s.Existing)
	if len(s.Touched) == 0 {
		fmt.Fprintln(w, "Updated: none")
	} else {
		fmt.Fprintf(w, "Updated %d file(s):\n", len(s.Touched))
		for _, p := range s.Touched {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	fmt.Fprintf(w, "Manifest: %d file(s)\n", len(s.Manifest))
}

// Run performs one fetch, normalize, partition and manifest cycle.
func Run(ctx context.Context, cfg *config.Config, opts Options) (sum *Summary, err error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	runID := uuid.NewString()
	log := logger.With("run_id", runID)
	m := metrics.New()
	sum = &Summary{RunID: runID}

	defer func() {
		m.Finish(err)
		sum.Duration = m.Duration
		log.Info("run stats", "stats", m.GetStats())
		if werr := m.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			log.Warn("metrics not written", "error", werr)
		}
	}()

	log.Info("run started", "query", cfg.SearchQuery(), "timespan", cfg.Timespan, "out", cfg.OutRoot)

	limiter := ratelimit.New(cfg.RequestInterval, opts.Sleep)
	client := gdelt.NewClient(gdelt.Options{
		Endpoint:   cfg.Endpoint,
		UserAgent:  cfg.UserAgent,
		Query:      cfg.SearchQuery(),
		Timespan:   cfg.Timespan,
		MaxRecords: cfg.MaxRecords,
		Timeout:    cfg.RequestTimeout,
		Retry: retry.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
			Multiplier:  cfg.RetryGrowth,
			MaxDelay:    cfg.RetryMaxDelay,
			Sleep:       opts.Sleep,
		},
		JitterMin:  cfg.JitterMin,
		JitterMax:  cfg.JitterMax,
		HTTPClient: opts.HTTPClient,
		Limiter:    limiter,
		Metrics:    m,
	})

	res, err := gdelt.NewNegotiator(client).Negotiate(ctx)
	log.Debug("request pacing", "stats", limiter.GetStats())
	if err != nil {
		return sum, fmt.Errorf("fetching articles: %w", err)
	}
	sum.Format = res.Format
	sum.Fetched = len(res.Entries)
	m.RecordFetch(string(res.Format), len(res.Entries))

	articles, drops := news.Normalizer{EnglishOnly: cfg.OnlyEnglish}.Normalize(res.Format, res.Entries)
	sum.Dropped = drops
	sum.Kept = len(articles)
	m.RecordDrops(drops.NoURL, drops.Language)
	log.Info("normalized", "format", res.Format, "kept", len(articles), "dropped", drops.Total(), "dropped_no_url", drops.NoURL, "dropped_language", drops.Language)

	fetchedAt := now().UTC()
	written, err := storage.NewPartitionWriter(cfg.OutRoot).Write(articles, fetchedAt)
	if written != nil {
		for _, d := range written.Days {
			m.RecordPartition(d.New, d.Existing, d.Written)
		}
		sum.New = written.NewTotal()
		sum.Existing = written.ExistingTotal()
		sum.Touched = written.Touched()
	}
	if err != nil {
		return sum, fmt.Errorf("writing partitions: %w", err)
	}

	// the manifest is rebuilt even when the mirror fails; partitions are the
	// source of truth
	var mirrorErr error
	if added := written.Added(); len(added) > 0 {
		sum.Mirrored, mirrorErr = mirrorArticles(ctx, cfg, opts, added, fetchedAt)
	}

	manifest, err := RebuildManifest(cfg)
	if err != nil {
		return sum, err
	}
	sum.Manifest = manifest.Files
	m.RecordManifest(len(manifest.Files))

	if mirrorErr != nil {
		return sum, fmt.Errorf("mirroring to postgres: %w", mirrorErr)
	}

	log.Info("run finished", "new", sum.New, "existing", sum.Existing, "touched", len(sum.Touched), "manifest_files", len(sum.Manifest))
	return sum, nil
}

// RebuildManifest recomputes manifests/index.json from the partitions on disk.
func RebuildManifest(cfg *config.Config) (*storage.Manifest, error) {
	manifest, err := storage.NewManifestBuilder(cfg.OutRoot, cfg.BaseURL, cfg.ManifestMaxFiles).Build()
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}
	return manifest, nil
}

func mirrorArticles(ctx context.Context, cfg *config.Config, opts Options, articles []news.Article, now time.Time) (int, error) {
	mirror := opts.Mirror
	if mirror == nil {
		if cfg.DatabaseURL == "" {
			return 0, nil
		}
		pm, err := storage.NewPostgresMirror(ctx, cfg.DatabaseURL)
		if err != nil {
			return 0, err
		}
		mirror = pm
	}

	n, err := mirror.Insert(ctx, articles, now)
	if cerr := mirror.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return n, err
	}
	logger.Debug("mirrored articles", "inserted", n, "offered", len(articles))
	return n, nil
}
