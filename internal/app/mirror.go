package app

import (
	"context"
	"time"

	"github.com/deusflow/newsgraph/internal/news"
	"github.com/deusflow/newsgraph/internal/storage"
)

// Mirror receives the articles a run appended to the partitions.
type Mirror interface {
	Insert(ctx context.Context, articles []news.Article, now time.Time) (int, error)
	Close() error
}

var _ Mirror = (*storage.PostgresMirror)(nil)
