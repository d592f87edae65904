package attachment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bidflow/pkg/domain"
)

// Resolver resolves a single reference.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.AttachmentRef) (Content, error)
}

// BatchDownloader resolves many references with bounded concurrency and a
// fixed spacing between starts, so a "download all" does not burst the
// backend.
type BatchDownloader struct {
	resolver    Resolver
	concurrency int
	interval    time.Duration
	logger      *zap.Logger
}

// NewBatchDownloader builds a downloader. concurrency below one is treated as
// one; a zero interval disables spacing.
func NewBatchDownloader(r Resolver, concurrency int, interval time.Duration, logger *zap.Logger) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchDownloader{resolver: r, concurrency: concurrency, interval: interval, logger: logger}
}

// DownloadAll resolves refs and returns the contents in input order. The
// first failure cancels the remaining downloads.
func (d *BatchDownloader) DownloadAll(ctx context.Context, refs []domain.AttachmentRef) ([]Content, error) {
	limit := rate.Inf
	if d.interval > 0 {
		limit = rate.Every(d.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	out := make([]Content, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			content, err := d.resolver.Resolve(gctx, ref)
			if err != nil {
				return fmt.Errorf("attachment %d (%s): %w", i, ref.Name, err)
			}
			out[i] = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("batch download aborted", zap.Int("requested", len(refs)), zap.Error(err))
		return nil, err
	}
	d.logger.Info("batch download complete", zap.Int("count", len(refs)))
	return out, nil
}
