// Package retention purges aged analyses, conversations and images on a
// cron schedule. The sweeper is a lifecycle-managed service; with a zero
// retention window it registers but never runs.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/azure/blob"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

const defaultSchedule = "@hourly"

// Sweeper deletes records older than the retention window, children first so
// a failed pass never strands conversations without their analysis.
type Sweeper struct {
	images        storage.ImageStore
	analyses      storage.AnalysisStore
	conversations storage.ConversationStore
	blobs         blob.Store

	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// Option customises the sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron spec (default hourly).
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// NewSweeper constructs the sweeper. maxAge <= 0 disables sweeping.
func NewSweeper(images storage.ImageStore, analyses storage.AnalysisStore, conversations storage.ConversationStore, blobs blob.Store, maxAge time.Duration, log *logger.Logger, opts ...Option) *Sweeper {
	if log == nil {
		log = logger.NewDefault("retention")
	}
	s := &Sweeper{
		images:        images,
		analyses:      analyses,
		conversations: conversations,
		blobs:         blobs,
		maxAge:        maxAge,
		schedule:      defaultSchedule,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "retention-sweeper" }

// Enabled reports whether a retention window is configured.
func (s *Sweeper) Enabled() bool { return s.maxAge > 0 }

// Start schedules the sweep. It returns immediately; sweeps run on the cron
// goroutine and overlapping runs are skipped.
func (s *Sweeper) Start(context.Context) error {
	if !s.Enabled() {
		s.log.Info("retention window not configured, sweeper idle")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(cronPrinter{s.log}))))
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	s.cron = c

	s.log.WithField("schedule", s.schedule).
		WithField("max_age", s.maxAge.String()).
		Info("retention sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cron = nil
	return nil
}

// Sweep removes everything older than the retention window: conversations,
// then analyses, then images together with their blobs. An image whose blob
// cannot be deleted is kept so the next sweep retries it.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.maxAge)

	conversations, err := s.conversations.DeleteConversationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep conversations: %w", err)
	}
	analyses, err := s.analyses.DeleteAnalysesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep analyses: %w", err)
	}

	aged, err := s.images.ListImagesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list aged images: %w", err)
	}
	var images int64
	for _, img := range aged {
		if s.blobs != nil && img.BlobName != "" {
			if err := s.blobs.Delete(ctx, img.BlobName); err != nil && !errors.Is(err, blob.ErrNotFound) {
				s.log.WithError(err).WithField("image_id", img.ID).Warn("blob delete failed, image kept for next sweep")
				continue
			}
		}
		if err := s.images.DeleteImage(ctx, img.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).WithField("image_id", img.ID).Warn("image delete failed")
			continue
		}
		images++
	}

	if conversations+analyses+images > 0 {
		s.log.WithField("conversations", conversations).
			WithField("analyses", analyses).
			WithField("images", images).
			Info("retention sweep completed")
	}
	return nil
}

// cronPrinter adapts the service logger to the cron logging interface.
type cronPrinter struct{ log *logger.Logger }

func (p cronPrinter) Printf(format string, args ...interface{}) { p.log.Infof(format, args...) }
