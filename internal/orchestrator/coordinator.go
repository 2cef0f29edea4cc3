package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vod-packager/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentTranscodes bounds how many assets transcode at once.
const DefaultMaxConcurrentTranscodes = 2

// Coordinator runs every format's job for an asset in parallel and joins
// their outcomes.
type Coordinator struct {
	store   *AssetStore
	jobs    []Job
	slots   *semaphore.Weighted
	log     *slog.Logger
	metrics *metrics.Metrics

	// base is cancelled by Close; running jobs are tied to it instead of to
	// the caller's context.
	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewCoordinator returns a Coordinator running jobs against assets from store.
// At most maxConcurrent assets are transcoded at the same time; further
// callers wait their turn. Metrics may be nil.
func NewCoordinator(store *AssetStore, jobs []Job, maxConcurrent int, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentTranscodes
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		jobs:    jobs,
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
		log:     log,
		metrics: m,
		base:    base,
		stop:    stop,
	}
}

// Transcode launches all jobs concurrently on up.RawPath, each writing to its
// own <outputRoot>/<format> directory, and waits for all of them whatever
// their results. A failing job never cancels its siblings, and their
// completed trees stay on disk.
//
// ctx only governs admission: once a slot is held the jobs run detached from
// its cancellation and stop only when Close is called. The returned error is
// non-nil only when the asset could not be admitted (ErrShuttingDown after
// Close); job failures are reported through the CombinedOutcome.
func (c *Coordinator) Transcode(ctx context.Context, up Upload) (CombinedOutcome, error) {
	combined := CombinedOutcome{AssetID: up.Asset.ID}

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return combined, fmt.Errorf("waiting for transcode slot: %w", err)
	}
	defer c.slots.Release(1)

	if !c.track() {
		return combined, ErrShuttingDown
	}
	defer c.inflight.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer context.AfterFunc(c.base, cancel)()
	defer cancel()

	if c.metrics != nil {
		c.metrics.TranscodeStarted()
		defer c.metrics.TranscodeFinished()
	}

	log := c.log.With(slog.String("asset_id", string(up.Asset.ID)))
	log.Info("transcode started", slog.Int("jobs", len(c.jobs)))

	outcomes := make([]Outcome, len(c.jobs))
	// Each goroutine writes only its own slot and always returns nil, so
	// Wait is a plain join.
	var g errgroup.Group
	for i, job := range c.jobs {
		g.Go(func() error {
			outcomes[i] = c.runOne(ctx, log, job, up)
			return nil
		})
	}
	_ = g.Wait()

	combined.Outcomes = outcomes
	if combined.OK() {
		log.Info("transcode finished")
	} else {
		log.Warn("transcode finished with failures",
			slog.String("failed", failedFormatsMessage(combined.Failed())),
			slog.String("error", combined.Err().Error()))
	}
	return combined, nil
}

func (c *Coordinator) runOne(ctx context.Context, log *slog.Logger, job Job, up Upload) Outcome {
	format := job.Format()
	start := time.Now()

	dir, err := c.store.FormatDir(up.Asset, format)
	if err != nil {
		err = &TranscodeError{Format: format, ExitInfo: "prepare output dir", Err: err}
	} else {
		err = job.Run(ctx, up.RawPath, dir)
	}

	o := Outcome{Format: format, Err: err, Duration: time.Since(start)}
	if c.metrics != nil {
		c.metrics.ObserveTranscode(string(format), o.OK(), o.Duration)
	}

	attrs := []any{
		slog.String("format", string(format)),
		slog.Int("duration_ms", int(o.Duration.Milliseconds())),
	}
	if err != nil {
		log.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		log.Info("job succeeded", attrs...)
	}
	return o
}

// track registers one in-flight transcode unless Close has been called.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight.Add(1)
	return true
}

// Close refuses new transcodes, cancels running ones (killing their engine
// processes) and waits for them to clean up, or until ctx is done.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transcodes: %w", ctx.Err())
	}
}
