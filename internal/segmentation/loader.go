package segmentation

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BuildFunc initializes a segmenter. It is called from a background goroutine
// and may take many seconds (model download, checkpoint load, warm-up).
type BuildFunc func(ctx context.Context) (Segmenter, error)

// Loader owns the model lifecycle: loading -> ready, one-way, at most once
// per process. Requests arriving before the transition fail fast with
// ErrModelNotReady instead of queuing behind the load.
type Loader struct {
	build          BuildFunc
	logger         *zap.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration

	segmenter atomic.Value // Segmenter, set exactly once
	ready     atomic.Bool
}

// NewLoader creates a loader for the given build function. Start must be
// called before the loader can become ready.
func NewLoader(build BuildFunc, logger *zap.Logger) *Loader {
	return &Loader{
		build:          build,
		logger:         logger.Named("segmentation_loader"),
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Start launches model initialization in the background. Build failures are
// retried with capped backoff until ctx is cancelled; the loader stays in the
// loading state the whole time.
func (l *Loader) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Loader) run(ctx context.Context) {
	backoff := l.initialBackoff
	for attempt := 1; ; attempt++ {
		start := time.Now()
		seg, err := l.build(ctx)
		if err == nil {
			l.segmenter.Store(seg)
			l.ready.Store(true)
			l.logger.Info("segmentation model ready",
				zap.Int("attempt", attempt),
				zap.Duration("load_time", time.Since(start)))
			return
		}

		if ctx.Err() != nil {
			l.logger.Warn("model load cancelled", zap.Error(ctx.Err()))
			return
		}
		l.logger.Error("model load failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if next := backoff * 2; next <= l.maxBackoff {
			backoff = next
		}
	}
}

// Ready reports whether the model finished loading.
func (l *Loader) Ready() bool {
	return l.ready.Load()
}

// Segmenter returns the shared read-only model handle, or ErrModelNotReady
// while loading is still in progress.
func (l *Loader) Segmenter() (Segmenter, error) {
	if !l.ready.Load() {
		return nil, ErrModelNotReady
	}
	return l.segmenter.Load().(Segmenter), nil
}
