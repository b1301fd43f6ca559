package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
	"github.com/ThreatFlux/hybridrag/internal/retrieval"
)

// BuildFunc is the actual build work, injected so the builder can be
// tested without real indexes.
type BuildFunc func(ctx context.Context, progress *Progress) (retrieval.BuildSummary, error)

// BuilderConfig configures the background builder.
type BuilderConfig struct {
	DataDir string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Builder runs one index build at a time in a background goroutine.
// A file lock in the data directory serializes builds across
// processes; concurrent index mutation is unsafe by design, so a
// second build attempt is rejected rather than queued.
type Builder struct {
	cfg      BuilderConfig
	progress *Progress

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
	summary retrieval.BuildSummary
	err     error
}

// NewBuilder creates an idle builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		progress: NewProgress(),
	}
}

// Progress exposes the progress tracker.
func (b *Builder) Progress() *Progress {
	return b.progress
}

// IsRunning reports whether a build is in flight.
func (b *Builder) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start launches fn in the background and returns immediately. It
// fails fast when a build is already running in this process or the
// cross-process lock is held elsewhere.
func (b *Builder) Start(ctx context.Context, fn BuildFunc) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ragerrors.New(ragerrors.ErrCodeBuildLocked, "a build is already running", nil)
	}

	if err := os.MkdirAll(b.cfg.DataDir, 0o755); err != nil {
		b.mu.Unlock()
		return ragerrors.New(ragerrors.ErrCodeFileWrite, "create data directory", err)
	}

	lock := flock.New(filepath.Join(b.cfg.DataDir, "build.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		b.mu.Unlock()
		return ragerrors.New(ragerrors.ErrCodeFileWrite, "acquire build lock", err)
	}
	if !locked {
		b.mu.Unlock()
		return ragerrors.New(ragerrors.ErrCodeBuildLocked, "another process holds the build lock", nil)
	}

	b.running = true
	b.doneCh = make(chan struct{})
	b.err = nil
	b.summary = retrieval.BuildSummary{}
	b.mu.Unlock()

	go b.run(ctx, fn, lock)
	return nil
}

func (b *Builder) run(ctx context.Context, fn BuildFunc, lock *flock.Flock) {
	defer func() {
		if err := lock.Unlock(); err != nil {
			b.cfg.Logger.Warn("build_lock_release_failed", slog.String("error", err.Error()))
		}
		b.mu.Lock()
		b.running = false
		close(b.doneCh)
		b.mu.Unlock()
	}()

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	b.progress.SetBuilding(0)

	summary, err := fn(ctx, b.progress)

	b.mu.Lock()
	b.summary = summary
	b.err = err
	b.mu.Unlock()

	switch {
	case err == nil:
		b.progress.SetReady()
		b.cfg.Logger.Info("background_build_ready",
			slog.Int("chunks", summary.ChunksTotal),
			slog.Duration("duration", summary.Duration))
	case ragerrors.IsTimeout(err):
		// Partial progress stays; the next build resumes from it.
		b.progress.SetTimeout(err.Error())
		b.cfg.Logger.Warn("background_build_timeout",
			slog.String("error", err.Error()))
	default:
		b.progress.SetError(err.Error())
		b.cfg.Logger.Error("background_build_failed",
			slog.String("error", err.Error()))
	}
}

// Wait blocks until the current build finishes and returns its
// outcome. Calling Wait with no build in flight returns the last
// result immediately.
func (b *Builder) Wait() (retrieval.BuildSummary, error) {
	b.mu.Lock()
	done := b.doneCh
	b.mu.Unlock()

	if done != nil {
		<-done
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary, b.err
}
