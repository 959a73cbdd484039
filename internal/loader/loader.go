// Package loader fetches the engine bundle. Each url is fetched at most once
// per Loader; every caller of Load observes the same outcome.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/leaplint/pkg/core"
)

// ErrTimeout is wrapped by the load error when the watchdog fires first.
var ErrTimeout = errors.New("timeout")

// Installer consumes the fetched bundle. An installer error fails the load.
type Installer func(bundle []byte) error

// Loader deduplicates loads by url.
type Loader struct {
	mu      sync.Mutex
	loads   map[string]*Load
	fetcher Fetcher
	install Installer
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithFetcher sets how urls are fetched. The default is DefaultFetcher(nil).
func WithFetcher(f Fetcher) Option {
	return func(l *Loader) {
		l.fetcher = f
	}
}

// WithInstaller sets the hook run on the fetched bytes.
func WithInstaller(fn Installer) Option {
	return func(l *Loader) {
		l.install = fn
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		loads:  make(map[string]*Load),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetcher == nil {
		l.fetcher = DefaultFetcher(nil)
	}
	return l
}

// Load starts fetching url, or returns the load already started for it.
// If neither success nor failure is reported within timeout, the load fails
// with ErrTimeout; results arriving after that are ignored. A zero timeout
// disables the watchdog. Cancelling ctx fails a load that has not settled.
func (ld *Loader) Load(ctx context.Context, url string, timeout time.Duration) *Load {
	ld.mu.Lock()
	if l, ok := ld.loads[url]; ok {
		ld.mu.Unlock()
		return l
	}
	l := &Load{url: url, done: make(chan struct{})}
	ld.loads[url] = l
	ld.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			if l.settle(&core.EngineLoadError{URL: url, Reason: "timeout", Err: ErrTimeout}) {
				ld.logger.Warn("engine load timed out", slog.String("url", url), slog.Duration("timeout", timeout))
			}
			cancel()
		})
		go func() {
			<-l.done
			timer.Stop()
		}()
	}

	ld.logger.Debug("loading engine bundle", slog.String("url", url))
	go ld.run(fetchCtx, cancel, l)
	return l
}

func (ld *Loader) run(ctx context.Context, cancel context.CancelFunc, l *Load) {
	defer cancel()

	data, err := ld.fetcher.Fetch(ctx, l.url)
	if err != nil {
		reason := "fetch failed"
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			reason = "cancelled"
		}
		if l.settle(&core.EngineLoadError{URL: l.url, Reason: reason, Err: err}) {
			ld.logger.Warn("engine load failed", slog.String("url", l.url), slog.String("error", err.Error()))
		}
		return
	}

	if l.Settled() {
		ld.logger.Debug("ignoring late engine bundle", slog.String("url", l.url))
		return
	}
	if ld.install != nil {
		if err := ld.install(data); err != nil {
			l.settle(&core.EngineLoadError{URL: l.url, Reason: "install failed", Err: err})
			ld.logger.Warn("engine bundle rejected", slog.String("url", l.url), slog.String("error", err.Error()))
			return
		}
	}
	if l.settle(nil) {
		ld.logger.Info("engine bundle loaded", slog.String("url", l.url), slog.Int("bytes", len(data)))
	}
}

// Load is the shared outcome of loading one url.
type Load struct {
	url  string
	once sync.Once
	done chan struct{}
	err  error
}

// URL returns the url being loaded.
func (l *Load) URL() string { return l.url }

// Done is closed once the load has succeeded or failed.
func (l *Load) Done() <-chan struct{} { return l.done }

// Settled reports whether the outcome is known.
func (l *Load) Settled() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Err returns nil if the bundle loaded, or a *core.EngineLoadError.
// It must only be called after Done is closed.
func (l *Load) Err() error { return l.err }

// Wait blocks until the load settles or ctx ends.
func (l *Load) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Load) settle(err error) bool {
	settled := false
	l.once.Do(func() {
		l.err = err
		close(l.done)
		settled = true
	})
	return settled
}
