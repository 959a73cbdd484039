package loader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/leaplint/internal/testutil"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wait(t *testing.T, l *Load) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "load never settled")
	return err
}

func TestLoader_Success(t *testing.T) {
	var fetches, installs atomic.Int32
	ld := New(
		WithLogger(testutil.NewTestLogger(t)),
		WithFetcher(FetcherFunc(func(context.Context, string) ([]byte, error) {
			fetches.Add(1)
			return []byte("rules = []"), nil
		})),
		WithInstaller(func(b []byte) error {
			installs.Add(1)
			assert.Equal(t, "rules = []", string(b))
			return nil
		}),
	)

	l := ld.Load(context.Background(), "builtin:csslint", time.Second)
	require.NoError(t, wait(t, l))
	assert.Equal(t, "builtin:csslint", l.URL())
	assert.True(t, l.Settled())

	again := ld.Load(context.Background(), "builtin:csslint", time.Second)
	assert.Same(t, l, again, "same url shares one load")
	require.NoError(t, wait(t, again))

	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, int32(1), installs.Load())
}

func TestLoader_ConcurrentCallersShareFetch(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	ld := New(WithFetcher(FetcherFunc(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		<-release
		return nil, nil
	})))

	loads := make(chan *Load, 10)
	for i := 0; i < 10; i++ {
		go func() { loads <- ld.Load(context.Background(), "x", 0) }()
	}
	first := <-loads
	for i := 1; i < 10; i++ {
		assert.Same(t, first, <-loads)
	}
	close(release)

	require.NoError(t, wait(t, first))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestLoader_TimeoutSettlesOnce(t *testing.T) {
	release := make(chan struct{})
	var installs atomic.Int32
	ld := New(
		WithLogger(testutil.NewTestLogger(t)),
		WithFetcher(FetcherFunc(func(context.Context, string) ([]byte, error) {
			<-release // ignores cancellation, like a script tag that never fires
			return []byte("late"), nil
		})),
		WithInstaller(func([]byte) error {
			installs.Add(1)
			return nil
		}),
	)

	l := ld.Load(context.Background(), "https://cdn.example/csslint.star", 20*time.Millisecond)
	err := wait(t, l)

	var loadErr *core.EngineLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "timeout", loadErr.Reason)
	assert.ErrorIs(t, err, ErrTimeout)

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, l.Err(), ErrTimeout, "late success does not change the outcome")
	assert.Equal(t, int32(0), installs.Load(), "late bundle is not installed")
}

func TestLoader_Failures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		fetch   FetcherFunc
		install Installer
		reason  string
	}{
		{
			name:   "fetch error",
			fetch:  func(context.Context, string) ([]byte, error) { return nil, boom },
			reason: "fetch failed",
		},
		{
			name:    "install error",
			fetch:   func(context.Context, string) ([]byte, error) { return []byte("x"), nil },
			install: func([]byte) error { return boom },
			reason:  "install failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ld := New(WithFetcher(tt.fetch), WithInstaller(tt.install))
			err := wait(t, ld.Load(context.Background(), "u", time.Second))

			var loadErr *core.EngineLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.reason, loadErr.Reason)
			assert.Equal(t, "u", loadErr.URL)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestLoader_ContextCancel(t *testing.T) {
	ld := New(WithFetcher(FetcherFunc(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	l := ld.Load(ctx, "u", 0)
	cancel()

	err := wait(t, l)
	var loadErr *core.EngineLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "cancelled", loadErr.Reason)
}

func TestLoader_DistinctURLs(t *testing.T) {
	var fetches atomic.Int32
	ld := New(WithFetcher(FetcherFunc(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		return nil, nil
	})))

	a := ld.Load(context.Background(), "a", 0)
	b := ld.Load(context.Background(), "b", 0)
	assert.NotSame(t, a, b)
	require.NoError(t, wait(t, a))
	require.NoError(t, wait(t, b))
	assert.Equal(t, int32(2), fetches.Load())
}
