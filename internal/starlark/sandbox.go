package starlark

import (
	"context"
	"errors"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultMaxSteps bounds the computation a single rule evaluation may perform.
const DefaultMaxSteps uint64 = 1_000_000

// ErrLoadDisabled is returned when rule code calls load().
var ErrLoadDisabled = errors.New("load is not available to lint rules")

// Predeclared returns the only globals rule code can see.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

// newThread creates a sandboxed thread: no load, no print output and a bounded step budget.
func newThread(name string, maxSteps uint64) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
		Load: func(_ *starlark.Thread, _ string) (starlark.StringDict, error) {
			return nil, ErrLoadDisabled
		},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

// ThreadPool manages a pool of sandboxed Starlark threads.
// The engine draws one thread per rule invocation.
type ThreadPool struct {
	mu       sync.Mutex
	threads  []*starlark.Thread
	maxSize  int
	maxSteps uint64
}

// NewThreadPool creates a pool holding at most maxSize idle threads.
// Every thread handed out gets a fresh budget of maxSteps.
func NewThreadPool(maxSize int, maxSteps uint64) *ThreadPool {
	if maxSize <= 0 {
		maxSize = 10 // default pool size
	}
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &ThreadPool{
		threads:  make([]*starlark.Thread, 0, maxSize),
		maxSize:  maxSize,
		maxSteps: maxSteps,
	}
}

// Get retrieves a thread from the pool or creates a new one.
// The thread name is used for error reporting.
func (p *ThreadPool) Get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) > 0 {
		thread := p.threads[len(p.threads)-1]
		p.threads = p.threads[:len(p.threads)-1]
		thread.Name = name
		thread.Uncancel()
		// Step counts accumulate over a thread's life.
		thread.SetMaxExecutionSteps(thread.ExecutionSteps() + p.maxSteps)
		return thread
	}

	return newThread(name, p.maxSteps)
}

// Put returns a thread to the pool for reuse.
// If the pool is full, the thread is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		thread.Name = ""
		p.threads = append(p.threads, thread)
	}
}

// Size returns the current number of threads in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// Bind cancels thread when ctx ends. The returned stop func releases the watcher.
func Bind(ctx context.Context, thread *starlark.Thread) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}
