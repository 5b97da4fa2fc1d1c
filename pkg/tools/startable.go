package tools

import (
	"context"
	"sync"
)

// StartableToolSet wraps a ToolSet with single-flight start semantics.
// Concurrent callers block until the start attempt completes; if start
// fails, a future call retries.
type StartableToolSet struct {
	ToolSet

	mu      sync.Mutex
	started bool
}

// NewStartable wraps a ToolSet for lazy initialization.
func NewStartable(ts ToolSet) *StartableToolSet {
	return &StartableToolSet{ToolSet: ts}
}

// IsStarted returns whether the toolset has been successfully started.
func (s *StartableToolSet) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *StartableToolSet) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.ToolSet.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop stops the underlying toolset if it was started.
func (s *StartableToolSet) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	return s.ToolSet.Stop()
}

// Unwrap returns the underlying ToolSet.
func (s *StartableToolSet) Unwrap() ToolSet {
	return s.ToolSet
}

// As performs a type assertion on a ToolSet, unwrapping StartableToolSet
// if needed.
func As[T any](ts ToolSet) (T, bool) {
	if startable, ok := ts.(*StartableToolSet); ok {
		ts = startable.ToolSet
	}
	result, ok := ts.(T)
	return result, ok
}
