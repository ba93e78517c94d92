package blob

import (
	"context"
	"sync"
)

// Initializer runs a bucket check at most once successfully. Concurrent
// callers wait for the in-flight attempt; a failed attempt is forgotten so
// the next caller tries again.
type Initializer struct {
	mu     sync.Mutex
	done   bool
	ensure func(context.Context) error
}

func NewInitializer(ensure func(context.Context) error) *Initializer {
	return &Initializer{ensure: ensure}
}

// Ensure returns nil once the check has succeeded.
func (i *Initializer) Ensure(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.done {
		return nil
	}
	if err := i.ensure(ctx); err != nil {
		return err
	}
	i.done = true
	return nil
}

// Reset forgets a previous success.
func (i *Initializer) Reset() {
	i.mu.Lock()
	i.done = false
	i.mu.Unlock()
}
