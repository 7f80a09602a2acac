package watch

import (
	"context"
	"sync"
)

// Subscription is the handle for a live view. Unsubscribe releases it and
// may be called any number of times.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Start runs fn in its own goroutine until it returns or the subscription
// is released.
func Start(parent context.Context, fn func(ctx context.Context) error) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer cancel()
		err := fn(ctx)

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()

	return s
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended on its own; nil while running or
// after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
