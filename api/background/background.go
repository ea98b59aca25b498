// Package background runs fire-and-forget work that must not block a
// request but should still finish before the process exits.
package background

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type Background struct {
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Go runs fn on its own goroutine, recovering panics so a background
// task can never take the server down.
func (b *Background) Go(fn func()) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.WithField("panic", r).Error("background task panicked")
			}
		}()

		fn()
	}()
}

// Shutdown waits for in-flight tasks, giving up when ctx expires.
func (b *Background) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
