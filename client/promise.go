package client

import (
	"context"
	"sync"
)

// promise is resolved or rejected exactly once, by whoever gets there first.
// Any number of goroutines may wait on it.
type promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

func (p *promise[T]) resolve(value T) {
	p.once.Do(func() {
		p.value = value
		close(p.done)
	})
}

func (p *promise[T]) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// wait blocks until the promise settles or ctx is done. Giving up on the
// wait does not cancel the work behind it.
func (p *promise[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err

	case <-ctx.Done():
		select {
		case <-p.done:
			return p.value, p.err
		default:
		}

		var zero T
		return zero, ctx.Err()
	}
}
