// Package pipe runs one producer ahead of one consumer through a bounded
// buffer.
package pipe

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/yuya-takeyama/strict-backup/pkg/entry"
)

// DefaultSize is the buffer length used when none is given.
const DefaultSize = 32

type item[T any] struct {
	value T
	err   error
}

// Pipe is a prefetching iterator. A goroutine pulls from the source while
// the consumer works on earlier items; at most size items wait in between.
type Pipe[T any] struct {
	items  chan item[T]
	cancel context.CancelFunc
	once   sync.Once
	done   bool
}

// Prefetch starts pulling src. The returned pipe must be drained to io.EOF
// or closed.
func Prefetch[T any](ctx context.Context, src entry.Iter[T], size int) *Pipe[T] {
	if size <= 0 {
		size = DefaultSize
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipe[T]{
		items:  make(chan item[T], size),
		cancel: cancel,
	}
	go p.produce(ctx, src)
	return p
}

func (p *Pipe[T]) produce(ctx context.Context, src entry.Iter[T]) {
	defer close(p.items)
	for {
		v, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case p.items <- item[T]{value: v, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next implements entry.Iter.
func (p *Pipe[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if p.done {
		return zero, io.EOF
	}
	select {
	case it, ok := <-p.items:
		if !ok {
			p.done = true
			return zero, io.EOF
		}
		if it.err != nil {
			p.done = true
		}
		return it.value, it.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the producer and discards buffered items.
func (p *Pipe[T]) Close() {
	p.once.Do(func() {
		p.cancel()
		for range p.items {
		}
		p.done = true
	})
}
