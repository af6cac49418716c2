package entry

import (
	"context"
	"errors"
	"io"
)

// Iter is a pull iterator. Next returns io.EOF once the sequence is done.
type Iter[T any] interface {
	Next(ctx context.Context) (T, error)
}

// IterFunc adapts a function to Iter.
type IterFunc[T any] func(ctx context.Context) (T, error)

func (f IterFunc[T]) Next(ctx context.Context) (T, error) {
	return f(ctx)
}

// FromSlice iterates over items.
func FromSlice[T any](items []T) Iter[T] {
	i := 0
	return IterFunc[T](func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if i >= len(items) {
			return zero, io.EOF
		}
		i++
		return items[i-1], nil
	})
}

// Empty is an iterator with no items.
func Empty[T any]() Iter[T] {
	return FromSlice[T](nil)
}

// Collect drains it. Only use it where the sequence is known to be small.
func Collect[T any](ctx context.Context, it Iter[T]) ([]T, error) {
	var out []T
	for {
		v, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Map transforms each item of it with f.
func Map[T, U any](it Iter[T], f func(T) (U, error)) Iter[U] {
	return IterFunc[U](func(ctx context.Context) (U, error) {
		var zero U
		v, err := it.Next(ctx)
		if err != nil {
			return zero, err
		}
		return f(v)
	})
}

// Peeker wraps an iterator with one item of lookahead.
type Peeker[T any] struct {
	it   Iter[T]
	head T
	err  error
	full bool
}

func NewPeeker[T any](it Iter[T]) *Peeker[T] {
	return &Peeker[T]{it: it}
}

// Peek returns the next item without consuming it.
func (p *Peeker[T]) Peek(ctx context.Context) (T, error) {
	if !p.full {
		p.head, p.err = p.it.Next(ctx)
		p.full = true
	}
	return p.head, p.err
}

func (p *Peeker[T]) Next(ctx context.Context) (T, error) {
	v, err := p.Peek(ctx)
	if err == nil {
		p.full = false
	}
	return v, err
}
