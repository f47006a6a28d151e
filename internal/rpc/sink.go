package rpc

import (
	"context"
	"sync"
)

type outcome[T any] struct {
	value T
	err   error
}

// Sink is the one-shot completion handle for a single request. The first
// Complete or Fail wins; later calls report false and change nothing.
// Emitting never blocks, whether or not anyone is still waiting.
type Sink[T any] struct {
	once sync.Once
	ch   chan outcome[T]
}

func NewSink[T any]() *Sink[T] {
	return &Sink[T]{ch: make(chan outcome[T], 1)}
}

// Complete delivers a successful response.
func (s *Sink[T]) Complete(v T) bool {
	return s.emit(outcome[T]{value: v})
}

// Fail delivers an error response.
func (s *Sink[T]) Fail(err error) bool {
	return s.emit(outcome[T]{err: err})
}

func (s *Sink[T]) emit(o outcome[T]) bool {
	sent := false
	s.once.Do(func() {
		s.ch <- o
		sent = true
	})
	return sent
}

// Wait blocks until the sink is completed or ctx ends, in which case it
// returns ctx.Err().
func (s *Sink[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-s.ch:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
