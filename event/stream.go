//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"context"
	"errors"
	"sync"
)

// DefaultBufferSize is the capacity of a stream created with a non-positive size.
const DefaultBufferSize = 256

// ErrStreamClosed is returned by Emit once the stream has been closed.
var ErrStreamClosed = errors.New("event: stream closed")

// Emitter receives events from a producer.
type Emitter interface {
	Emit(ctx context.Context, e *Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e *Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, e *Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, *Event) error { return nil })

// Stream is a bounded queue between the executor and one consumer. Emit
// blocks while the buffer is full, so a slow consumer slows the producer
// down instead of growing memory.
type Stream struct {
	ch   chan *Event
	done chan struct{}

	mu     sync.RWMutex
	once   sync.Once
	closed bool
}

// NewStream creates a stream holding at most size undelivered events.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Stream{
		ch:   make(chan *Event, size),
		done: make(chan struct{}),
	}
}

// Emit enqueues e, waiting for buffer space.
func (s *Stream) Emit(ctx context.Context, e *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	}
}

// Events returns the receive side of the stream. It is closed by Close.
func (s *Stream) Events() <-chan *Event {
	return s.ch
}

// Close stops accepting events. Blocked emitters are released first.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Multi fans one event out to several emitters in order, stopping at the
// first error.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, e *Event) error {
		for _, em := range emitters {
			if em == nil {
				continue
			}
			if err := em.Emit(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}
