// Package memory is an in-process notification source for local development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("queue closed")

// handler matches queue.Handler.Handle.
type handler interface {
	Handle(ctx context.Context, body []byte) error
}

// Queue is a bounded channel of raw notification bodies.
type Queue struct {
	ch      chan []byte
	h       handler
	logger  *zap.Logger
	closeMu sync.RWMutex
	closed  bool

	retryDelay time.Duration
}

// NewQueue constructs a queue with the provided capacity that feeds h.
func NewQueue(capacity int, h handler, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:         make(chan []byte, capacity),
		h:          h,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Push adds a message body or returns when ctx ends.
func (q *Queue) Push(ctx context.Context, body []byte) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("push canceled: %w", ctx.Err())
	case q.ch <- body:
		return nil
	}
}

// Run hands messages to the handler until ctx ends or the queue is closed
// and drained. A message that fails transiently is retried after a delay.
func (q *Queue) Run(ctx context.Context) error {
	var retry []byte
	for {
		body := retry
		if body == nil {
			select {
			case <-ctx.Done():
				return nil
			case b, ok := <-q.ch:
				if !ok {
					return nil
				}
				body = b
			}
		}
		retry = nil
		if err := q.h.Handle(ctx, body); err != nil {
			q.logger.Warn("notification will be redelivered", zap.Error(err))
			retry = body
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.retryDelay):
			}
		}
	}
}

// Len reports buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages; Run drains what is buffered and returns.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
