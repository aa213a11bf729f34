// Package buffer provides the in-process point-to-point queue a topic adapter
// fills and synchronous receivers drain.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
)

// Selector picks the messages a receive is interested in.
type Selector func(msg *message.Message) bool

// Queue is an ordered, unbounded queue. Each message is handed to exactly one
// receiver.
type Queue struct {
	mu     sync.Mutex
	items  []*message.Message
	notify chan struct{}
	closed bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{})}
}

// Send appends msg and wakes waiting receivers.
func (q *Queue) Send(msg *message.Message) error {
	if msg == nil {
		return fmt.Errorf("buffer: message is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return rberrors.ErrBufferClosed
	}
	q.items = append(q.items, msg)
	q.wake()
	return nil
}

// Receive returns the oldest message. It returns (nil, nil) when nothing
// arrived within timeout; a zero timeout checks once.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	return q.ReceiveSelect(ctx, nil, timeout)
}

// ReceiveSelect returns the oldest message accepted by selector, leaving the
// order of the others untouched. A nil selector accepts everything.
func (q *Queue) ReceiveSelect(ctx context.Context, selector Selector, timeout time.Duration) (*message.Message, error) {
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
	}

	for {
		msg, notify, err := q.take(selector)
		if msg != nil || err != nil {
			return msg, err
		}
		if timer == nil {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			msg, _, err := q.take(selector)
			return msg, err
		case <-notify:
		}
	}
}

func (q *Queue) take(selector Selector) (*message.Message, <-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, msg := range q.items {
		if selector != nil && !selector(msg) {
			continue
		}
		q.removeAt(i)
		return msg, nil, nil
	}
	if q.closed {
		return nil, nil, rberrors.ErrBufferClosed
	}
	return nil, q.notify, nil
}

// removeAt clears the vacated slot so the backing array does not keep a
// received message alive.
func (q *Queue) removeAt(i int) {
	if i == 0 {
		q.items[0] = nil
		q.items = q.items[1:]
		return
	}
	last := len(q.items) - 1
	copy(q.items[i:], q.items[i+1:])
	q.items[last] = nil
	q.items = q.items[:last]
}

// Len reports how many messages are queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further sends. Queued messages can still be received.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.wake()
	}
	return nil
}

func (q *Queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// MatchMetadata selects messages whose header key equals value.
func MatchMetadata(key, value string) Selector {
	return func(msg *message.Message) bool {
		return msg.Metadata.Get(key) == value
	}
}
