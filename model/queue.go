package model

import (
	"errors"
	"sync"
)

const defaultQueueCapacity = 128

var ErrQueueClosed = errors.New("action queue is closed")

// ActionQueue carries locally authored actions from the input side to
// the network dispatch loop. Bounded so a stalled network path caps
// memory instead of growing it; Enqueue blocks while the queue is full.
type ActionQueue struct {
	ch        chan Action
	done      chan struct{}
	closeOnce sync.Once
}

func NewActionQueue(capacity int) *ActionQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &ActionQueue{
		ch:   make(chan Action, capacity),
		done: make(chan struct{}),
	}
}

func (q *ActionQueue) Enqueue(a Action) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- a:
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// Dequeue blocks until an action is available. After Close it keeps
// draining whatever was enqueued and only then reports ErrQueueClosed,
// which consumers treat as the clean shutdown signal.
func (q *ActionQueue) Dequeue() (Action, error) {
	select {
	case a := <-q.ch:
		return a, nil
	case <-q.done:
		select {
		case a := <-q.ch:
			return a, nil
		default:
			return Action{}, ErrQueueClosed
		}
	}
}

func (q *ActionQueue) Len() int {
	return len(q.ch)
}

func (q *ActionQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
