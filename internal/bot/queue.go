package bot

import (
	"sync"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// messageQueue is a thread-safe FIFO of inbound messages. The inbox poller
// and the console enqueue; the message loop dequeues.
//
// The signal channel has a buffer of one so repeated enqueues coalesce into
// a single wake-up.
type messageQueue struct {
	mu       sync.Mutex
	messages []platform.InboxMessage
	closed   bool
	signal   chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		messages: make([]platform.InboxMessage, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message. It returns false once the queue is closed.
func (q *messageQueue) Enqueue(m platform.InboxMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.messages = append(q.messages, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (q *messageQueue) TryDequeue() (platform.InboxMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return platform.InboxMessage{}, false
	}
	m := q.messages[0]
	q.messages[0] = platform.InboxMessage{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return m, true
}

// Wait returns a channel that receives when messages may be available. It
// is closed by Close.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close stops accepting messages and wakes waiters.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
