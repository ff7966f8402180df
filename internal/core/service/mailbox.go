package service

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// Posting never blocks, so producers on other goroutines (read loops,
// negotiator callbacks, timers) cannot deadlock against the consumer.
type mailbox struct {
	name string

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newMailbox(name string) *mailbox {
	m := &mailbox{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

// post enqueues fn. It reports false once the mailbox has been stopped.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// stop refuses further posts; already queued work still runs.
func (m *mailbox) stop() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) wait() {
	<-m.done
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.wake
			continue
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.invoke(fn)
	}
}

func (m *mailbox) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("mailbox", m.name).Interface("panic", r).Msg("Recovered from panic in queued work")
		}
	}()
	fn()
}
