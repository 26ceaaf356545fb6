package mqtt

import (
	"sync"
	"time"
)

type eventKind int

const (
	evConnect eventKind = iota
	evLost
	evMessage
	evSubscribe
	evUnsubscribe
)

// event is something that happened on a paho goroutine. gen is the client
// generation the event belongs to.
type event struct {
	kind    eventKind
	gen     int
	err     error
	topic   string
	payload []byte
	time    time.Time
}

// mailbox hands events from paho goroutines to the reactor goroutine.
// ready holds a token whenever the mailbox is not empty.
type mailbox struct {
	mu     sync.Mutex
	events []event
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) post(e event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
