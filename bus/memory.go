// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weft-foundation/weft/lib/clock"
)

// Memory is an in-process Connection. Every host sharing one Memory
// instance is on the same lattice. Deliveries run on their own
// goroutines, so subscribers observe the same unordered concurrent
// delivery a networked bus would give them.
type Memory struct {
	clock clock.Clock

	mu     sync.RWMutex
	subs   map[int64]*memorySub
	nextID int64
	closed bool
}

type memorySub struct {
	id      int64
	tokens  []string
	queue   string
	handler Handler
	bus     *Memory
}

// NewMemory creates an in-process bus. Pass clock.Real() in
// production wiring; tests can inject a fake to drive request
// timeouts deterministically.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{clock: clk, subs: make(map[int64]*memorySub)}
}

// Publish implements Connection.
func (m *Memory) Publish(subject string, data []byte) error {
	_, err := m.deliver(subject, "", data)
	return err
}

// PublishRequest implements Connection.
func (m *Memory) PublishRequest(subject, reply string, data []byte) error {
	_, err := m.deliver(subject, reply, data)
	return err
}

// Request implements Connection. The reply race is a select between
// the inbox channel and the clock's timer; the loser is abandoned.
func (m *Memory) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	inbox := m.NewInbox()
	replies := make(chan []byte, 1)

	sub, err := m.Subscribe(inbox, func(msg Message) {
		select {
		case replies <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	matched, err := m.deliver(subject, inbox, data)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrNoResponders
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-m.clock.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe implements Connection.
func (m *Memory) Subscribe(pattern string, handler Handler) (Subscription, error) {
	return m.QueueSubscribe(pattern, "", handler)
}

// QueueSubscribe implements Connection.
func (m *Memory) QueueSubscribe(pattern, queue string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	sub := &memorySub{
		id:      m.nextID,
		tokens:  strings.Split(pattern, "."),
		queue:   queue,
		handler: handler,
		bus:     m,
	}
	m.subs[sub.id] = sub
	return sub, nil
}

// NewInbox implements Connection.
func (m *Memory) NewInbox() string {
	return "_INBOX." + uuid.NewString()
}

// Close drops all subscriptions. Publishes after Close fail with
// ErrClosed.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int64]*memorySub)
}

// deliver fans the message out: every plain subscriber whose pattern
// matches gets a copy, and each queue group gets exactly one randomly
// chosen member. Returns the number of deliveries.
func (m *Memory) deliver(subject, reply string, data []byte) (int, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, ErrClosed
	}

	tokens := strings.Split(subject, ".")
	var plain []*memorySub
	groups := make(map[string][]*memorySub)
	for _, sub := range m.subs {
		if !matchSubject(sub.tokens, tokens) {
			continue
		}
		if sub.queue == "" {
			plain = append(plain, sub)
		} else {
			groups[sub.queue] = append(groups[sub.queue], sub)
		}
	}
	m.mu.RUnlock()

	targets := plain
	for _, members := range groups {
		targets = append(targets, members[rand.Intn(len(members))])
	}

	msg := Message{Subject: subject, Reply: reply, Data: data}
	for _, sub := range targets {
		go sub.handler(msg)
	}
	return len(targets), nil
}

// Unsubscribe implements Subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// matchSubject checks a split pattern against split subject tokens.
// "*" matches one token; ">" matches one or more trailing tokens.
func matchSubject(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
