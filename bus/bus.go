// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus defines the publish/subscribe transport the lattice
// runs over, and provides an in-process implementation.
//
// Weft does not define a transport protocol. It assumes a bus with
// subject-based addressing, request/reply correlation with timeout,
// and queue-group load balancing — Connection is the seam where a
// broker client plugs in. Memory is the in-process implementation:
// it backs every test and single-process deployments.
//
// Subjects are dot-separated tokens. Subscription patterns support
// "*" (exactly one token) and a trailing ">" (one or more tokens),
// the conventional wildcard grammar for subject-addressed buses.
package bus

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Request.
var (
	// ErrTimeout means no reply arrived before the deadline. It is
	// inconclusive: the target may have executed the call and only
	// the reply was lost. Callers must never treat it as proof of
	// non-execution.
	ErrTimeout = errors.New("bus: request timed out")

	// ErrNoResponders means no subscriber matched the subject at
	// publish time.
	ErrNoResponders = errors.New("bus: no responders for subject")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("bus: connection closed")
)

// Message is one delivery to a subscriber.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Reply is the subject to respond on, or empty for
	// fire-and-forget publishes.
	Reply string

	// Data is the payload.
	Data []byte
}

// Handler processes one delivered message. Handlers run concurrently;
// the bus gives no ordering guarantee across distinct publishes.
type Handler func(msg Message)

// Subscription is a handle for cancelling a subscription.
type Subscription interface {
	// Unsubscribe removes the subscription. Safe to call more than
	// once.
	Unsubscribe() error
}

// Connection is the transport surface the runtime uses. All methods
// are safe for concurrent use.
type Connection interface {
	// Publish sends a fire-and-forget message.
	Publish(subject string, data []byte) error

	// PublishRequest sends a message carrying a reply subject, so
	// multiple subscribers can each answer (auctions).
	PublishRequest(subject, reply string, data []byte) error

	// Request publishes and awaits a single correlated reply. It
	// fails with ErrTimeout when the deadline passes, or
	// ErrNoResponders when nothing is subscribed to the subject.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Subscribe delivers every message matching the pattern to the
	// handler.
	Subscribe(pattern string, handler Handler) (Subscription, error)

	// QueueSubscribe delivers each matching message to exactly one
	// member of the named queue group.
	QueueSubscribe(pattern, queue string, handler Handler) (Subscription, error)

	// NewInbox returns a unique subject for receiving replies.
	NewInbox() string
}
