// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc moves signed invocations between entities over the bus.
//
// The Dispatcher owns both directions of a host's RPC traffic: Send
// signs, stages oversized payloads, publishes, and awaits the
// correlated response; Serve subscribes an entity's subject, validates
// every inbound envelope, and runs the supplied handler. Timeouts are
// inconclusive — ErrTimeout never proves the target did not execute.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/chunk"
	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/lib/entity"
)

// DefaultTimeout bounds Send when the caller gives no budget.
const DefaultTimeout = 2 * time.Second

// Errors returned by Send and SendTimeout.
var (
	// ErrTimeout means no response arrived in time. Inconclusive:
	// the call may have executed.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrRemote carries a failure reported by the target's host.
	ErrRemote = errors.New("rpc: remote failure")
)

// Handler processes one validated inbound invocation. The payload in
// inv.Msg is fully reassembled before the handler runs.
type Handler func(ctx context.Context, inv *invocation.Invocation) ([]byte, error)

// Config assembles a Dispatcher.
type Config struct {
	// Lattice is the lattice id used to derive RPC subjects.
	Lattice string

	// HostKey signs every outbound envelope.
	HostKey claims.KeyPair

	// Bus carries the traffic.
	Bus bus.Connection

	// Chunks stages payloads above chunk.Threshold. Optional: with a
	// nil store, oversized sends fail instead of staging.
	Chunks chunk.Store

	// Clock drives envelope timestamps and timeouts. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives dispatch events. If nil, logs are discarded.
	Logger *slog.Logger
}

// Dispatcher is a host's RPC endpoint. Safe for concurrent use.
type Dispatcher struct {
	lattice string
	key     claims.KeyPair
	bus     bus.Connection
	chunks  chunk.Store
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.HostKey.IsZero() {
		return nil, fmt.Errorf("rpc: HostKey is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("rpc: Bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Dispatcher{
		lattice: cfg.Lattice,
		key:     cfg.HostKey,
		bus:     cfg.Bus,
		chunks:  cfg.Chunks,
		clock:   clk,
		logger:  logger,
	}, nil
}

// Send invokes an operation on the target with the default timeout.
func (d *Dispatcher) Send(ctx context.Context, origin, target entity.Entity, operation string, payload []byte) ([]byte, error) {
	return d.SendTimeout(ctx, origin, target, operation, payload, DefaultTimeout)
}

// SendTimeout invokes an operation on the target entity and returns
// the result payload. Payloads above chunk.Threshold are staged out of
// band and the timeout is widened by chunk.ExtraTime.
func (d *Dispatcher) SendTimeout(ctx context.Context, origin, target entity.Entity, operation string, payload []byte, timeout time.Duration) ([]byte, error) {
	inv, err := invocation.New(d.key, origin, target, operation, payload, d.clock.Now())
	if err != nil {
		return nil, err
	}

	if chunk.Needed(len(payload)) {
		if d.chunks == nil {
			return nil, fmt.Errorf("rpc: payload of %d bytes needs chunking but no store is configured", len(payload))
		}
		if err := d.chunks.Put(inv.ID, payload); err != nil {
			return nil, fmt.Errorf("rpc: staging payload: %w", err)
		}
		inv.Msg = nil
		timeout += chunk.ExtraTime
	}

	raw, err := codec.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding envelope: %w", err)
	}

	subject := bus.RPCSubject(d.lattice, target)
	d.logger.Debug("rpc send",
		"id", inv.ID, "operation", operation,
		"target", target.URL(), "bytes", inv.ContentLength)

	reply, err := d.bus.Request(ctx, subject, raw, timeout)
	switch {
	case errors.Is(err, bus.ErrTimeout):
		return nil, fmt.Errorf("%w: %s on %s after %s (result unknown)",
			ErrTimeout, operation, target.URL(), timeout)
	case err != nil:
		return nil, fmt.Errorf("rpc: requesting %s: %w", subject, err)
	}

	var resp invocation.Response
	if err := codec.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("rpc: decoding response: %w", err)
	}
	if resp.Failed() {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}

	result := resp.Msg
	if resp.ContentLength > uint64(len(result)) {
		if d.chunks == nil {
			return nil, fmt.Errorf("rpc: response of %d bytes is staged but no store is configured", resp.ContentLength)
		}
		result, err = d.chunks.Get(chunk.ResponseKey(inv.ID))
		if err != nil {
			return nil, fmt.Errorf("rpc: reassembling response: %w", err)
		}
		defer d.chunks.Remove(chunk.ResponseKey(inv.ID))
		if uint64(len(result)) != resp.ContentLength {
			return nil, fmt.Errorf("rpc: reassembled %d of %d response bytes", len(result), resp.ContentLength)
		}
	}
	return result, nil
}

// Post publishes an invocation without awaiting a response. Use it for
// one-way notifications where delivery loss is acceptable.
func (d *Dispatcher) Post(origin, target entity.Entity, operation string, payload []byte) error {
	inv, err := invocation.New(d.key, origin, target, operation, payload, d.clock.Now())
	if err != nil {
		return err
	}
	if chunk.Needed(len(payload)) {
		if d.chunks == nil {
			return fmt.Errorf("rpc: payload of %d bytes needs chunking but no store is configured", len(payload))
		}
		if err := d.chunks.Put(inv.ID, payload); err != nil {
			return fmt.Errorf("rpc: staging payload: %w", err)
		}
		inv.Msg = nil
	}
	raw, err := codec.Marshal(inv)
	if err != nil {
		return fmt.Errorf("rpc: encoding envelope: %w", err)
	}
	return d.bus.Publish(bus.RPCSubject(d.lattice, target), raw)
}

// Serve subscribes the entity's RPC subject and runs handler for every
// validated inbound invocation. Envelopes failing the anti-forgery
// checklist never reach the handler; their callers get a failure
// response instead. The queue group is the entity key, so scaled
// replicas of the same entity load-balance.
func (d *Dispatcher) Serve(target entity.Entity, handler Handler) (bus.Subscription, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("rpc: serve: %w", err)
	}
	subject := bus.RPCSubject(d.lattice, target)
	return d.bus.QueueSubscribe(subject, target.Key(), func(msg bus.Message) {
		d.handleInbound(msg, handler)
	})
}

func (d *Dispatcher) handleInbound(msg bus.Message, handler Handler) {
	var inv invocation.Invocation
	if err := codec.Unmarshal(msg.Data, &inv); err != nil {
		d.logger.Warn("undecodable invocation", "subject", msg.Subject, "error", err)
		return
	}

	resp := d.execute(&inv, handler)

	if msg.Reply == "" {
		if resp.Failed() {
			d.logger.Warn("one-way invocation failed",
				"id", inv.ID, "operation", inv.Operation, "error", resp.Error)
		}
		return
	}
	raw, err := codec.Marshal(resp)
	if err != nil {
		d.logger.Error("encoding response", "id", inv.ID, "error", err)
		return
	}
	if err := d.bus.Publish(msg.Reply, raw); err != nil {
		d.logger.Warn("publishing response", "id", inv.ID, "error", err)
	}
}

// execute reassembles, validates, and runs one inbound invocation.
func (d *Dispatcher) execute(inv *invocation.Invocation, handler Handler) *invocation.Response {
	if inv.ContentLength > uint64(len(inv.Msg)) {
		if d.chunks == nil {
			return invocation.Failure(inv, "payload is staged but host has no chunk store")
		}
		payload, err := d.chunks.Get(inv.ID)
		if err != nil {
			return invocation.Failure(inv, fmt.Sprintf("reassembling payload: %v", err))
		}
		defer d.chunks.Remove(inv.ID)
		inv.Msg = payload
	}

	// Validation runs over the reassembled payload, so the signed
	// hash covers what the handler will actually see.
	if err := inv.Validate(d.clock.Now()); err != nil {
		d.logger.Warn("rejected invocation",
			"id", inv.ID, "operation", inv.Operation, "error", err)
		return invocation.Failure(inv, err.Error())
	}

	result, err := handler(context.Background(), inv)
	if err != nil {
		return invocation.Failure(inv, err.Error())
	}

	resp := invocation.Success(inv, result)
	if chunk.Needed(len(result)) {
		if d.chunks == nil {
			return invocation.Failure(inv, "response needs chunking but host has no chunk store")
		}
		if err := d.chunks.Put(chunk.ResponseKey(inv.ID), result); err != nil {
			return invocation.Failure(inv, fmt.Sprintf("staging response: %v", err))
		}
		resp.Msg = nil
	}
	return resp
}
