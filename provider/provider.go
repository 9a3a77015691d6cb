// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the uniform contract every capability
// provider implements, and the runner that exposes a provider on the
// lattice.
//
// A provider receives two kinds of traffic on its RPC subject: host
// lifecycle operations (link binding, health checks, shutdown) and
// actor-originated capability operations. The Runner demuxes them so
// a provider implementation only sees typed lifecycle calls plus its
// own operation namespace.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/rpc"
)

// Reserved lifecycle operations, dispatched by hosts rather than
// actors.
const (
	OperationBindActor     = "BindActor"
	OperationRemoveActor   = "RemoveActor"
	OperationHealthRequest = "HealthRequest"
)

// ErrNotBound is returned by providers when an actor invokes them
// without a link definition in place.
var ErrNotBound = errors.New("provider: actor is not bound")

// HealthResponse is the reply to a health request.
type HealthResponse struct {
	Healthy bool   `cbor:"1,keyasint" json:"healthy"`
	Message string `cbor:"2,keyasint,omitempty" json:"message,omitempty"`
}

// Provider is the contract a capability implementation fulfills. All
// methods must be safe for concurrent use.
type Provider interface {
	// ReceiveLink configures the provider for one newly linked actor.
	// Receiving the same link twice must be harmless.
	ReceiveLink(def links.Definition) error

	// DeleteLink tears down an actor's binding and its resources.
	DeleteLink(actorID string) error

	// HealthCheck reports liveness.
	HealthCheck() HealthResponse

	// Handle runs one capability operation for a bound actor.
	Handle(ctx context.Context, actorID, operation string, payload []byte) ([]byte, error)

	// Shutdown releases everything. The provider is unusable after.
	Shutdown() error
}

// Runner exposes a Provider on its lattice subject.
type Runner struct {
	entity     entity.Entity
	impl       Provider
	dispatcher *rpc.Dispatcher
	logger     *slog.Logger
	sub        interface{ Unsubscribe() error }
}

// RunnerConfig assembles a Runner.
type RunnerConfig struct {
	// Entity is the provider's lattice identity. Required, and must
	// be of kind provider.
	Entity entity.Entity

	// Impl is the capability implementation. Required.
	Impl Provider

	// Dispatcher serves the provider's subject. Required.
	Dispatcher *rpc.Dispatcher

	// Logger receives runner events. If nil, logs are discarded.
	Logger *slog.Logger
}

// NewRunner validates the wiring and subscribes the provider.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Impl == nil {
		return nil, fmt.Errorf("provider: Impl is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("provider: Dispatcher is required")
	}
	if cfg.Entity.Kind != entity.KindProvider {
		return nil, fmt.Errorf("provider: entity %s is not a provider", cfg.Entity.URL())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		entity:     cfg.Entity,
		impl:       cfg.Impl,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
	sub, err := cfg.Dispatcher.Serve(cfg.Entity, r.handle)
	if err != nil {
		return nil, fmt.Errorf("provider: serving %s: %w", cfg.Entity.URL(), err)
	}
	r.sub = sub
	logger.Info("provider online", "provider", cfg.Entity.URL())
	return r, nil
}

// Shutdown unsubscribes the provider and releases its resources.
func (r *Runner) Shutdown() error {
	if err := r.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("provider: unsubscribing: %w", err)
	}
	if err := r.impl.Shutdown(); err != nil {
		return fmt.Errorf("provider: shutdown: %w", err)
	}
	r.logger.Info("provider offline", "provider", r.entity.URL())
	return nil
}

// handle demuxes one inbound, already-validated invocation.
func (r *Runner) handle(ctx context.Context, inv *invocation.Invocation) ([]byte, error) {
	switch inv.Operation {
	case OperationBindActor:
		var def links.Definition
		if err := codec.Unmarshal(inv.Msg, &def); err != nil {
			return nil, fmt.Errorf("provider: decoding link definition: %w", err)
		}
		if err := r.impl.ReceiveLink(def); err != nil {
			return nil, err
		}
		r.logger.Info("link bound", "provider", r.entity.URL(), "actor", def.ActorID)
		return nil, nil

	case OperationRemoveActor:
		var def links.Definition
		if err := codec.Unmarshal(inv.Msg, &def); err != nil {
			return nil, fmt.Errorf("provider: decoding link definition: %w", err)
		}
		if err := r.impl.DeleteLink(def.ActorID); err != nil {
			return nil, err
		}
		r.logger.Info("link removed", "provider", r.entity.URL(), "actor", def.ActorID)
		return nil, nil

	case OperationHealthRequest:
		return codec.Marshal(r.impl.HealthCheck())

	default:
		return r.impl.Handle(ctx, inv.Origin.ID, inv.Operation, inv.Msg)
	}
}
