// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package actorhost runs one actor: it owns the guest instance, the
// actor's verified claims, and the lifecycle state machine. All calls
// into the guest go through Invoke, which applies the middleware chain
// and serializes against live updates, so a caller never observes a
// half-swapped guest.
package actorhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
)

// OperationHalt is the reserved operation that stops the actor. It is
// only honored when the invocation's origin equals its target — an
// actor may halt itself, and the host constructs such self-addressed
// envelopes to stop an actor; no third party can.
const OperationHalt = "__halt"

// State is the actor lifecycle state.
type State int

// Lifecycle states. Transitions: Uninitialized→Running (Initialize),
// Running→Updating→Running (LiveUpdate), any→Halted (halt, terminal).
const (
	Uninitialized State = iota
	Running
	Updating
	Halted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Updating:
		return "updating"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Errors returned by the lifecycle operations.
var (
	// ErrState reports an operation arriving in the wrong lifecycle
	// state.
	ErrState = errors.New("actorhost: invalid state for operation")

	// ErrIdentity reports a live update whose module belongs to a
	// different actor.
	ErrIdentity = errors.New("actorhost: update module is a different actor")

	// ErrRevision reports a live update that does not advance the
	// revision.
	ErrRevision = errors.New("actorhost: update revision must increase")

	// ErrCapabilities reports a live update changing the claimed
	// capability set while strict updates are on.
	ErrCapabilities = errors.New("actorhost: update changes claimed capabilities")

	// ErrUpdateDenied reports a live update on an actor that was not
	// granted updates at start.
	ErrUpdateDenied = errors.New("actorhost: live updates not permitted for this actor")
)

// InvokeFunc is the core call shape middleware wraps.
type InvokeFunc func(ctx context.Context, inv *invocation.Invocation) ([]byte, error)

// Middleware wraps every guest call. The chain runs outermost-first in
// the order configured.
type Middleware func(next InvokeFunc) InvokeFunc

// Config assembles an ActorHost.
type Config struct {
	// Engine instantiates guests. Required.
	Engine Engine

	// HostCall receives the guest's outbound calls. Required.
	HostCall HostCall

	// Middleware wraps Invoke's guest call, outermost first.
	Middleware []Middleware

	// CanUpdate grants live updates. Without the grant LiveUpdate
	// always fails with ErrUpdateDenied; the grant is fixed at start
	// and cannot be widened later.
	CanUpdate bool

	// StrictUpdates rejects live updates that change the claimed
	// capability set. Off, the change is logged and allowed.
	StrictUpdates bool

	// Clock drives claims validation. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives lifecycle events. If nil, logs are discarded.
	Logger *slog.Logger
}

// ActorHost is the runtime container for one actor. Safe for
// concurrent use; Invoke calls proceed concurrently with each other
// and serialize against Initialize, LiveUpdate, and halting.
type ActorHost struct {
	engine    Engine
	hostCall  HostCall
	canUpdate bool
	strict    bool
	clock     clock.Clock
	logger    *slog.Logger
	invoke    InvokeFunc

	mu     sync.RWMutex
	state  State
	guest  Guest
	claims claims.Claims[claims.Actor]
	token  string
}

// New creates an actor host in the Uninitialized state.
func New(cfg Config) (*ActorHost, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("actorhost: Engine is required")
	}
	if cfg.HostCall == nil {
		return nil, fmt.Errorf("actorhost: HostCall is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	a := &ActorHost{
		engine:    cfg.Engine,
		hostCall:  cfg.HostCall,
		canUpdate: cfg.CanUpdate,
		strict:    cfg.StrictUpdates,
		clock:     clk,
		logger:    logger,
		state:     Uninitialized,
	}
	a.invoke = a.callGuest
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		a.invoke = cfg.Middleware[i](a.invoke)
	}
	return a, nil
}

// Initialize verifies the module's embedded claims and starts the
// guest. Only valid in the Uninitialized state.
func (a *ActorHost) Initialize(ctx context.Context, module []byte) error {
	token, actorClaims, err := a.verifyModule(module)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Uninitialized {
		return fmt.Errorf("%w: initialize while %s", ErrState, a.state)
	}

	guest, err := a.engine.Instantiate(ctx, module, a.hostCall)
	if err != nil {
		return err
	}
	a.guest = guest
	a.claims = actorClaims
	a.token = token
	a.state = Running
	a.logger.Info("actor started",
		"actor", actorClaims.Subject,
		"name", actorClaims.Metadata.Name,
		"revision", actorClaims.Metadata.Revision,
		"capabilities", actorClaims.Metadata.Capabilities)
	return nil
}

// Invoke routes one validated invocation to the guest. The reserved
// halt operation stops the actor without entering the guest; it is
// only honored on self-addressed envelopes.
func (a *ActorHost) Invoke(ctx context.Context, inv *invocation.Invocation) ([]byte, error) {
	if inv.Operation == OperationHalt && inv.Origin.Equal(inv.Target) {
		return nil, a.halt(ctx)
	}
	return a.invoke(ctx, inv)
}

// callGuest is the innermost invoke: state check plus guest call,
// under the read lock so updates cannot swap the guest mid-call.
func (a *ActorHost) callGuest(ctx context.Context, inv *invocation.Invocation) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != Running {
		return nil, fmt.Errorf("%w: invoke while %s", ErrState, a.state)
	}
	return a.guest.Call(ctx, inv.Operation, inv.Msg)
}

// LiveUpdate replaces the running guest with a new module revision of
// the same actor. It requires the CanUpdate grant from start time.
// In-flight invocations drain first; callers arriving during the swap
// wait and then run against the new revision.
func (a *ActorHost) LiveUpdate(ctx context.Context, module []byte) error {
	if !a.canUpdate {
		return ErrUpdateDenied
	}
	token, next, err := a.verifyModule(module)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Running {
		return fmt.Errorf("%w: live update while %s", ErrState, a.state)
	}

	current := a.claims
	if next.Subject != current.Subject {
		return fmt.Errorf("%w: running %s, update is %s", ErrIdentity, current.Subject, next.Subject)
	}
	if next.Metadata.Revision <= current.Metadata.Revision {
		return fmt.Errorf("%w: running revision %d, update is %d",
			ErrRevision, current.Metadata.Revision, next.Metadata.Revision)
	}
	if !sameCapabilities(current.Metadata.Capabilities, next.Metadata.Capabilities) {
		if a.strict {
			return fmt.Errorf("%w: %v -> %v",
				ErrCapabilities, current.Metadata.Capabilities, next.Metadata.Capabilities)
		}
		a.logger.Warn("live update changes claimed capabilities",
			"actor", current.Subject,
			"from", current.Metadata.Capabilities,
			"to", next.Metadata.Capabilities)
	}

	a.state = Updating
	guest, err := a.engine.Instantiate(ctx, module, a.hostCall)
	if err != nil {
		a.state = Running // old guest keeps serving
		return err
	}
	old := a.guest
	a.guest = guest
	a.claims = next
	a.token = token
	a.state = Running

	if err := old.Close(ctx); err != nil {
		a.logger.Warn("closing replaced guest", "actor", next.Subject, "error", err)
	}
	a.logger.Info("actor updated",
		"actor", next.Subject,
		"revision_from", current.Metadata.Revision,
		"revision_to", next.Metadata.Revision)
	return nil
}

// halt drains in-flight invocations, tears the guest down, and leaves
// the host in the terminal Halted state. Halting twice is a no-op.
func (a *ActorHost) halt(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Halted {
		return nil
	}
	subject := a.claims.Subject
	var err error
	if a.guest != nil {
		err = a.guest.Close(ctx)
		a.guest = nil
	}
	a.state = Halted
	a.logger.Info("actor halted", "actor", subject)
	return err
}

// Halt stops the actor directly. Equivalent to a self-addressed halt
// invocation.
func (a *ActorHost) Halt(ctx context.Context) error { return a.halt(ctx) }

// State returns the current lifecycle state.
func (a *ActorHost) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Claims returns the verified claims of the running module.
func (a *ActorHost) Claims() claims.Claims[claims.Actor] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.claims
}

// Token returns the raw claims token of the running module, for
// lattice-wide claims advertisement.
func (a *ActorHost) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// verifyModule extracts and cryptographically validates the claims
// embedded in module bytes.
func (a *ActorHost) verifyModule(module []byte) (string, claims.Claims[claims.Actor], error) {
	token, err := ExtractToken(module)
	if err != nil {
		return "", claims.Claims[claims.Actor]{}, err
	}
	actorClaims, err := claims.Validate[claims.Actor](token, a.clock.Now())
	if err != nil {
		return "", claims.Claims[claims.Actor]{}, fmt.Errorf("actorhost: module claims: %w", err)
	}
	return token, *actorClaims, nil
}

func sameCapabilities(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
