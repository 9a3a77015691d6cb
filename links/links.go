// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package links is the authoritative registry of actor→provider
// bindings. A link definition declares that an actor's calls on a
// capability contract (under a link name) go to one specific provider,
// with free-form configuration values.
//
// Writes are broadcast lattice-wide and mirrored into the host's
// durable key-value store; the registry is eventually consistent.
// Readers that race a propagation window should use WaitLookup rather
// than failing on the first miss.
package links

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/kvstore"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/codec"
)

// storePrefix namespaces registry keys inside the shared kvstore.
const storePrefix = "link_"

// Errors returned by Put and WaitLookup.
var (
	// ErrConflict means the put would silently re-route existing
	// traffic: the triple is bound to a different provider, or the
	// provider is bound to a different triple.
	ErrConflict = errors.New("links: conflicting link definition")

	// ErrInvalid reports an incomplete definition.
	ErrInvalid = errors.New("links: incomplete link definition")

	// ErrNotFound is returned by WaitLookup when the binding never
	// appeared within the retry budget.
	ErrNotFound = errors.New("links: no link definition found")
)

// Definition is one declarative binding, keyed by
// (actor_id, contract_id, link_name).
type Definition struct {
	ActorID    string            `cbor:"1,keyasint" json:"actor_id"`
	ProviderID string            `cbor:"2,keyasint" json:"provider_id"`
	LinkName   string            `cbor:"3,keyasint" json:"link_name"`
	ContractID string            `cbor:"4,keyasint" json:"contract_id"`
	Values     map[string]string `cbor:"5,keyasint,omitempty" json:"values,omitempty"`
}

// Validate reports whether the definition is complete.
func (d Definition) Validate() error {
	if d.ActorID == "" || d.ProviderID == "" || d.ContractID == "" || d.LinkName == "" {
		return fmt.Errorf("%w: actor=%q provider=%q contract=%q link=%q",
			ErrInvalid, d.ActorID, d.ProviderID, d.ContractID, d.LinkName)
	}
	return nil
}

// Key returns the definition's registry key.
func (d Definition) Key() string {
	return Key(d.ActorID, d.ContractID, d.LinkName)
}

// Key hashes a (actor, contract, link name) triple into the registry
// key. Hosts on every side of the lattice must derive identical keys,
// so the inputs are length-delimited before hashing.
func Key(actorID, contractID, linkName string) string {
	hasher := blake3.New()
	for _, part := range []string{actorID, contractID, linkName} {
		var length [4]byte
		length[0] = byte(len(part) >> 24)
		length[1] = byte(len(part) >> 16)
		length[2] = byte(len(part) >> 8)
		length[3] = byte(len(part))
		hasher.Write(length[:])
		hasher.Write([]byte(part))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// providerKey identifies the provider side of a binding for the
// reverse-conflict check.
func (d Definition) providerKey() string {
	return Key(d.ProviderID, d.ContractID, d.LinkName)
}

// Config assembles a Registry.
type Config struct {
	// Lattice is the lattice id used in broadcast subjects.
	Lattice string

	// Bus broadcasts puts and deletes lattice-wide and feeds remote
	// writes back in via Listen. Optional: a nil Bus makes the
	// registry host-local.
	Bus bus.Connection

	// Store mirrors the registry durably. Optional: a nil Store
	// keeps the registry memory-only.
	Store *kvstore.Store

	// Clock drives WaitLookup's backoff. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives registry events. If nil, logs are discarded.
	Logger *slog.Logger
}

// Registry is the host-local replica of the lattice's link
// definitions. Reads proceed concurrently; writes take the single
// writer lock.
type Registry struct {
	lattice string
	bus     bus.Connection
	store   *kvstore.Store
	clock   clock.Clock
	logger  *slog.Logger

	mu         sync.RWMutex
	byKey      map[string]Definition
	byProvider map[string]string // providerKey → registry key
}

// NewRegistry creates an empty registry. Call Restore to load the
// durable mirror and Listen to join lattice-wide replication.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		lattice:    cfg.Lattice,
		bus:        cfg.Bus,
		store:      cfg.Store,
		clock:      clk,
		logger:     logger,
		byKey:      make(map[string]Definition),
		byProvider: make(map[string]string),
	}
}

// Restore loads every mirrored definition from the durable store.
// Call once at startup, before Listen.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	mirrored, err := r.store.List(ctx, storePrefix)
	if err != nil {
		return fmt.Errorf("links: restoring mirror: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, raw := range mirrored {
		var def Definition
		if err := codec.Unmarshal(raw, &def); err != nil {
			r.logger.Warn("dropping undecodable mirrored link", "key", key, "error", err)
			continue
		}
		r.byKey[def.Key()] = def
		r.byProvider[def.providerKey()] = def.Key()
	}
	r.logger.Info("link registry restored", "definitions", len(r.byKey))
	return nil
}

// Put registers a binding. Re-putting an identical binding is a
// no-op and a same-provider re-put with new Values replaces the stored
// configuration; binding an already-bound triple to a different
// provider, or an already-bound provider to a different triple, fails
// without mutating anything.
func (r *Registry) Put(ctx context.Context, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := r.apply(def); err != nil {
		return err
	}
	if err := r.mirror(ctx, def); err != nil {
		return err
	}
	return r.broadcast("put", def)
}

// Delete removes a binding. Deleting an absent binding is a no-op.
func (r *Registry) Delete(ctx context.Context, actorID, contractID, linkName string) error {
	def := Definition{ActorID: actorID, ContractID: contractID, LinkName: linkName}
	r.remove(def)
	if r.store != nil {
		if err := r.store.Delete(ctx, storePrefix+def.Key()); err != nil {
			return fmt.Errorf("links: unmirroring: %w", err)
		}
	}
	return r.broadcast("del", def)
}

// Lookup returns the binding for a triple, if any.
func (r *Registry) Lookup(actorID, contractID, linkName string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[Key(actorID, contractID, linkName)]
	return def, ok
}

// WaitLookup retries Lookup with linear backoff to cover the
// propagation window of a freshly put link. It fails with ErrNotFound
// once the budget is spent or the context is cancelled.
func (r *Registry) WaitLookup(ctx context.Context, actorID, contractID, linkName string, budget time.Duration) (Definition, error) {
	const interval = 50 * time.Millisecond
	deadline := r.clock.Now().Add(budget)
	for {
		if def, ok := r.Lookup(actorID, contractID, linkName); ok {
			return def, nil
		}
		if !r.clock.Now().Before(deadline) {
			return Definition{}, fmt.Errorf("%w: actor=%s contract=%s link=%s",
				ErrNotFound, actorID, contractID, linkName)
		}
		select {
		case <-ctx.Done():
			return Definition{}, ctx.Err()
		case <-r.clock.After(interval):
		}
	}
}

// All returns a snapshot of every known definition.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Definition, 0, len(r.byKey))
	for _, def := range r.byKey {
		all = append(all, def)
	}
	return all
}

// Listen subscribes to lattice-wide link advertisements and applies
// them to the local replica. Remote conflicts are logged and dropped
// rather than failing — there is no cross-host ordering to arbitrate
// with.
func (r *Registry) Listen(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}
	_, err := r.bus.Subscribe(bus.LinkDefsSubject(r.lattice, "put"), func(msg bus.Message) {
		var def Definition
		if err := codec.Unmarshal(msg.Data, &def); err != nil {
			r.logger.Warn("undecodable link advertisement", "error", err)
			return
		}
		if err := r.apply(def); err != nil {
			if !errors.Is(err, ErrConflict) {
				r.logger.Warn("rejected link advertisement", "error", err)
			}
			return
		}
		if err := r.mirror(ctx, def); err != nil {
			r.logger.Warn("mirroring advertised link", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("links: subscribing to put advertisements: %w", err)
	}

	_, err = r.bus.Subscribe(bus.LinkDefsSubject(r.lattice, "del"), func(msg bus.Message) {
		var def Definition
		if err := codec.Unmarshal(msg.Data, &def); err != nil {
			r.logger.Warn("undecodable link deletion", "error", err)
			return
		}
		r.remove(def)
		if r.store != nil {
			if err := r.store.Delete(ctx, storePrefix+def.Key()); err != nil {
				r.logger.Warn("unmirroring advertised deletion", "error", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("links: subscribing to del advertisements: %w", err)
	}
	return nil
}

// apply inserts into the in-memory replica, enforcing the conflict
// rules. Identical re-puts succeed without mutation; a re-put with the
// same provider but new Values replaces the stored configuration.
func (r *Registry) apply(def Definition) error {
	key := def.Key()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		if existing.ProviderID == def.ProviderID {
			if maps.Equal(existing.Values, def.Values) {
				return nil // idempotent re-put
			}
			r.byKey[key] = def
			r.logger.Info("link values updated",
				"actor", def.ActorID, "provider", def.ProviderID,
				"contract", def.ContractID, "link", def.LinkName)
			return nil
		}
		return fmt.Errorf("%w: actor %s contract %s link %s is bound to provider %s",
			ErrConflict, def.ActorID, def.ContractID, def.LinkName, existing.ProviderID)
	}
	if boundKey, ok := r.byProvider[def.providerKey()]; ok && boundKey != key {
		return fmt.Errorf("%w: provider %s (%s/%s) is bound to a different actor",
			ErrConflict, def.ProviderID, def.ContractID, def.LinkName)
	}

	r.byKey[key] = def
	r.byProvider[def.providerKey()] = key
	r.logger.Info("link put",
		"actor", def.ActorID, "provider", def.ProviderID,
		"contract", def.ContractID, "link", def.LinkName)
	return nil
}

func (r *Registry) remove(def Definition) {
	key := def.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byKey[key]
	if !ok {
		return
	}
	delete(r.byKey, key)
	delete(r.byProvider, existing.providerKey())
	r.logger.Info("link deleted",
		"actor", def.ActorID, "contract", def.ContractID, "link", def.LinkName)
}

func (r *Registry) mirror(ctx context.Context, def Definition) error {
	if r.store == nil {
		return nil
	}
	raw, err := codec.Marshal(def)
	if err != nil {
		return fmt.Errorf("links: encoding mirror entry: %w", err)
	}
	if err := r.store.Put(ctx, storePrefix+def.Key(), raw); err != nil {
		return fmt.Errorf("links: mirroring: %w", err)
	}
	return nil
}

func (r *Registry) broadcast(verb string, def Definition) error {
	if r.bus == nil {
		return nil
	}
	raw, err := codec.Marshal(def)
	if err != nil {
		return fmt.Errorf("links: encoding advertisement: %w", err)
	}
	if err := r.bus.Publish(bus.LinkDefsSubject(r.lattice, verb), raw); err != nil {
		return fmt.Errorf("links: broadcasting %s: %w", verb, err)
	}
	return nil
}
