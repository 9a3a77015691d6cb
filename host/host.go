// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package host is the runtime a lattice node runs: it owns the actor
// and provider tables, the link registry replica, the claims cache,
// and the host's labels, and it routes every guest's outbound call to
// the linked target. Nothing here is ambient — a host only knows what
// was explicitly started on it or advertised to it.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/weft-foundation/weft/actorhost"
	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/chunk"
	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/kvstore"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/provider"
	"github.com/weft-foundation/weft/rpc"
)

// Labels every host carries, set from the runtime rather than
// configuration.
const (
	LabelOS   = "hostcore.os"
	LabelArch = "hostcore.arch"
)

// Errors returned by the host's actor and provider operations.
var (
	// ErrNotLinked means a guest called a capability contract it has
	// no link definition for.
	ErrNotLinked = errors.New("host: capability is not linked")

	// ErrNotRunning reports an operation on an actor or provider this
	// host is not running.
	ErrNotRunning = errors.New("host: not running here")

	// ErrAlreadyRunning reports a duplicate provider registration.
	ErrAlreadyRunning = errors.New("host: already running here")
)

const claimsPrefix = "claims_"

// linkWaitBudget bounds how long a guest's capability call waits for a
// link definition still propagating across the lattice. It must stay
// well inside the caller's RPC timeout.
const linkWaitBudget = time.Second

// Config assembles a Host.
type Config struct {
	// Lattice is the lattice this host joins. Required.
	Lattice string

	// Key is the host's signing identity. Required.
	Key claims.KeyPair

	// Bus connects the host to its lattice. Required.
	Bus bus.Connection

	// Store persists links, claims, and config. Optional.
	Store *kvstore.Store

	// Chunks stages oversized payloads. Optional.
	Chunks chunk.Store

	// Engine runs actor modules. Defaults to the wazero-backed waPC
	// engine.
	Engine actorhost.Engine

	// Labels are user-supplied placement labels, merged over the
	// hostcore ones.
	Labels map[string]string

	// Middleware wraps every actor invocation on this host.
	Middleware []actorhost.Middleware

	// AllowLiveUpdates grants live updates to actors started on this
	// host. Off, UpdateActor fails with actorhost.ErrUpdateDenied.
	AllowLiveUpdates bool

	// StrictUpdates rejects live updates that change capability
	// claims.
	StrictUpdates bool

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger receives host events. If nil, logs are discarded.
	Logger *slog.Logger
}

// replica is one running instance of an actor.
type replica struct {
	actor *actorhost.ActorHost
	sub   bus.Subscription
}

type runningActor struct {
	path     string // module file the actor was started from
	replicas []*replica
}

type runningProvider struct {
	entity entity.Entity
	runner *provider.Runner
}

// Host is one lattice node. Safe for concurrent use.
type Host struct {
	lattice    string
	key        claims.KeyPair
	bus        bus.Connection
	store      *kvstore.Store
	engine     actorhost.Engine
	middleware []actorhost.Middleware
	canUpdate  bool
	strict     bool
	clock      clock.Clock
	logger     *slog.Logger

	Dispatcher *rpc.Dispatcher
	Links      *links.Registry

	mu        sync.RWMutex
	labels    map[string]string
	actors    map[string]*runningActor    // actor id → replicas
	providers map[string]*runningProvider // entity key → runner
	claims    map[string]claims.Claims[claims.Actor]
	subs      []bus.Subscription
	started   bool
}

// New wires a host together. Call Start to join the lattice.
func New(cfg Config) (*Host, error) {
	if cfg.Lattice == "" {
		return nil, fmt.Errorf("host: Lattice is required")
	}
	if cfg.Key.IsZero() {
		return nil, fmt.Errorf("host: Key is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("host: Bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	engine := cfg.Engine
	if engine == nil {
		engine = actorhost.NewWapcEngine()
	}

	labels := map[string]string{
		LabelOS:   runtime.GOOS,
		LabelArch: runtime.GOARCH,
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	dispatcher, err := rpc.New(rpc.Config{
		Lattice: cfg.Lattice,
		HostKey: cfg.Key,
		Bus:     cfg.Bus,
		Chunks:  cfg.Chunks,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	h := &Host{
		lattice:    cfg.Lattice,
		key:        cfg.Key,
		bus:        cfg.Bus,
		store:      cfg.Store,
		engine:     engine,
		middleware: cfg.Middleware,
		canUpdate:  cfg.AllowLiveUpdates,
		strict:     cfg.StrictUpdates,
		clock:      clk,
		logger:     logger,
		Dispatcher: dispatcher,
		labels:     labels,
		actors:     make(map[string]*runningActor),
		providers:  make(map[string]*runningProvider),
		claims:     make(map[string]claims.Claims[claims.Actor]),
	}
	h.Links = links.NewRegistry(links.Config{
		Lattice: cfg.Lattice,
		Bus:     cfg.Bus,
		Store:   cfg.Store,
		Clock:   clk,
		Logger:  logger,
	})
	return h, nil
}

// ID is the host's public key.
func (h *Host) ID() string { return h.key.PublicKey() }

// Lattice is the lattice this host joined.
func (h *Host) Lattice() string { return h.lattice }

// Start restores durable state and joins the lattice's replication
// subjects.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("host: already started")
	}
	h.started = true
	h.mu.Unlock()

	if err := h.Links.Restore(ctx); err != nil {
		return err
	}
	if err := h.restoreClaims(ctx); err != nil {
		return err
	}
	if err := h.Links.Listen(ctx); err != nil {
		return err
	}

	sub, err := h.bus.Subscribe(bus.ClaimsSubject(h.lattice), h.onClaims)
	if err != nil {
		return fmt.Errorf("host: subscribing to claims: %w", err)
	}
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()

	h.logger.Info("host started",
		"host", h.ID(), "lattice", h.lattice, "labels", h.labels)
	return nil
}

// Stop halts every actor, shuts down every provider, and leaves the
// lattice.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	actors := make([]string, 0, len(h.actors))
	for id := range h.actors {
		actors = append(actors, id)
	}
	providers := make([]*runningProvider, 0, len(h.providers))
	for _, p := range h.providers {
		providers = append(providers, p)
	}
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	var firstErr error
	for _, id := range actors {
		if err := h.StopActor(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, p := range providers {
		if err := h.stopProvider(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	h.logger.Info("host stopped", "host", h.ID())
	return firstErr
}

// StartActor reads a signed module from path and starts one replica.
// Starting a path whose module is already running adds a replica; the
// lattice load-balances across replicas of the same actor.
func (h *Host) StartActor(ctx context.Context, path string) (string, error) {
	module, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("host: reading module: %w", err)
	}
	return h.startActorBytes(ctx, path, module)
}

func (h *Host) startActorBytes(ctx context.Context, path string, module []byte) (string, error) {
	// The module names its own actor; peek at the token so the host
	// call closure knows which actor's links to resolve.
	token, err := actorhost.ExtractToken(module)
	if err != nil {
		return "", err
	}
	peeked, err := claims.Decode[claims.Actor](token)
	if err != nil {
		return "", err
	}
	origin := entity.Actor(peeked.Subject)

	actor, err := actorhost.New(actorhost.Config{
		Engine: h.engine,
		HostCall: func(ctx context.Context, binding, namespace, operation string, payload []byte) ([]byte, error) {
			return h.hostCall(ctx, origin, binding, namespace, operation, payload)
		},
		Middleware:    h.middleware,
		CanUpdate:     h.canUpdate,
		StrictUpdates: h.strict,
		Clock:         h.clock,
		Logger:        h.logger,
	})
	if err != nil {
		return "", err
	}
	if err := actor.Initialize(ctx, module); err != nil {
		return "", err
	}

	actorClaims := actor.Claims()
	actorID := actorClaims.Subject
	sub, err := h.Dispatcher.Serve(entity.Actor(actorID), actor.Invoke)
	if err != nil {
		actor.Halt(ctx)
		return "", err
	}

	h.mu.Lock()
	running, ok := h.actors[actorID]
	if !ok {
		running = &runningActor{path: path}
		h.actors[actorID] = running
	}
	running.replicas = append(running.replicas, &replica{actor: actor, sub: sub})
	h.claims[actorID] = actorClaims
	h.mu.Unlock()

	if err := h.advertiseClaims(ctx, actorID, actor.Token()); err != nil {
		h.logger.Warn("advertising actor claims", "actor", actorID, "error", err)
	}
	return actorID, nil
}

// StopActor halts every replica of the actor via self-addressed halt
// envelopes and removes it from the host.
func (h *Host) StopActor(ctx context.Context, actorID string) error {
	h.mu.Lock()
	running, ok := h.actors[actorID]
	if ok {
		delete(h.actors, actorID)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: actor %s", ErrNotRunning, actorID)
	}

	target := entity.Actor(actorID)
	var firstErr error
	for _, rep := range running.replicas {
		inv, err := invocation.New(h.key, target, target, actorhost.OperationHalt, nil, h.clock.Now())
		if err == nil {
			_, err = rep.actor.Invoke(ctx, inv)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		rep.sub.Unsubscribe()
	}
	h.logger.Info("actor stopped", "actor", actorID, "replicas", len(running.replicas))
	return firstErr
}

// UpdateActor live-updates every replica of a running actor with the
// module at path.
func (h *Host) UpdateActor(ctx context.Context, actorID, path string) error {
	module, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("host: reading module: %w", err)
	}
	if err := h.UpdateActorBytes(ctx, actorID, module); err != nil {
		return err
	}
	// Scale-ups after an update start replicas from the new module.
	h.mu.Lock()
	if running, ok := h.actors[actorID]; ok {
		running.path = path
	}
	h.mu.Unlock()
	return nil
}

// UpdateActorBytes live-updates every replica of a running actor with
// already-loaded module bytes. Hot-reload watchers use this form.
func (h *Host) UpdateActorBytes(ctx context.Context, actorID string, module []byte) error {
	h.mu.Lock()
	running, ok := h.actors[actorID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: actor %s", ErrNotRunning, actorID)
	}

	for _, rep := range running.replicas {
		if err := rep.actor.LiveUpdate(ctx, module); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if len(running.replicas) > 0 {
		h.claims[actorID] = running.replicas[0].actor.Claims()
	}
	h.mu.Unlock()
	if len(running.replicas) > 0 {
		if err := h.advertiseClaims(ctx, actorID, running.replicas[0].actor.Token()); err != nil {
			h.logger.Warn("advertising updated claims", "actor", actorID, "error", err)
		}
	}
	return nil
}

// ScaleActor adjusts the replica count of a running actor.
func (h *Host) ScaleActor(ctx context.Context, actorID string, count int) error {
	if count < 1 {
		return fmt.Errorf("host: replica count %d is below 1", count)
	}
	h.mu.Lock()
	running, ok := h.actors[actorID]
	var path string
	var current int
	if ok {
		path = running.path
		current = len(running.replicas)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: actor %s", ErrNotRunning, actorID)
	}

	for ; current < count; current++ {
		if _, err := h.StartActor(ctx, path); err != nil {
			return err
		}
	}
	if current > count {
		h.mu.Lock()
		excess := running.replicas[count:]
		running.replicas = running.replicas[:count]
		h.mu.Unlock()
		target := entity.Actor(actorID)
		for _, rep := range excess {
			inv, err := invocation.New(h.key, target, target, actorhost.OperationHalt, nil, h.clock.Now())
			if err == nil {
				rep.actor.Invoke(ctx, inv) //nolint:errcheck // replica is being discarded
			}
			rep.sub.Unsubscribe()
		}
		h.logger.Info("actor scaled down", "actor", actorID, "replicas", count)
	}
	return nil
}

// RegisterProvider starts a capability provider on this host and binds
// any links already registered for it.
func (h *Host) RegisterProvider(ctx context.Context, providerEntity entity.Entity, impl provider.Provider) error {
	runner, err := provider.NewRunner(provider.RunnerConfig{
		Entity:     providerEntity,
		Impl:       impl,
		Dispatcher: h.Dispatcher,
		Logger:     h.logger,
	})
	if err != nil {
		return err
	}

	key := providerEntity.URL()
	h.mu.Lock()
	if _, ok := h.providers[key]; ok {
		h.mu.Unlock()
		runner.Shutdown()
		return fmt.Errorf("%w: provider %s", ErrAlreadyRunning, key)
	}
	h.providers[key] = &runningProvider{entity: providerEntity, runner: runner}
	h.mu.Unlock()

	// Bind pre-existing links for this provider.
	for _, def := range h.Links.All() {
		if def.ProviderID == providerEntity.ID &&
			def.ContractID == providerEntity.ContractID &&
			def.LinkName == providerEntity.LinkName {
			if err := impl.ReceiveLink(def); err != nil {
				h.logger.Warn("binding restored link", "actor", def.ActorID, "error", err)
			}
		}
	}
	return nil
}

// StopProvider shuts down a provider running on this host.
func (h *Host) StopProvider(providerEntity entity.Entity) error {
	key := providerEntity.URL()
	h.mu.Lock()
	p, ok := h.providers[key]
	if ok {
		delete(h.providers, key)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: provider %s", ErrNotRunning, key)
	}
	return h.stopProvider(p)
}

func (h *Host) stopProvider(p *runningProvider) error {
	return p.runner.Shutdown()
}

// PutLink registers a link definition lattice-wide and, when the
// provider runs on this host, delivers the binding to it.
func (h *Host) PutLink(ctx context.Context, def links.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	providerEntity := entity.Provider(def.ProviderID, def.ContractID, def.LinkName)
	payload, err := codec.Marshal(def)
	if err != nil {
		return fmt.Errorf("host: encoding link definition: %w", err)
	}
	// Deliver the binding and wait for the provider's ack before the
	// link becomes visible in the registry, so a call racing the put
	// cannot reach an unbound provider. A provider not running yet is
	// fine: it binds retroactively on registration.
	_, err = h.Dispatcher.Send(ctx, entity.Actor(h.ID()), providerEntity, provider.OperationBindActor, payload)
	if err != nil && !errors.Is(err, bus.ErrNoResponders) {
		h.logger.Warn("delivering link binding", "provider", def.ProviderID, "error", err)
	}
	if err := h.Links.Put(ctx, def); err != nil {
		// The registry refused the definition; unbind so the
		// provider does not serve a link that never existed.
		if _, rerr := h.Dispatcher.Send(ctx, entity.Actor(h.ID()), providerEntity, provider.OperationRemoveActor, payload); rerr != nil && !errors.Is(rerr, bus.ErrNoResponders) {
			h.logger.Warn("unbinding refused link", "provider", def.ProviderID, "error", rerr)
		}
		return err
	}
	return nil
}

// DeleteLink removes a link definition lattice-wide and notifies the
// provider.
func (h *Host) DeleteLink(ctx context.Context, actorID, contractID, linkName string) error {
	def, ok := h.Links.Lookup(actorID, contractID, linkName)
	if err := h.Links.Delete(ctx, actorID, contractID, linkName); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	payload, err := codec.Marshal(def)
	if err != nil {
		return fmt.Errorf("host: encoding link definition: %w", err)
	}
	providerEntity := entity.Provider(def.ProviderID, def.ContractID, def.LinkName)
	_, err = h.Dispatcher.Send(ctx, entity.Actor(h.ID()), providerEntity, provider.OperationRemoveActor, payload)
	if err != nil && !errors.Is(err, bus.ErrNoResponders) {
		h.logger.Warn("delivering link removal", "provider", def.ProviderID, "error", err)
	}
	return nil
}

// hostCall routes one guest outbound call. Actor-to-actor calls name
// the target actor in the namespace; capability calls name a contract,
// resolved through the link registry. The origin is fixed per guest at
// start time, so a guest cannot spoof another actor's identity.
func (h *Host) hostCall(ctx context.Context, origin entity.Entity, binding, namespace, operation string, payload []byte) ([]byte, error) {
	var target entity.Entity
	if isContractID(namespace) {
		if binding == "" {
			binding = entity.DefaultLinkName
		}
		// Link puts replicate asynchronously; a call racing one
		// waits out the propagation window before giving up.
		def, err := h.Links.WaitLookup(ctx, origin.ID, namespace, binding, linkWaitBudget)
		if err != nil {
			return nil, fmt.Errorf("%w: actor %s has no %q link for %s",
				ErrNotLinked, origin.ID, binding, namespace)
		}
		target = entity.Provider(def.ProviderID, def.ContractID, def.LinkName)
	} else {
		target = entity.Actor(namespace)
	}
	return h.Dispatcher.Send(ctx, origin, target, operation, payload)
}

// isContractID distinguishes capability contracts ("weft:keyvalue")
// from actor public keys in a guest call's namespace field.
func isContractID(namespace string) bool {
	for i := 0; i < len(namespace); i++ {
		if namespace[i] == ':' {
			return true
		}
	}
	return false
}

// Labels returns a copy of the host's placement labels.
func (h *Host) Labels() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.labels))
	for k, v := range h.labels {
		out[k] = v
	}
	return out
}

// PutLabel sets a placement label at runtime.
func (h *Host) PutLabel(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels[key] = value
}

// DeleteLabel removes a placement label. The hostcore labels cannot be
// removed.
func (h *Host) DeleteLabel(key string) {
	if key == LabelOS || key == LabelArch {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.labels, key)
}

// MatchesRequirements reports whether every required label matches.
func (h *Host) MatchesRequirements(requirements map[string]string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, want := range requirements {
		if h.labels[k] != want {
			return false
		}
	}
	return true
}

// RunsActor reports whether the actor has at least one replica here.
func (h *Host) RunsActor(actorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.actors[actorID]
	return ok
}

// RunsProvider reports whether the provider runs here.
func (h *Host) RunsProvider(providerEntity entity.Entity) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.providers[providerEntity.URL()]
	return ok
}

// ActorClaims returns the cached verified claims for an actor, local
// or advertised.
func (h *Host) ActorClaims(actorID string) (claims.Claims[claims.Actor], bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.claims[actorID]
	return c, ok
}

// AllClaims returns a snapshot of the claims cache.
func (h *Host) AllClaims() []claims.Claims[claims.Actor] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]claims.Claims[claims.Actor], 0, len(h.claims))
	for _, c := range h.claims {
		out = append(out, c)
	}
	return out
}

// advertiseClaims persists and broadcasts an actor's verified token.
func (h *Host) advertiseClaims(ctx context.Context, actorID, token string) error {
	if h.store != nil {
		if err := h.store.Put(ctx, claimsPrefix+actorID, []byte(token)); err != nil {
			return err
		}
	}
	return h.bus.Publish(bus.ClaimsSubject(h.lattice), []byte(token))
}

// onClaims caches claims advertised by other hosts, after validation.
func (h *Host) onClaims(msg bus.Message) {
	c, err := claims.Validate[claims.Actor](string(msg.Data), h.clock.Now())
	if err != nil {
		h.logger.Warn("rejected claims advertisement", "error", err)
		return
	}
	h.mu.Lock()
	h.claims[c.Subject] = *c
	h.mu.Unlock()
}

// restoreClaims loads the persisted claims cache.
func (h *Host) restoreClaims(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	stored, err := h.store.List(ctx, claimsPrefix)
	if err != nil {
		return fmt.Errorf("host: restoring claims: %w", err)
	}
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, token := range stored {
		c, err := claims.Validate[claims.Actor](string(token), now)
		if err != nil {
			h.logger.Warn("dropping stale persisted claims", "key", key, "error", err)
			continue
		}
		h.claims[c.Subject] = *c
	}
	return nil
}
