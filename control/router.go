// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/host"
	"github.com/weft-foundation/weft/kvstore"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/provider"
)

const configPrefix = "config_"

// queueGroup load-balances lattice-singleton commands (link writes)
// so exactly one host executes each; the registry replicates the
// result. Config stays host-targeted because stores do not replicate.
const queueGroup = "weft-ctl"

// RouterConfig assembles a Router.
type RouterConfig struct {
	// Host is the runtime the router commands. Required.
	Host *host.Host

	// Bus carries the control plane. Required.
	Bus bus.Connection

	// Store serves the config commands. Optional: without it, config
	// commands are refused.
	Store *kvstore.Store

	// Providers maps contract ids to provider constructors, enabling
	// the provider start command for those contracts.
	Providers map[string]func() provider.Provider

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger receives routing events. If nil, logs are discarded.
	Logger *slog.Logger
}

// Router subscribes a host to its lattice's control plane and executes
// commands against it.
type Router struct {
	host      *host.Host
	bus       bus.Connection
	store     *kvstore.Store
	factories map[string]func() provider.Provider
	clock     clock.Clock
	logger    *slog.Logger
	started   int64
	subs      []bus.Subscription
}

// NewRouter validates the wiring. Call Start to begin serving.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("control: Host is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("control: Bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Router{
		host:      cfg.Host,
		bus:       cfg.Bus,
		store:     cfg.Store,
		factories: cfg.Providers,
		clock:     clk,
		logger:    logger,
	}, nil
}

// Start subscribes the control subjects. Per-host categories get a
// plain subscription (every host sees every command and filters by
// target); lattice-singleton categories are queue-subscribed so one
// host executes each command.
func (r *Router) Start() error {
	r.started = r.clock.Now().Unix()
	lattice := r.host.Lattice()

	for _, category := range []string{"ping", "host", "actor", "provider", "auction", "label", "config", "claims"} {
		sub, err := r.bus.Subscribe(bus.ControlSubject(lattice, category, ">"), r.handle)
		if err != nil {
			r.Stop()
			return fmt.Errorf("control: subscribing %s: %w", category, err)
		}
		r.subs = append(r.subs, sub)
	}
	for _, category := range []string{"link"} {
		sub, err := r.bus.QueueSubscribe(bus.ControlSubject(lattice, category, ">"), queueGroup, r.handle)
		if err != nil {
			r.Stop()
			return fmt.Errorf("control: subscribing %s: %w", category, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info("control router online", "host", r.host.ID(), "lattice", lattice)
	return nil
}

// Stop unsubscribes the router from the control plane.
func (r *Router) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

// handle demuxes one control message by its subject tokens.
func (r *Router) handle(msg bus.Message) {
	parts, ok := bus.ParseControl(r.host.Lattice(), msg.Subject)
	if !ok || len(parts) < 2 {
		r.reply(msg, refused(fmt.Errorf("unsupported subject %s", msg.Subject)))
		return
	}
	category, verb := parts[0], parts[1]

	// Targeted commands name a host in the final token; commands for
	// other hosts are someone else's business.
	if len(parts) > 2 && parts[2] != r.host.ID() {
		return
	}

	ctx := context.Background()
	switch category {
	case "ping":
		r.reply(msg, r.ping())
	case "host":
		r.reply(msg, r.hostCommand(ctx, verb))
	case "actor":
		r.reply(msg, r.actorCommand(ctx, verb, msg.Data))
	case "provider":
		r.reply(msg, r.providerCommand(ctx, verb, msg.Data))
	case "auction":
		r.auction(msg, verb)
	case "link":
		r.reply(msg, r.linkCommand(ctx, verb, msg.Data))
	case "label":
		r.reply(msg, r.labelCommand(verb, msg.Data))
	case "config":
		r.reply(msg, r.configCommand(ctx, verb, msg.Data))
	case "claims":
		r.reply(msg, r.claimsCommand(verb))
	default:
		r.reply(msg, refused(fmt.Errorf("unsupported subject %s", msg.Subject)))
	}
}

func (r *Router) reply(msg bus.Message, ack Ack) {
	if msg.Reply == "" {
		if !ack.Accepted {
			r.logger.Warn("unreplyable command failed", "subject", msg.Subject, "error", ack.Error)
		}
		return
	}
	raw, err := json.Marshal(ack)
	if err != nil {
		r.logger.Error("encoding ack", "error", err)
		return
	}
	if err := r.bus.Publish(msg.Reply, raw); err != nil {
		r.logger.Warn("publishing ack", "subject", msg.Subject, "error", err)
	}
}

func (r *Router) ping() Ack {
	inv := r.host.Inventory()
	return accepted(PingResponse{
		HostID:        r.host.ID(),
		Lattice:       r.host.Lattice(),
		Labels:        inv.Labels,
		Actors:        len(inv.Actors),
		Providers:     len(inv.Providers),
		UptimeSeconds: r.clock.Now().Unix() - r.started,
	})
}

func (r *Router) hostCommand(ctx context.Context, verb string) Ack {
	switch verb {
	case "inventory":
		return accepted(r.host.Inventory())
	case "stop":
		if err := r.host.Stop(ctx); err != nil {
			return refused(err)
		}
		r.Stop()
		return accepted(nil)
	default:
		return refused(fmt.Errorf("unsupported host verb %q", verb))
	}
}

func (r *Router) actorCommand(ctx context.Context, verb string, data []byte) Ack {
	switch verb {
	case "start":
		var cmd StartActorCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return refused(err)
		}
		actorID, err := r.host.StartActor(ctx, cmd.Path)
		if err != nil {
			return refused(err)
		}
		if cmd.Replicas > 1 {
			if err := r.host.ScaleActor(ctx, actorID, cmd.Replicas); err != nil {
				return refused(err)
			}
		}
		return accepted(map[string]string{"actor_id": actorID})
	case "stop":
		var cmd StopActorCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return refused(err)
		}
		if err := r.host.StopActor(ctx, cmd.ActorID); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "update":
		var cmd UpdateActorCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return refused(err)
		}
		if err := r.host.UpdateActor(ctx, cmd.ActorID, cmd.Path); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "scale":
		var cmd ScaleActorCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return refused(err)
		}
		if err := r.host.ScaleActor(ctx, cmd.ActorID, cmd.Replicas); err != nil {
			return refused(err)
		}
		return accepted(nil)
	default:
		return refused(fmt.Errorf("unsupported actor verb %q", verb))
	}
}

func (r *Router) providerCommand(ctx context.Context, verb string, data []byte) Ack {
	var cmd ProviderCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return refused(err)
	}
	if cmd.LinkName == "" {
		cmd.LinkName = entity.DefaultLinkName
	}
	providerEntity := entity.Provider(cmd.ProviderID, cmd.ContractID, cmd.LinkName)

	switch verb {
	case "start":
		factory, ok := r.factories[cmd.ContractID]
		if !ok {
			return refused(fmt.Errorf("no provider implementation for contract %q", cmd.ContractID))
		}
		if err := r.host.RegisterProvider(ctx, providerEntity, factory()); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "stop":
		if err := r.host.StopProvider(providerEntity); err != nil {
			return refused(err)
		}
		return accepted(nil)
	default:
		return refused(fmt.Errorf("unsupported provider verb %q", verb))
	}
}

// auction answers only when this host is eligible; everyone else stays
// silent so the asker's window fills with usable bids only.
func (r *Router) auction(msg bus.Message, verb string) {
	if msg.Reply == "" {
		return
	}
	switch verb {
	case "actor":
		var req ActorAuction
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		if !r.host.MatchesRequirements(req.Constraints) {
			return
		}
		if req.ActorID != "" && r.host.RunsActor(req.ActorID) {
			return
		}
	case "provider":
		var req ProviderAuction
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		if !r.host.MatchesRequirements(req.Constraints) {
			return
		}
		linkName := req.LinkName
		if linkName == "" {
			linkName = entity.DefaultLinkName
		}
		if req.ProviderID != "" && r.host.RunsProvider(entity.Provider(req.ProviderID, req.ContractID, linkName)) {
			return
		}
	default:
		return
	}
	raw, err := json.Marshal(AuctionResponse{HostID: r.host.ID()})
	if err != nil {
		return
	}
	r.bus.Publish(msg.Reply, raw) //nolint:errcheck // best-effort bid
}

func (r *Router) linkCommand(ctx context.Context, verb string, data []byte) Ack {
	switch verb {
	case "put":
		var def links.Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return refused(err)
		}
		if err := r.host.PutLink(ctx, def); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "del":
		var def links.Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return refused(err)
		}
		if err := r.host.DeleteLink(ctx, def.ActorID, def.ContractID, def.LinkName); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "get":
		return accepted(r.host.Links.All())
	default:
		return refused(fmt.Errorf("unsupported link verb %q", verb))
	}
}

func (r *Router) labelCommand(verb string, data []byte) Ack {
	var cmd LabelCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return refused(err)
	}
	switch verb {
	case "put":
		r.host.PutLabel(cmd.Key, cmd.Value)
		return accepted(nil)
	case "del":
		r.host.DeleteLabel(cmd.Key)
		return accepted(nil)
	default:
		return refused(fmt.Errorf("unsupported label verb %q", verb))
	}
}

func (r *Router) configCommand(ctx context.Context, verb string, data []byte) Ack {
	if r.store == nil {
		return refused(fmt.Errorf("host has no durable store"))
	}
	var cmd ConfigCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return refused(err)
	}
	switch verb {
	case "get":
		value, err := r.store.Get(ctx, configPrefix+cmd.Key)
		if err != nil {
			return refused(err)
		}
		return accepted(ConfigCommand{Key: cmd.Key, Value: value})
	case "put":
		if err := r.store.Put(ctx, configPrefix+cmd.Key, cmd.Value); err != nil {
			return refused(err)
		}
		return accepted(nil)
	case "del":
		if err := r.store.Delete(ctx, configPrefix+cmd.Key); err != nil {
			return refused(err)
		}
		return accepted(nil)
	default:
		return refused(fmt.Errorf("unsupported config verb %q", verb))
	}
}

func (r *Router) claimsCommand(verb string) Ack {
	if verb != "get" {
		return refused(fmt.Errorf("unsupported claims verb %q", verb))
	}
	return accepted(r.host.AllClaims())
}
