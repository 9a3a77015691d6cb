// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/host"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/links"
)

// DefaultWindow is how long scatter/gather calls collect replies.
const DefaultWindow = time.Second

// DefaultTimeout bounds single-host commands.
const DefaultTimeout = 2 * time.Second

// Client issues control-plane commands. Safe for concurrent use.
type Client struct {
	lattice string
	bus     bus.Connection
	clock   clock.Clock
	timeout time.Duration
}

// NewClient creates a control client for one lattice.
func NewClient(lattice string, conn bus.Connection, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.Real()
	}
	return &Client{lattice: lattice, bus: conn, clock: clk, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-command reply deadline (DefaultTimeout).
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// request issues one targeted command and decodes its ack.
func (c *Client) request(ctx context.Context, subject string, payload any) (Ack, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("control: encoding command: %w", err)
	}
	raw, err := c.bus.Request(ctx, subject, data, c.timeout)
	if err != nil {
		return Ack{}, fmt.Errorf("control: %s: %w", subject, err)
	}
	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return Ack{}, fmt.Errorf("control: decoding ack: %w", err)
	}
	if !ack.Accepted {
		return ack, fmt.Errorf("control: %s refused: %s", subject, ack.Error)
	}
	return ack, nil
}

// gather publishes a request and collects every reply arriving within
// the window.
func (c *Client) gather(subject string, payload any, window time.Duration) ([][]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("control: encoding request: %w", err)
	}
	inbox := c.bus.NewInbox()
	replies := make(chan []byte, 64)
	sub, err := c.bus.Subscribe(inbox, func(msg bus.Message) {
		select {
		case replies <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("control: subscribing inbox: %w", err)
	}
	defer sub.Unsubscribe()

	if err := c.bus.PublishRequest(subject, inbox, data); err != nil {
		return nil, fmt.Errorf("control: publishing %s: %w", subject, err)
	}

	var collected [][]byte
	deadline := c.clock.After(window)
	for {
		select {
		case reply := <-replies:
			collected = append(collected, reply)
		case <-deadline:
			return collected, nil
		}
	}
}

// Ping surveys the lattice and returns every host answering within the
// window.
func (c *Client) Ping(window time.Duration) ([]PingResponse, error) {
	raw, err := c.gather(bus.ControlSubject(c.lattice, "ping", "hosts"), nil, window)
	if err != nil {
		return nil, err
	}
	hosts := make([]PingResponse, 0, len(raw))
	for _, data := range raw {
		var ack Ack
		if err := json.Unmarshal(data, &ack); err != nil || !ack.Accepted {
			continue
		}
		var ping PingResponse
		if err := json.Unmarshal(ack.Data, &ping); err != nil {
			continue
		}
		hosts = append(hosts, ping)
	}
	return hosts, nil
}

// AuctionActor returns the ids of hosts bidding to run the actor.
func (c *Client) AuctionActor(req ActorAuction, window time.Duration) ([]string, error) {
	return c.collectBids(bus.ControlSubject(c.lattice, "auction", "actor"), req, window)
}

// AuctionProvider returns the ids of hosts bidding to run the
// provider.
func (c *Client) AuctionProvider(req ProviderAuction, window time.Duration) ([]string, error) {
	return c.collectBids(bus.ControlSubject(c.lattice, "auction", "provider"), req, window)
}

func (c *Client) collectBids(subject string, req any, window time.Duration) ([]string, error) {
	raw, err := c.gather(subject, req, window)
	if err != nil {
		return nil, err
	}
	bids := make([]string, 0, len(raw))
	for _, data := range raw {
		var bid AuctionResponse
		if err := json.Unmarshal(data, &bid); err != nil || bid.HostID == "" {
			continue
		}
		bids = append(bids, bid.HostID)
	}
	return bids, nil
}

// StartActor starts an actor on a specific host and returns its id.
func (c *Client) StartActor(ctx context.Context, hostID, path string, replicas int) (string, error) {
	ack, err := c.request(ctx, bus.ControlSubject(c.lattice, "actor", "start", hostID),
		StartActorCommand{Path: path, Replicas: replicas})
	if err != nil {
		return "", err
	}
	var result struct {
		ActorID string `json:"actor_id"`
	}
	if err := json.Unmarshal(ack.Data, &result); err != nil {
		return "", fmt.Errorf("control: decoding start reply: %w", err)
	}
	return result.ActorID, nil
}

// StopActor stops an actor on a specific host.
func (c *Client) StopActor(ctx context.Context, hostID, actorID string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "actor", "stop", hostID),
		StopActorCommand{ActorID: actorID})
	return err
}

// UpdateActor live-updates an actor on a specific host.
func (c *Client) UpdateActor(ctx context.Context, hostID, actorID, path string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "actor", "update", hostID),
		UpdateActorCommand{ActorID: actorID, Path: path})
	return err
}

// ScaleActor sets an actor's replica count on a specific host.
func (c *Client) ScaleActor(ctx context.Context, hostID, actorID string, replicas int) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "actor", "scale", hostID),
		ScaleActorCommand{ActorID: actorID, Replicas: replicas})
	return err
}

// StartProvider starts a provider on a specific host.
func (c *Client) StartProvider(ctx context.Context, hostID string, cmd ProviderCommand) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "provider", "start", hostID), cmd)
	return err
}

// StopProvider stops a provider on a specific host.
func (c *Client) StopProvider(ctx context.Context, hostID string, cmd ProviderCommand) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "provider", "stop", hostID), cmd)
	return err
}

// Inventory fetches one host's inventory.
func (c *Client) Inventory(ctx context.Context, hostID string) (host.Inventory, error) {
	ack, err := c.request(ctx, bus.ControlSubject(c.lattice, "host", "inventory", hostID), nil)
	if err != nil {
		return host.Inventory{}, err
	}
	var inv host.Inventory
	if err := json.Unmarshal(ack.Data, &inv); err != nil {
		return host.Inventory{}, fmt.Errorf("control: decoding inventory: %w", err)
	}
	return inv, nil
}

// StopHost shuts a host down.
func (c *Client) StopHost(ctx context.Context, hostID string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "host", "stop", hostID), nil)
	return err
}

// PutLink registers a link definition lattice-wide.
func (c *Client) PutLink(ctx context.Context, def links.Definition) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "link", "put"), def)
	return err
}

// DeleteLink removes a link definition lattice-wide.
func (c *Client) DeleteLink(ctx context.Context, def links.Definition) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "link", "del"), def)
	return err
}

// Links returns every link definition known to the lattice.
func (c *Client) Links(ctx context.Context) ([]links.Definition, error) {
	ack, err := c.request(ctx, bus.ControlSubject(c.lattice, "link", "get"), nil)
	if err != nil {
		return nil, err
	}
	var defs []links.Definition
	if err := json.Unmarshal(ack.Data, &defs); err != nil {
		return nil, fmt.Errorf("control: decoding links: %w", err)
	}
	return defs, nil
}

// PutLabel sets a placement label on a specific host.
func (c *Client) PutLabel(ctx context.Context, hostID, key, value string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "label", "put", hostID),
		LabelCommand{Key: key, Value: value})
	return err
}

// DeleteLabel removes a placement label from a specific host.
func (c *Client) DeleteLabel(ctx context.Context, hostID, key string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "label", "del", hostID),
		LabelCommand{Key: key})
	return err
}

// GetConfig reads one configuration entry from hostID's durable store.
// Config entries are host-local, never replicated, so every config
// command names its host.
func (c *Client) GetConfig(ctx context.Context, hostID, key string) ([]byte, error) {
	ack, err := c.request(ctx, bus.ControlSubject(c.lattice, "config", "get", hostID), ConfigCommand{Key: key})
	if err != nil {
		return nil, err
	}
	var cmd ConfigCommand
	if err := json.Unmarshal(ack.Data, &cmd); err != nil {
		return nil, fmt.Errorf("control: decoding config: %w", err)
	}
	return cmd.Value, nil
}

// PutConfig writes one configuration entry to hostID's durable store.
func (c *Client) PutConfig(ctx context.Context, hostID, key string, value []byte) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "config", "put", hostID), ConfigCommand{Key: key, Value: value})
	return err
}

// DeleteConfig removes one configuration entry from hostID's durable
// store.
func (c *Client) DeleteConfig(ctx context.Context, hostID, key string) error {
	_, err := c.request(ctx, bus.ControlSubject(c.lattice, "config", "del", hostID), ConfigCommand{Key: key})
	return err
}

// Claims returns the advertised actor claims table. Claims replicate
// lattice-wide, so any single host's answer is authoritative.
func (c *Client) Claims(ctx context.Context) ([]claims.Claims[claims.Actor], error) {
	ack, err := c.request(ctx, bus.ControlSubject(c.lattice, "claims", "get"), nil)
	if err != nil {
		return nil, err
	}
	var all []claims.Claims[claims.Actor]
	if err := json.Unmarshal(ack.Data, &all); err != nil {
		return nil, fmt.Errorf("control: decoding claims: %w", err)
	}
	return all, nil
}
