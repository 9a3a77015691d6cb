// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the lattice's operator plane. Commands travel on
// versioned subjects (weft.ctl.v1.<lattice>.<category>.<verb>[.<host>])
// with JSON payloads, separate from the CBOR RPC plane, so operator
// tooling can be written against it without the wire codec.
//
// Targeted commands carry the destination host id as the final subject
// token; other hosts ignore them silently. Auctions are scatter/gather:
// every eligible host answers, ineligible hosts stay silent, and the
// asker collects whatever arrives within its window.
package control

import "encoding/json"

// Ack is every command's reply envelope.
type Ack struct {
	Accepted bool            `json:"accepted"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func accepted(data any) Ack {
	if data == nil {
		return Ack{Accepted: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Ack{Accepted: false, Error: "encoding reply: " + err.Error()}
	}
	return Ack{Accepted: true, Data: raw}
}

func refused(err error) Ack {
	return Ack{Accepted: false, Error: err.Error()}
}

// StartActorCommand starts replicas of the module at Path on the
// targeted host.
type StartActorCommand struct {
	Path     string `json:"path"`
	Replicas int    `json:"replicas,omitempty"`
}

// StopActorCommand stops every replica of an actor on the targeted
// host.
type StopActorCommand struct {
	ActorID string `json:"actor_id"`
}

// UpdateActorCommand live-updates a running actor from the module at
// Path.
type UpdateActorCommand struct {
	ActorID string `json:"actor_id"`
	Path    string `json:"path"`
}

// ScaleActorCommand sets the replica count of a running actor.
type ScaleActorCommand struct {
	ActorID  string `json:"actor_id"`
	Replicas int    `json:"replicas"`
}

// ProviderCommand starts or stops a provider. Contract selects the
// implementation from the host's registered factories on start.
type ProviderCommand struct {
	ProviderID string `json:"provider_id"`
	ContractID string `json:"contract_id"`
	LinkName   string `json:"link_name,omitempty"`
}

// ActorAuction asks which hosts could run an actor. Hosts already
// running it, or missing a required label, stay silent.
type ActorAuction struct {
	ActorID     string            `json:"actor_id"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// ProviderAuction asks which hosts could run a provider.
type ProviderAuction struct {
	ProviderID  string            `json:"provider_id"`
	ContractID  string            `json:"contract_id"`
	LinkName    string            `json:"link_name,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// AuctionResponse is one host's bid.
type AuctionResponse struct {
	HostID string `json:"host_id"`
}

// PingResponse is one host's answer to a lattice-wide ping.
type PingResponse struct {
	HostID        string            `json:"host_id"`
	Lattice       string            `json:"lattice"`
	Labels        map[string]string `json:"labels"`
	Actors        int               `json:"actors"`
	Providers     int               `json:"providers"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// LabelCommand sets or removes one placement label on the targeted
// host.
type LabelCommand struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// ConfigCommand reads or writes one lattice configuration entry.
type ConfigCommand struct {
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}
