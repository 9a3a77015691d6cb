// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package host

import "sort"

// ActorDescription summarizes one running actor.
type ActorDescription struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Revision int32  `json:"revision"`
	Replicas int    `json:"replicas"`
}

// ProviderDescription summarizes one running provider.
type ProviderDescription struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	LinkName   string `json:"link_name"`
}

// Inventory is the control plane's view of one host.
type Inventory struct {
	HostID    string                `json:"host_id"`
	Lattice   string                `json:"lattice"`
	Labels    map[string]string     `json:"labels"`
	Actors    []ActorDescription    `json:"actors"`
	Providers []ProviderDescription `json:"providers"`
}

// Inventory reports what this host is running right now.
func (h *Host) Inventory() Inventory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inv := Inventory{
		HostID:  h.ID(),
		Lattice: h.lattice,
		Labels:  make(map[string]string, len(h.labels)),
	}
	for k, v := range h.labels {
		inv.Labels[k] = v
	}
	for id, running := range h.actors {
		desc := ActorDescription{ID: id, Replicas: len(running.replicas)}
		if c, ok := h.claims[id]; ok {
			desc.Name = c.Metadata.Name
			desc.Revision = c.Metadata.Revision
		}
		inv.Actors = append(inv.Actors, desc)
	}
	for _, p := range h.providers {
		inv.Providers = append(inv.Providers, ProviderDescription{
			ID:         p.entity.ID,
			ContractID: p.entity.ContractID,
			LinkName:   p.entity.LinkName,
		})
	}
	sort.Slice(inv.Actors, func(i, j int) bool { return inv.Actors[i].ID < inv.Actors[j].ID })
	sort.Slice(inv.Providers, func(i, j int) bool { return inv.Providers[i].ID < inv.Providers[j].ID })
	return inv
}
