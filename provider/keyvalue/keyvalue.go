// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyvalue is the reference capability provider: an in-memory
// key-value store under the weft:keyvalue contract. Each bound actor
// gets an isolated namespace; an actor can never read another actor's
// keys through this provider.
package keyvalue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/provider"
)

// ContractID is the capability contract this provider fulfills.
const ContractID = "weft:keyvalue"

// Operations in the weft:keyvalue contract.
const (
	OperationGet  = "Get"
	OperationSet  = "Set"
	OperationDel  = "Del"
	OperationKeys = "Keys"
)

// Request is the payload for every keyvalue operation.
type Request struct {
	Key   string `cbor:"1,keyasint" json:"key,omitempty"`
	Value []byte `cbor:"2,keyasint,omitempty" json:"value,omitempty"`
}

// GetResponse answers a Get.
type GetResponse struct {
	Exists bool   `cbor:"1,keyasint" json:"exists"`
	Value  []byte `cbor:"2,keyasint,omitempty" json:"value,omitempty"`
}

// KeysResponse answers a Keys.
type KeysResponse struct {
	Keys []string `cbor:"1,keyasint,omitempty" json:"keys,omitempty"`
}

// Store is the in-memory weft:keyvalue provider.
type Store struct {
	mu     sync.RWMutex
	bound  map[string]map[string][]byte // actor id → namespace
	closed bool
}

// New creates an empty provider.
func New() *Store {
	return &Store{bound: make(map[string]map[string][]byte)}
}

// ReceiveLink implements provider.Provider.
func (s *Store) ReceiveLink(def links.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("keyvalue: provider is shut down")
	}
	if _, ok := s.bound[def.ActorID]; !ok {
		s.bound[def.ActorID] = make(map[string][]byte)
	}
	return nil
}

// DeleteLink implements provider.Provider. The actor's namespace is
// discarded with the binding.
func (s *Store) DeleteLink(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bound, actorID)
	return nil
}

// HealthCheck implements provider.Provider.
func (s *Store) HealthCheck() provider.HealthResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return provider.HealthResponse{Healthy: false, Message: "shut down"}
	}
	return provider.HealthResponse{
		Healthy: true,
		Message: fmt.Sprintf("%d actors bound", len(s.bound)),
	}
}

// Handle implements provider.Provider.
func (s *Store) Handle(_ context.Context, actorID, operation string, payload []byte) ([]byte, error) {
	var req Request
	if len(payload) > 0 {
		if err := codec.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("keyvalue: decoding request: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	namespace, ok := s.bound[actorID]
	if !ok {
		return nil, fmt.Errorf("%w: actor %s has no weft:keyvalue link", provider.ErrNotBound, actorID)
	}

	switch operation {
	case OperationGet:
		value, exists := namespace[req.Key]
		return codec.Marshal(GetResponse{Exists: exists, Value: value})

	case OperationSet:
		namespace[req.Key] = req.Value
		return nil, nil

	case OperationDel:
		delete(namespace, req.Key)
		return nil, nil

	case OperationKeys:
		prefix := req.Key
		var keys []string
		for k := range namespace {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		return codec.Marshal(KeysResponse{Keys: keys})

	default:
		return nil, fmt.Errorf("keyvalue: unknown operation %q", operation)
	}
}

// Shutdown implements provider.Provider.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.bound = make(map[string]map[string][]byte)
	return nil
}
