// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package actorhost

import (
	"context"
	"fmt"

	wapc "github.com/wapc/wapc-go"
	"github.com/wapc/wapc-go/engines/wazero"
)

// HostCall is invoked by a guest calling out of its sandbox. The
// binding is the link name, the namespace is the capability contract
// id (or the target actor's public key for actor-to-actor calls).
type HostCall func(ctx context.Context, binding, namespace, operation string, payload []byte) ([]byte, error)

// Guest is one instantiated actor module.
type Guest interface {
	// Call runs one guest operation and returns its result.
	Call(ctx context.Context, operation string, payload []byte) ([]byte, error)

	// Close tears the instance down. The guest is unusable after.
	Close(ctx context.Context) error
}

// Engine turns raw module bytes into runnable guests. Tests inject
// fakes; production wiring uses NewWapcEngine.
type Engine interface {
	Instantiate(ctx context.Context, module []byte, hostCall HostCall) (Guest, error)
}

// wapcEngine runs waPC-conformant WebAssembly modules on the wazero
// runtime. No cgo, no system dependencies.
type wapcEngine struct{}

// NewWapcEngine returns the production WebAssembly engine.
func NewWapcEngine() Engine { return wapcEngine{} }

func (wapcEngine) Instantiate(ctx context.Context, module []byte, hostCall HostCall) (Guest, error) {
	mod, err := wazero.Engine().New(ctx, wapc.HostCallHandler(hostCall), module, &wapc.ModuleConfig{
		Logger: func(string) {}, // guest console output is dropped
	})
	if err != nil {
		return nil, fmt.Errorf("actorhost: compiling module: %w", err)
	}
	instance, err := mod.Instantiate(ctx)
	if err != nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("actorhost: instantiating module: %w", err)
	}
	return &wapcGuest{module: mod, instance: instance}, nil
}

type wapcGuest struct {
	module   wapc.Module
	instance wapc.Instance
}

func (g *wapcGuest) Call(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	result, err := g.instance.Invoke(ctx, operation, payload)
	if err != nil {
		return nil, fmt.Errorf("actorhost: guest call %s: %w", operation, err)
	}
	return result, nil
}

func (g *wapcGuest) Close(ctx context.Context) error {
	if err := g.instance.Close(ctx); err != nil {
		g.module.Close(ctx)
		return fmt.Errorf("actorhost: closing instance: %w", err)
	}
	if err := g.module.Close(ctx); err != nil {
		return fmt.Errorf("actorhost: closing module: %w", err)
	}
	return nil
}
