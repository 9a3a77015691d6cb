// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package provider_test

import (
	"context"
	"testing"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/provider"
	"github.com/weft-foundation/weft/provider/keyvalue"
	"github.com/weft-foundation/weft/rpc"
)

// The runner is exercised end to end: lifecycle and capability
// operations arrive as real signed invocations over the bus.
func TestRunnerOverTheLattice(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	key, err := claims.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	dispatcher, err := rpc.New(rpc.Config{Lattice: "default", HostKey: key, Bus: conn})
	if err != nil {
		t.Fatalf("rpc.New: %v", err)
	}

	providerEntity := entity.Provider("VAKV", keyvalue.ContractID, "default")
	runner, err := provider.NewRunner(provider.RunnerConfig{
		Entity:     providerEntity,
		Impl:       keyvalue.New(),
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer runner.Shutdown()

	actor := entity.Actor("MAACTOR")
	host := entity.Actor(key.PublicKey())
	ctx := context.Background()

	// Bind, then call, as a host and an actor would.
	defPayload, err := codec.Marshal(links.Definition{
		ActorID:    "MAACTOR",
		ProviderID: "VAKV",
		ContractID: keyvalue.ContractID,
		LinkName:   "default",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := dispatcher.Send(ctx, host, providerEntity, provider.OperationBindActor, defPayload); err != nil {
		t.Fatalf("BindActor: %v", err)
	}

	setPayload, _ := codec.Marshal(keyvalue.Request{Key: "k", Value: []byte("v")})
	if _, err := dispatcher.Send(ctx, actor, providerEntity, keyvalue.OperationSet, setPayload); err != nil {
		t.Fatalf("Set: %v", err)
	}

	getPayload, _ := codec.Marshal(keyvalue.Request{Key: "k"})
	raw, err := dispatcher.Send(ctx, actor, providerEntity, keyvalue.OperationGet, getPayload)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got keyvalue.GetResponse
	if err := codec.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Exists || string(got.Value) != "v" {
		t.Fatalf("Get = %+v", got)
	}

	// Health request is a reserved operation answered by the runner.
	raw, err = dispatcher.Send(ctx, host, providerEntity, provider.OperationHealthRequest, nil)
	if err != nil {
		t.Fatalf("HealthRequest: %v", err)
	}
	var health provider.HealthResponse
	if err := codec.Unmarshal(raw, &health); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !health.Healthy {
		t.Fatalf("health = %+v", health)
	}
}
