// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/chunk"
	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/codec"
	"github.com/weft-foundation/weft/lib/entity"
)

func testDispatcher(t *testing.T, conn bus.Connection, chunks chunk.Store) *Dispatcher {
	t.Helper()
	key, err := claims.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	d, err := New(Config{Lattice: "default", HostKey: key, Bus: conn, Chunks: chunks})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestSendRoundTrip(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	actor := entity.Actor("MAECHO")
	origin := entity.Actor("MACALLER")

	sub, err := d.Serve(actor, func(_ context.Context, inv *invocation.Invocation) ([]byte, error) {
		if inv.Operation != "Echo" {
			t.Errorf("handler saw operation %q", inv.Operation)
		}
		return append([]byte("echo: "), inv.Msg...), nil
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	got, err := d.Send(context.Background(), origin, actor, "Echo", []byte("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != "echo: hello" {
		t.Fatalf("Send result = %q", got)
	}
}

func TestSendRemoteFailure(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	actor := entity.Actor("MAFAIL")
	sub, err := d.Serve(actor, func(context.Context, *invocation.Invocation) ([]byte, error) {
		return nil, errors.New("guest trapped")
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	_, err = d.Send(context.Background(), entity.Actor("MACALLER"), actor, "Boom", nil)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("Send: err = %v, want ErrRemote", err)
	}
	if !strings.Contains(err.Error(), "guest trapped") {
		t.Fatalf("Send: error %q lost the remote message", err)
	}
}

func TestSendTimeoutIsInconclusive(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	actor := entity.Actor("MASLOW")
	release := make(chan struct{})
	sub, err := d.Serve(actor, func(context.Context, *invocation.Invocation) ([]byte, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()
	defer close(release)

	_, err = d.SendTimeout(context.Background(), entity.Actor("MACALLER"), actor, "Slow", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("SendTimeout: err = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), "result unknown") {
		t.Fatalf("timeout error %q must flag the inconclusive outcome", err)
	}
}

func TestSendNoResponders(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	_, err := d.Send(context.Background(), entity.Actor("MACALLER"), entity.Actor("MAGHOST"), "Echo", nil)
	if !errors.Is(err, bus.ErrNoResponders) {
		t.Fatalf("Send to unsubscribed target: err = %v, want ErrNoResponders", err)
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	chunks, err := chunk.NewFSStore(chunk.FSConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	d := testDispatcher(t, conn, chunks)

	// Both payload and result exceed the staging threshold; the
	// bytes must survive the detour untouched.
	payload := make([]byte, chunk.Threshold+chunk.FrameSize+17)
	rand.New(rand.NewSource(1)).Read(payload)

	actor := entity.Actor("MABULK")
	sub, err := d.Serve(actor, func(_ context.Context, inv *invocation.Invocation) ([]byte, error) {
		if uint64(len(inv.Msg)) != inv.ContentLength {
			t.Errorf("handler saw %d of %d bytes", len(inv.Msg), inv.ContentLength)
		}
		return inv.Msg, nil
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	got, err := d.Send(context.Background(), entity.Actor("MACALLER"), actor, "Mirror", payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("chunked round trip corrupted the payload")
	}
}

func TestTamperedEnvelopeIsRejected(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	actor := entity.Actor("MATARGET")
	handled := false
	sub, err := d.Serve(actor, func(context.Context, *invocation.Invocation) ([]byte, error) {
		handled = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	key, err := claims.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	inv, err := invocation.New(key, entity.Actor("MAFORGER"), actor, "Steal", []byte("original"), time.Now())
	if err != nil {
		t.Fatalf("invocation.New: %v", err)
	}
	inv.Msg = []byte("tampered")

	raw, err := codec.Marshal(inv)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	reply, err := conn.Request(context.Background(), bus.RPCSubject("default", actor), raw, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	var resp invocation.Response
	if err := codec.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !resp.Failed() {
		t.Fatal("tampered envelope was accepted")
	}
	if handled {
		t.Fatal("tampered envelope reached the handler")
	}
}

func TestServeLoadBalancesReplicas(t *testing.T) {
	conn := bus.NewMemory(clock.Real())
	d := testDispatcher(t, conn, nil)

	actor := entity.Actor("MASCALED")
	hits := make(chan int, 16)
	for i := 0; i < 2; i++ {
		replica := i
		sub, err := d.Serve(actor, func(context.Context, *invocation.Invocation) ([]byte, error) {
			hits <- replica
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Serve replica %d: %v", replica, err)
		}
		defer sub.Unsubscribe()
	}

	for i := 0; i < 8; i++ {
		if _, err := d.Send(context.Background(), entity.Actor("MACALLER"), actor, "Work", nil); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	// Eight sends, each handled exactly once.
	if len(hits) != 8 {
		t.Fatalf("replicas handled %d calls, want 8", len(hits))
	}
}
