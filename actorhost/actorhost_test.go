// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package actorhost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weft-foundation/weft/invocation"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/entity"
)

// fakeEngine hands out fakeGuests that echo the module's revision, so
// tests can observe which module revision served a call.
type fakeEngine struct {
	mu           sync.Mutex
	instantiated int
	failNext     bool
}

type fakeGuest struct {
	revision int32
	mu       sync.Mutex
	closed   bool
	calls    []string
}

func (e *fakeEngine) Instantiate(_ context.Context, module []byte, _ HostCall) (Guest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext {
		e.failNext = false
		return nil, errors.New("instantiate refused")
	}
	e.instantiated++
	token, err := ExtractToken(module)
	if err != nil {
		return nil, err
	}
	c, err := claims.Decode[claims.Actor](token)
	if err != nil {
		return nil, err
	}
	return &fakeGuest{revision: c.Metadata.Revision}, nil
}

func (g *fakeGuest) Call(_ context.Context, operation string, _ []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.New("call on closed guest")
	}
	g.calls = append(g.calls, operation)
	return []byte(fmt.Sprintf("rev%d:%s", g.revision, operation)), nil
}

func (g *fakeGuest) Close(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// signModule builds a minimal wasm binary with signed actor claims.
func signModule(t *testing.T, key claims.KeyPair, subject string, revision int32, caps ...string) []byte {
	t.Helper()
	token, err := claims.Encode(key, claims.Claims[claims.Actor]{
		Subject:  subject,
		IssuedAt: time.Now().Unix(),
		Metadata: claims.Actor{Name: "test-actor", Revision: revision, Capabilities: caps},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	module, err := EmbedToken(append([]byte(nil), wasmMagic...), token)
	if err != nil {
		t.Fatalf("EmbedToken: %v", err)
	}
	return module
}

func newTestHost(t *testing.T, cfg Config) (*ActorHost, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	cfg.Engine = engine
	if cfg.HostCall == nil {
		cfg.HostCall = func(context.Context, string, string, string, []byte) ([]byte, error) {
			return nil, errors.New("no host call wired")
		}
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, engine
}

func selfInvocation(t *testing.T, key claims.KeyPair, target entity.Entity, operation string, payload []byte) *invocation.Invocation {
	t.Helper()
	inv, err := invocation.New(key, target, target, operation, payload, time.Now())
	if err != nil {
		t.Fatalf("invocation.New: %v", err)
	}
	return inv
}

func callInvocation(t *testing.T, key claims.KeyPair, target entity.Entity, operation string) *invocation.Invocation {
	t.Helper()
	inv, err := invocation.New(key, entity.Actor("MACALLER"), target, operation, nil, time.Now())
	if err != nil {
		t.Fatalf("invocation.New: %v", err)
	}
	return inv
}

func TestInitializeAndInvoke(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{})
	module := signModule(t, key, "MAECHO", 1, "weft:keyvalue")

	if a.State() != Uninitialized {
		t.Fatalf("fresh host state = %s", a.State())
	}
	if err := a.Initialize(context.Background(), module); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if a.State() != Running {
		t.Fatalf("state after Initialize = %s", a.State())
	}
	if got := a.Claims().Subject; got != "MAECHO" {
		t.Fatalf("claims subject = %q", got)
	}

	out, err := a.Invoke(context.Background(), callInvocation(t, key, entity.Actor("MAECHO"), "Ping"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "rev1:Ping" {
		t.Fatalf("Invoke result = %q", out)
	}
}

func TestInitializeRejectsUnsignedModule(t *testing.T) {
	a, _ := newTestHost(t, Config{})
	err := a.Initialize(context.Background(), append([]byte(nil), wasmMagic...))
	if !errors.Is(err, ErrNoClaims) {
		t.Fatalf("Initialize: err = %v, want ErrNoClaims", err)
	}
	if a.State() != Uninitialized {
		t.Fatalf("state after rejected Initialize = %s", a.State())
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{})
	module := signModule(t, key, "MATWICE", 1)

	if err := a.Initialize(context.Background(), module); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := a.Initialize(context.Background(), module)
	if !errors.Is(err, ErrState) {
		t.Fatalf("second Initialize: err = %v, want ErrState", err)
	}
}

func TestInvokeBeforeInitialize(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{})
	_, err := a.Invoke(context.Background(), callInvocation(t, key, entity.Actor("MAEARLY"), "Ping"))
	if !errors.Is(err, ErrState) {
		t.Fatalf("Invoke: err = %v, want ErrState", err)
	}
}

func TestHaltFastPath(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, engine := newTestHost(t, Config{})
	target := entity.Actor("MAHALT")
	if err := a.Initialize(context.Background(), signModule(t, key, "MAHALT", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Self-addressed halt stops the actor without a guest call.
	if _, err := a.Invoke(context.Background(), selfInvocation(t, key, target, OperationHalt, nil)); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if a.State() != Halted {
		t.Fatalf("state after halt = %s", a.State())
	}
	if engine.instantiated != 1 {
		t.Fatalf("instantiated = %d", engine.instantiated)
	}

	// Halted is terminal.
	_, err := a.Invoke(context.Background(), callInvocation(t, key, target, "Ping"))
	if !errors.Is(err, ErrState) {
		t.Fatalf("Invoke after halt: err = %v, want ErrState", err)
	}
}

func TestHaltIgnoredFromThirdParty(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{})
	target := entity.Actor("MAGUARDED")
	if err := a.Initialize(context.Background(), signModule(t, key, "MAGUARDED", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// A halt whose origin differs from its target is an ordinary
	// operation name, not a lifecycle command.
	out, err := a.Invoke(context.Background(), callInvocation(t, key, target, OperationHalt))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "rev1:"+OperationHalt {
		t.Fatalf("third-party halt result = %q", out)
	}
	if a.State() != Running {
		t.Fatalf("state = %s, want running", a.State())
	}
}

func TestLiveUpdate(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, engine := newTestHost(t, Config{CanUpdate: true})
	target := entity.Actor("MAUPDATE")
	if err := a.Initialize(context.Background(), signModule(t, key, "MAUPDATE", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := a.LiveUpdate(context.Background(), signModule(t, key, "MAUPDATE", 2)); err != nil {
		t.Fatalf("LiveUpdate: %v", err)
	}
	if engine.instantiated != 2 {
		t.Fatalf("instantiated = %d, want 2", engine.instantiated)
	}

	out, err := a.Invoke(context.Background(), callInvocation(t, key, target, "Ping"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "rev2:Ping" {
		t.Fatalf("post-update result = %q, want rev2", out)
	}
	if got := a.Claims().Metadata.Revision; got != 2 {
		t.Fatalf("claims revision = %d", got)
	}
}

func TestLiveUpdateDeniedWithoutGrant(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, engine := newTestHost(t, Config{})
	target := entity.Actor("MALOCKED")
	if err := a.Initialize(context.Background(), signModule(t, key, "MALOCKED", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The update is valid in every other respect: same actor, higher
	// revision. Only the missing grant refuses it.
	err := a.LiveUpdate(context.Background(), signModule(t, key, "MALOCKED", 2))
	if !errors.Is(err, ErrUpdateDenied) {
		t.Fatalf("LiveUpdate: err = %v, want ErrUpdateDenied", err)
	}
	if engine.instantiated != 1 {
		t.Fatalf("instantiated = %d, want 1", engine.instantiated)
	}

	out, err := a.Invoke(context.Background(), callInvocation(t, key, target, "Ping"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "rev1:Ping" {
		t.Fatalf("serving revision = %q, want rev1", out)
	}
}

func TestLiveUpdateRejectsStaleRevision(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{CanUpdate: true})
	if err := a.Initialize(context.Background(), signModule(t, key, "MASTALE", 5)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, rev := range []int32{5, 4} {
		err := a.LiveUpdate(context.Background(), signModule(t, key, "MASTALE", rev))
		if !errors.Is(err, ErrRevision) {
			t.Fatalf("LiveUpdate rev %d: err = %v, want ErrRevision", rev, err)
		}
	}
}

func TestLiveUpdateRejectsDifferentActor(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{CanUpdate: true})
	if err := a.Initialize(context.Background(), signModule(t, key, "MAONE", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := a.LiveUpdate(context.Background(), signModule(t, key, "MAOTHER", 2))
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("LiveUpdate: err = %v, want ErrIdentity", err)
	}
}

func TestLiveUpdateStrictCapabilities(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, _ := newTestHost(t, Config{CanUpdate: true, StrictUpdates: true})
	if err := a.Initialize(context.Background(), signModule(t, key, "MACAPS", 1, "weft:keyvalue")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := a.LiveUpdate(context.Background(), signModule(t, key, "MACAPS", 2, "weft:keyvalue", "weft:httpclient"))
	if !errors.Is(err, ErrCapabilities) {
		t.Fatalf("LiveUpdate: err = %v, want ErrCapabilities", err)
	}

	// Capability order is irrelevant: a reordered set is the same set.
	lenient, _ := newTestHost(t, Config{CanUpdate: true, StrictUpdates: true})
	if err := lenient.Initialize(context.Background(), signModule(t, key, "MACAPS", 1, "a", "b")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := lenient.LiveUpdate(context.Background(), signModule(t, key, "MACAPS", 2, "b", "a")); err != nil {
		t.Fatalf("LiveUpdate with reordered capabilities: %v", err)
	}
}

func TestLiveUpdateFailureKeepsOldGuest(t *testing.T) {
	key, _ := claims.NewKeyPair()
	a, engine := newTestHost(t, Config{CanUpdate: true})
	target := entity.Actor("MAKEEP")
	if err := a.Initialize(context.Background(), signModule(t, key, "MAKEEP", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	engine.failNext = true
	if err := a.LiveUpdate(context.Background(), signModule(t, key, "MAKEEP", 2)); err == nil {
		t.Fatal("LiveUpdate succeeded despite instantiate failure")
	}
	if a.State() != Running {
		t.Fatalf("state after failed update = %s, want running", a.State())
	}

	out, err := a.Invoke(context.Background(), callInvocation(t, key, target, "Ping"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "rev1:Ping" {
		t.Fatalf("old guest not serving: %q", out)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	key, _ := claims.NewKeyPair()
	var trace []string
	mw := func(name string) Middleware {
		return func(next InvokeFunc) InvokeFunc {
			return func(ctx context.Context, inv *invocation.Invocation) ([]byte, error) {
				trace = append(trace, name+":pre")
				out, err := next(ctx, inv)
				trace = append(trace, name+":post")
				return out, err
			}
		}
	}
	a, _ := newTestHost(t, Config{Middleware: []Middleware{mw("outer"), mw("inner")}})
	if err := a.Initialize(context.Background(), signModule(t, key, "MAMW", 1)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := a.Invoke(context.Background(), callInvocation(t, key, entity.Actor("MAMW"), "Ping")); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	want := []string{"outer:pre", "inner:pre", "inner:post", "outer:post"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestTokenRoundTripThroughWasm(t *testing.T) {
	key, _ := claims.NewKeyPair()
	module := signModule(t, key, "MAEMBED", 3)
	token, err := ExtractToken(module)
	if err != nil {
		t.Fatalf("ExtractToken: %v", err)
	}
	c, err := claims.Validate[claims.Actor](token, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Subject != "MAEMBED" || c.Metadata.Revision != 3 {
		t.Fatalf("claims = %+v", c)
	}
}

func TestExtractTokenRejectsGarbage(t *testing.T) {
	if _, err := ExtractToken([]byte("definitely not wasm")); !errors.Is(err, ErrNotWasm) {
		t.Fatalf("err = %v, want ErrNotWasm", err)
	}
}
