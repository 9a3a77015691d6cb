// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "kv.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.Get(ctx, "link_abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(absent) error = %v, want ErrNotFound", err)
	}

	if err := store.Put(ctx, "link_abc", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "link_abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1", got)
	}

	// Overwrite.
	if err := store.Put(ctx, "link_abc", []byte("v2")); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}
	got, err = store.Get(ctx, "link_abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Get after overwrite = %q, want v2", got)
	}

	if err := store.Delete(ctx, "link_abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "link_abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}

	// Deleting an absent key is a no-op.
	if err := store.Delete(ctx, "link_abc"); err != nil {
		t.Errorf("Delete(absent): %v", err)
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	entries := map[string]string{
		"link_1":   "a",
		"link_2":   "b",
		"claims_1": "c",
	}
	for k, v := range entries {
		if err := store.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}

	links, err := store.List(ctx, "link_")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(links))
	}
	if string(links["link_1"]) != "a" || string(links["link_2"]) != "b" {
		t.Errorf("List = %v, want link_1=a link_2=b", links)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	store, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Put(ctx, "link_durable", []byte("survives")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "link_durable")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "survives" {
		t.Errorf("Get after reopen = %q, want survives", got)
	}
}
