// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	type envelope struct {
		Operation string            `cbor:"1,keyasint"`
		Payload   []byte            `cbor:"2,keyasint"`
		Values    map[string]string `cbor:"3,keyasint,omitempty"`
	}

	v := envelope{
		Operation: "HandleRequest",
		Payload:   []byte{0x01, 0x02, 0x03},
		Values:    map[string]string{"b": "2", "a": "1", "c": "3"},
	}

	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal (iteration %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type v1 struct {
		Name  string `cbor:"1,keyasint"`
		Extra string `cbor:"2,keyasint"`
	}
	type v0 struct {
		Name string `cbor:"1,keyasint"`
	}

	data, err := Marshal(v1{Name: "actor", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got v0
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "actor" {
		t.Errorf("Name = %q, want %q", got.Name, "actor")
	}
}

func TestUnmarshalAnyMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"zone": "a", "count": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got any
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := got.(map[string]any); !ok {
		t.Fatalf("decoded any-typed map is %T, want map[string]any", got)
	}
}
