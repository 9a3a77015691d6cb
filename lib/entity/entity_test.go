// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import "testing"

func TestActorURL(t *testing.T) {
	e := Actor("MABCDEF")
	if got, want := e.URL(), "weft://MABCDEF"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if e.Key() != "MABCDEF" {
		t.Errorf("Key = %q, want MABCDEF", e.Key())
	}
}

func TestProviderURLSanitization(t *testing.T) {
	e := Provider("VPROVIDER", "Weft:KeyValue", "Backend Cache")
	want := "weft://weft/keyvalue/backend_cache/VPROVIDER"
	if got := e.URL(); got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestProviderDefaultLinkName(t *testing.T) {
	e := Provider("VPROVIDER", "weft:keyvalue", "")
	if e.LinkName != DefaultLinkName {
		t.Errorf("LinkName = %q, want %q", e.LinkName, DefaultLinkName)
	}
}

func TestEqualIsCanonicalStringEquality(t *testing.T) {
	a := Provider("VP", "weft:keyvalue", "default")
	b := Provider("VP", "WEFT:KEYVALUE", "default")
	if !a.Equal(b) {
		t.Error("entities differing only in contract capitalization should be equal")
	}

	c := Provider("VP", "weft:keyvalue", "cache")
	if a.Equal(c) {
		t.Error("entities with different link names should not be equal")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		e       Entity
		wantErr bool
	}{
		{"valid actor", Actor("MA"), false},
		{"valid provider", Provider("VP", "weft:blobstore", "default"), false},
		{"empty actor id", Actor(""), true},
		{"provider without contract", Entity{Kind: KindProvider, ID: "VP", LinkName: "default"}, true},
		{"actor with provider fields", Entity{Kind: KindActor, ID: "MA", ContractID: "weft:keyvalue"}, true},
		{"zero value", Entity{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.e.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
