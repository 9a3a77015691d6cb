// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package entity provides canonical identity for the two kinds of
// things that can originate or receive an invocation: actors and
// capability providers.
//
// An entity's canonical form is a URL-like string. Two entities are
// equal iff their canonical strings are byte-identical, and that same
// string feeds the anti-forgery hash, so the formatting rules here are
// protocol constants — changing them breaks signature validation
// between hosts.
package entity

import (
	"fmt"
	"strings"
)

// Scheme prefixes every canonical entity URL.
const Scheme = "weft"

// DefaultLinkName is used when a provider reference omits the link
// name.
const DefaultLinkName = "default"

// Kind discriminates actors from capability providers.
type Kind uint8

const (
	// KindActor is a sandboxed WebAssembly component.
	KindActor Kind = 1
	// KindProvider is a native capability provider plugin.
	KindProvider Kind = 2
)

// Entity identifies one addressable participant in the lattice. The
// zero value is invalid; use Actor or Provider to construct one.
//
// Fields are exported for the wire codec. Prefer the constructors and
// accessors — they apply the defaulting and sanitization rules.
type Entity struct {
	// Kind discriminates the two variants.
	Kind Kind `cbor:"1,keyasint"`

	// ID is the stable public identity string (for signed actors,
	// the public key their claims are issued to).
	ID string `cbor:"2,keyasint"`

	// ContractID names the capability contract a provider
	// implements (e.g. "weft:keyvalue"). Empty for actors.
	ContractID string `cbor:"3,keyasint,omitempty"`

	// LinkName distinguishes multiple providers of the same
	// contract. Empty for actors; defaults to "default" for
	// providers.
	LinkName string `cbor:"4,keyasint,omitempty"`
}

// Actor returns the entity for an actor public identity.
func Actor(id string) Entity {
	return Entity{Kind: KindActor, ID: id}
}

// Provider returns the entity for a capability provider. An empty
// linkName becomes DefaultLinkName.
func Provider(id, contractID, linkName string) Entity {
	if linkName == "" {
		linkName = DefaultLinkName
	}
	return Entity{
		Kind:       KindProvider,
		ID:         id,
		ContractID: contractID,
		LinkName:   linkName,
	}
}

// Validate reports whether the entity is structurally complete.
func (e Entity) Validate() error {
	switch e.Kind {
	case KindActor:
		if e.ID == "" {
			return fmt.Errorf("entity: actor ID is empty")
		}
		if e.ContractID != "" || e.LinkName != "" {
			return fmt.Errorf("entity: actor %q carries provider fields", e.ID)
		}
	case KindProvider:
		if e.ID == "" {
			return fmt.Errorf("entity: provider ID is empty")
		}
		if e.ContractID == "" {
			return fmt.Errorf("entity: provider %q has no contract ID", e.ID)
		}
		if e.LinkName == "" {
			return fmt.Errorf("entity: provider %q has no link name", e.ID)
		}
	default:
		return fmt.Errorf("entity: unknown kind %d", e.Kind)
	}
	return nil
}

// URL returns the canonical string form:
//
//	weft://<public_key>                                   (actor)
//	weft://<contract>/<link_name>/<public_key>            (provider)
//
// Contract IDs and link names are sanitized for stability: lower-cased,
// ":" replaced with "/", spaces with "_". The sanitized form is what
// gets hashed, so lookups and signatures agree across hosts regardless
// of the caller's capitalization.
func (e Entity) URL() string {
	if e.Kind == KindActor {
		return Scheme + "://" + e.ID
	}
	return fmt.Sprintf("%s://%s/%s/%s",
		Scheme, sanitize(e.ContractID), sanitize(e.LinkName), e.ID)
}

// Key returns the entity's public identity string, regardless of kind.
func (e Entity) Key() string { return e.ID }

// Equal reports whether two entities have identical canonical forms.
func (e Entity) Equal(other Entity) bool {
	return e.URL() == other.URL()
}

// String implements fmt.Stringer with the canonical URL.
func (e Entity) String() string { return e.URL() }

func sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", "/")
	return strings.ReplaceAll(s, " ", "_")
}
