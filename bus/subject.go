// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"strings"

	"github.com/weft-foundation/weft/lib/entity"
)

// Subject grammar:
//
//	weft.rpc.<lattice>.<public_key>                 actor RPC
//	weft.rpc.<lattice>.<public_key>.<link_name>     provider RPC
//	weft.rpc.<lattice>.linkdefs.{put,del}           link advertisements
//	weft.rpc.<lattice>.claims.put                   claims advertisements
//	weft.ctl.v1.<lattice>.<category>.<verb>[.<host>] control plane
const (
	rpcPrefix = "weft.rpc"
	ctlPrefix = "weft.ctl"

	// CtlVersion is the control-plane protocol version token.
	CtlVersion = "v1"
)

// RPCSubject returns the subject an entity listens for invocations on.
func RPCSubject(lattice string, e entity.Entity) string {
	if e.Kind == entity.KindProvider {
		return strings.Join([]string{rpcPrefix, lattice, e.ID, e.LinkName}, ".")
	}
	return strings.Join([]string{rpcPrefix, lattice, e.ID}, ".")
}

// LinkDefsSubject returns the lattice-wide link advertisement subject
// for the given verb ("put" or "del").
func LinkDefsSubject(lattice, verb string) string {
	return strings.Join([]string{rpcPrefix, lattice, "linkdefs", verb}, ".")
}

// ClaimsSubject returns the lattice-wide claims advertisement subject.
func ClaimsSubject(lattice string) string {
	return strings.Join([]string{rpcPrefix, lattice, "claims", "put"}, ".")
}

// ControlSubject builds a control-plane subject from its parts.
func ControlSubject(lattice string, parts ...string) string {
	tokens := append([]string{ctlPrefix, CtlVersion, lattice}, parts...)
	return strings.Join(tokens, ".")
}

// ControlPattern returns the wildcard pattern a host subscribes to for
// the whole control plane of one lattice.
func ControlPattern(lattice string) string {
	return strings.Join([]string{ctlPrefix, CtlVersion, lattice, ">"}, ".")
}

// ParseControl strips the prefix, version, and lattice from a
// control subject and returns the remaining tokens
// (category, verb, optional host id). ok is false when the subject is
// not a control subject for the given lattice.
func ParseControl(lattice, subject string) (parts []string, ok bool) {
	want := ctlPrefix + "." + CtlVersion + "." + lattice + "."
	if !strings.HasPrefix(subject, want) {
		return nil, false
	}
	rest := strings.TrimPrefix(subject, want)
	if rest == "" {
		return nil, false
	}
	return strings.Split(rest, "."), true
}
