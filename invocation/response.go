// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package invocation

// Response correlates a result (or failure) back to its invocation.
type Response struct {
	// InvocationID is the id of the invocation this responds to.
	InvocationID string `cbor:"1,keyasint"`

	// Msg is the result payload. Empty when the response payload was
	// externalized to the chunk staging area.
	Msg []byte `cbor:"2,keyasint,omitempty"`

	// Error carries a human-readable failure description. Empty on
	// success.
	Error string `cbor:"3,keyasint,omitempty"`

	// ContentLength is the total result size; when it exceeds
	// len(Msg) the caller reassembles from the staging area.
	ContentLength uint64 `cbor:"4,keyasint"`
}

// Success builds a response carrying a result payload.
func Success(inv *Invocation, msg []byte) *Response {
	return &Response{
		InvocationID:  inv.ID,
		Msg:           msg,
		ContentLength: uint64(len(msg)),
	}
}

// Failure builds an error response. Authorization and guest failures
// are converted into these so peers receive a diagnosable message
// rather than a dropped connection.
func Failure(inv *Invocation, errText string) *Response {
	return &Response{
		InvocationID: inv.ID,
		Error:        errText,
	}
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool { return r.Error != "" }
