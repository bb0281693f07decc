// Package common defines shared constants and sentinel errors used across
// PeerDrop components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// ErrorUpstream marks faults in upstream collaborators (the blob store
	// backend); the blob store wraps its client errors with it.
	ErrorUpstream = errors.New("upstream error")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Router classification. ErrPeerUnreachable is the only fallback trigger:
	// the session registry answered but the peer has no live session.
	// ErrPeerUnknown means no presence record exists at all and never queues.
	// ErrConnectionFailed covers transient signaling failures and bounded-wait
	// expiry; the caller owns the retry decision.
	ErrPeerUnreachable  = errors.New("peer unreachable")
	ErrPeerUnknown      = errors.New("peer unknown")
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTransferFailed reports a live send that failed mid-transfer or a
	// fallback whose blob upload failed. Neither case leaves a queued record.
	ErrTransferFailed = errors.New("transfer failed")
)
