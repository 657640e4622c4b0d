package domain

import "errors"

// Core error taxonomy. Components return these sentinels (possibly
// wrapped with context); callers classify with errors.Is.
var (
	// ErrValidation rejects a malformed request before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance rejects a trade pre-mutation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSignatureInvalid rejects a state update whose signatures do
	// not recover to the channel's known addresses.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrStaleSequence rejects a state update with sequence at or
	// below the channel's current one, regardless of signatures.
	ErrStaleSequence = errors.New("stale sequence")

	// ErrChannelForked halts a channel after two dual-signed updates
	// with equal sequence but differing content were observed.
	// Requires manual dispute resolution; never reconciled silently.
	ErrChannelForked = errors.New("channel forked")

	// ErrInvalidTransition rejects a channel lifecycle change that the
	// state machine does not permit.
	ErrInvalidTransition = errors.New("invalid channel transition")

	// ErrChannelNotFound means no channel exists with the given id.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists means a channel with the given id already exists.
	ErrChannelExists = errors.New("channel already exists")

	// ErrNoAcceptedState means proof assembly has nothing to anchor a
	// dispute to.
	ErrNoAcceptedState = errors.New("no accepted state update")

	// ErrMarketNotFound means no market exists with the given id.
	ErrMarketNotFound = errors.New("market not found")

	// ErrUnknownParticipant means the requester has no balance record.
	ErrUnknownParticipant = errors.New("participant has no balance record")

	// ErrConnection surfaces a transport failure; triggers the
	// reconnect policy, never silent state corruption.
	ErrConnection = errors.New("connection error")

	// ErrTimeout surfaces a pending request the counterparty never
	// acknowledged in time.
	ErrTimeout = errors.New("request timed out")
)
