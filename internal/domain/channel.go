package domain

import "time"

// ChannelStatus represents the lifecycle state of a state channel.
type ChannelStatus string

const (
	ChannelOpening  ChannelStatus = "opening"
	ChannelActive   ChannelStatus = "active"
	ChannelClosing  ChannelStatus = "closing"
	ChannelDisputed ChannelStatus = "disputed"
	ChannelClosed   ChannelStatus = "closed"
)

// ChannelBalances is the settled base/quote allocation of the
// participant side of a channel. Field names are wire-exact: an
// external verifier parses this structure.
type ChannelBalances struct {
	Base  int64 `json:"base"`  // outcome token units
	Quote int64 `json:"quote"` // cash, cents
}

// OrderIntent is the canonical order message signed by a participant.
// The nonce is a per-channel counter, a replay-protection namespace
// independent of the channel's state-update sequence.
type OrderIntent struct {
	MarketID    string `json:"marketId"`
	Side        Side   `json:"side"`
	Quantity    int64  `json:"quantity"`
	LimitPrice  int64  `json:"limitPrice"`
	Nonce       uint64 `json:"nonce"`
	ExpiresAt   int64  `json:"expiresAt"` // unix seconds
	Participant string `json:"participantAddress"`
}

// SignedOrderIntent pairs an order intent with its participant
// signature over the canonical encoding.
type SignedOrderIntent struct {
	OrderIntent
	Signature string `json:"signature"` // 0x hex, 65 bytes
}

// StateUpdate is the canonical channel checkpoint message.
type StateUpdate struct {
	ChannelID      string          `json:"channelId"`
	Sequence       uint64          `json:"sequence"`
	Balances       ChannelBalances `json:"balances"`
	CumulativeFees int64           `json:"cumulativeFees"` // cents
	Timestamp      int64           `json:"timestamp"`      // unix seconds
}

// Equal reports whether two state updates carry identical content.
// Used for fork detection: two dual-signed updates with equal sequence
// but differing content are never reconciled automatically.
func (u StateUpdate) Equal(other StateUpdate) bool {
	return u == other
}

// SignedStateUpdate is a state update carrying both parties'
// signatures. Immutable once accepted.
type SignedStateUpdate struct {
	StateUpdate
	ParticipantSignature string `json:"participantSignature"`
	OperatorSignature    string `json:"operatorSignature"`
}

// ChannelState is the authoritative per-channel record. The sequence
// is monotonic and starts at 0; NextNonce is the next order-intent
// nonce, an independent counter.
type ChannelState struct {
	ID          string             `json:"channel_id"`
	Participant string             `json:"participant"`
	Operator    string             `json:"operator"`
	Sequence    uint64             `json:"sequence"`
	Balances    ChannelBalances    `json:"balances"`
	Status      ChannelStatus      `json:"status"`
	LatestState *SignedStateUpdate `json:"latest_state,omitempty"`
	NextNonce   uint64             `json:"next_nonce"`
	Forked      bool               `json:"forked"`
}

// AuditKind tags the payload carried by an audit entry.
type AuditKind string

const (
	AuditOrderIntent AuditKind = "order_intent"
	AuditFill        AuditKind = "fill"
	AuditStateUpdate AuditKind = "state_update"
)

// AuditEntry is one record of the append-only per-channel audit log.
// Exactly one payload field is set, matching Kind.
type AuditEntry struct {
	Timestamp time.Time          `json:"timestamp"`
	Kind      AuditKind          `json:"kind"`
	Intent    *SignedOrderIntent `json:"intent,omitempty"`
	Fill      *Fill              `json:"fill,omitempty"`
	Update    *SignedStateUpdate `json:"update,omitempty"`
}

// ForceExitProof is the self-contained dispute bundle: the latest
// dual-signed state plus evidence of unsettled activity after it.
// Field names and nesting are wire-exact.
type ForceExitProof struct {
	ChannelID    string              `json:"channelId"`
	LatestState  *SignedStateUpdate  `json:"latestState"`
	OrderIntents []SignedOrderIntent `json:"orderIntents"`
	Fills        []Fill              `json:"fills"`
	GeneratedAt  int64               `json:"generatedAt"` // unix seconds
}
