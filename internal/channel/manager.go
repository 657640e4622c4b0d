// Package channel owns per-channel sequence counters, applies signed
// state updates, records activity into the audit log, and exposes
// nonce issuance and lifecycle transitions.
package channel

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
)

// transitions is the channel lifecycle state machine. Closed is
// terminal; nothing is re-enterable.
var transitions = map[domain.ChannelStatus][]domain.ChannelStatus{
	domain.ChannelOpening:  {domain.ChannelActive},
	domain.ChannelActive:   {domain.ChannelClosing, domain.ChannelDisputed},
	domain.ChannelClosing:  {domain.ChannelClosed},
	domain.ChannelDisputed: {domain.ChannelClosed},
}

// Manager is the channel state manager. It is an explicit service
// instance: callers receive a handle, there is no ambient global.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*domain.ChannelState
	verifier *signature.Verifier
	audit    *auditlog.Log
	log      *zap.Logger
}

// NewManager creates a channel state manager.
func NewManager(verifier *signature.Verifier, audit *auditlog.Log, logger *zap.Logger) *Manager {
	return &Manager{
		channels: make(map[string]*domain.ChannelState),
		verifier: verifier,
		audit:    audit,
		log:      logger,
	}
}

// Open creates a channel in Opening state with sequence 0.
func (m *Manager) Open(id, participant, operator string, initial domain.ChannelBalances) (*domain.ChannelState, error) {
	if id == "" || participant == "" || operator == "" {
		return nil, errors.Wrap(domain.ErrValidation, "channel id and both addresses are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[id]; ok {
		return nil, domain.ErrChannelExists
	}
	ch := &domain.ChannelState{
		ID:          id,
		Participant: participant,
		Operator:    operator,
		Balances:    initial,
		Status:      domain.ChannelOpening,
	}
	m.channels[id] = ch
	m.log.Info("channel opened", zap.String("channel", id),
		zap.String("participant", participant), zap.String("operator", operator))
	snapshot := *ch
	return &snapshot, nil
}

// Get returns a copy of a channel's state.
func (m *Manager) Get(id string) (*domain.ChannelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[id]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	snapshot := *ch
	return &snapshot, nil
}

// List returns copies of all channel states.
func (m *Manager) List() []domain.ChannelState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ChannelState, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, *ch)
	}
	return out
}

// Transition moves a channel to a new lifecycle status, rejecting
// anything the state machine does not permit.
func (m *Manager) Transition(id string, to domain.ChannelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return domain.ErrChannelNotFound
	}
	for _, allowed := range transitions[ch.Status] {
		if allowed == to {
			m.log.Info("channel transition", zap.String("channel", id),
				zap.String("from", string(ch.Status)), zap.String("to", string(to)))
			ch.Status = to
			return nil
		}
	}
	return errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", ch.Status, to)
}

// Activate marks a channel funded (an external event) and trading.
func (m *Manager) Activate(id string) error {
	return m.Transition(id, domain.ChannelActive)
}

// RequestClose starts a cooperative close.
func (m *Manager) RequestClose(id string) error {
	return m.Transition(id, domain.ChannelClosing)
}

// RequestForceExit moves an active channel into dispute.
func (m *Manager) RequestForceExit(id string) error {
	return m.Transition(id, domain.ChannelDisputed)
}

// ConfirmClosed finalizes a channel after external withdrawal
// confirmation.
func (m *Manager) ConfirmClosed(id string) error {
	return m.Transition(id, domain.ChannelClosed)
}

// ApplyStateUpdate validates and commits a dual-signed checkpoint.
// All-or-nothing: no field is updated unless every check passes.
//
// A stale sequence is rejected regardless of signature validity. Two
// dual-signed updates with equal sequence but differing content are a
// fork: the channel halts automatic acceptance until manual dispute
// resolution.
func (m *Manager) ApplyStateUpdate(id string, update domain.SignedStateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return domain.ErrChannelNotFound
	}
	if ch.Forked {
		return domain.ErrChannelForked
	}
	if ch.Status != domain.ChannelActive && ch.Status != domain.ChannelClosing {
		return errors.Wrapf(domain.ErrInvalidTransition,
			"channel %s does not accept updates in status %s", id, ch.Status)
	}
	if update.ChannelID != id {
		return errors.Wrapf(domain.ErrValidation,
			"update channel %q does not match %q", update.ChannelID, id)
	}

	if update.Sequence < ch.Sequence {
		return errors.Wrapf(domain.ErrStaleSequence,
			"sequence %d <= current %d", update.Sequence, ch.Sequence)
	}
	if update.Sequence == ch.Sequence {
		if ch.LatestState != nil && !update.StateUpdate.Equal(ch.LatestState.StateUpdate) &&
			m.dualSigned(ch, update) {
			ch.Forked = true
			m.log.Error("channel fork detected, halting updates",
				zap.String("channel", id), zap.Uint64("sequence", update.Sequence))
			return domain.ErrChannelForked
		}
		return errors.Wrapf(domain.ErrStaleSequence,
			"sequence %d <= current %d", update.Sequence, ch.Sequence)
	}

	if !m.dualSigned(ch, update) {
		return domain.ErrSignatureInvalid
	}

	// Atomic commit.
	accepted := update
	ch.Sequence = update.Sequence
	ch.Balances = update.Balances
	ch.LatestState = &accepted
	m.audit.RecordUpdate(id, accepted)
	m.log.Info("state update accepted", zap.String("channel", id),
		zap.Uint64("sequence", update.Sequence))
	return nil
}

// dualSigned reports whether both signatures verify against the
// channel's known addresses.
func (m *Manager) dualSigned(ch *domain.ChannelState, update domain.SignedStateUpdate) bool {
	return m.verifier.VerifyStateUpdate(update.StateUpdate, update.ParticipantSignature, ch.Participant) &&
		m.verifier.VerifyStateUpdate(update.StateUpdate, update.OperatorSignature, ch.Operator)
}

// NextNonce returns and post-increments the channel-local order-intent
// counter. This is a replay-protection namespace distinct from the
// state-update sequence: orders and checkpoints are signed and
// delivered independently and at different rates.
func (m *Manager) NextNonce(id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return 0, domain.ErrChannelNotFound
	}
	n := ch.NextNonce
	ch.NextNonce++
	return n, nil
}

// RecordOrderIntent writes an intent to the audit log. Recorded
// regardless of whether the corresponding checkpoint has been
// co-signed yet; this is what makes dispute proofs possible for
// activity between checkpoints.
func (m *Manager) RecordOrderIntent(id string, intent domain.SignedOrderIntent) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	m.audit.RecordIntent(id, intent)
	return nil
}

// RecordFill writes a fill to the audit log.
func (m *Manager) RecordFill(id string, fill domain.Fill) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	m.audit.RecordFill(id, fill)
	return nil
}
