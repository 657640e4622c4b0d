// Package session runs a single-writer loop per channel. All order
// flow, checkpoint proposals and co-signatures for a channel are
// applied by one goroutine, so no locking is needed on the hot path
// and every mutation observes a consistent channel state.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/logging"
	"github.com/libaice/orderbooktrade-yellow-app/internal/matching"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
)

// pendingTTL bounds how long a checkpoint proposal waits for the
// participant's co-signature.
const pendingTTL = 10 * time.Second

// Deps wires a session to the shared engine state.
type Deps struct {
	Engine   *matching.Engine
	Market   *matching.Market
	Channels *channel.Manager
	Audit    *auditlog.Log
	Signer   *signature.Signer
	Verifier *signature.Verifier
	FeeBps   int64
}

// PendingCheckpoint is an operator-signed state update awaiting the
// participant's co-signature.
type PendingCheckpoint struct {
	ID                string
	Update            domain.StateUpdate
	OperatorSignature string
	Deadline          time.Time
}

// PlaceResult is returned from Place.
type PlaceResult struct {
	Order *domain.Order
	Fills []*domain.Fill
}

// Session owns the order flow for one channel. Public methods hand
// work to the run loop and block for the result.
type Session struct {
	channelID string
	outcome   domain.Outcome
	deps      Deps
	log       *zap.Logger

	commands chan func()
	done     chan struct{}

	// Owned by the run loop.
	pending   map[string]*PendingCheckpoint
	fees      int64
	lastNonce uint64
	hasNonce  bool
}

// New builds a session for the given channel. The session trades the
// given outcome token against cash; channel base balances settle in
// that token.
func New(channelID string, outcome domain.Outcome, deps Deps) *Session {
	return &Session{
		channelID: channelID,
		outcome:   outcome,
		deps:      deps,
		log:       logging.Named("session").With(zap.String("channel", channelID)),
		commands:  make(chan func(), 128),
		done:      make(chan struct{}),
		pending:   make(map[string]*PendingCheckpoint),
	}
}

// Start begins the session's run loop in a goroutine.
func (s *Session) Start() {
	go s.run()
}

// Stop signals the run loop to shut down.
func (s *Session) Stop() {
	close(s.done)
}

func (s *Session) run() {
	s.log.Info("session started")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-s.commands:
			cmd()
		case <-ticker.C:
			s.expirePending(time.Now())
		case <-s.done:
			s.log.Info("session stopped")
			return
		}
	}
}

// expirePending drops proposals whose co-sign window elapsed. A late
// co-signature for a dropped proposal fails with ErrTimeout.
func (s *Session) expirePending(now time.Time) {
	for id, p := range s.pending {
		if now.After(p.Deadline) {
			delete(s.pending, id)
			s.log.Warn("checkpoint proposal expired", zap.String("proposal", id))
		}
	}
}

// submit runs fn on the session loop and waits for completion.
func (s *Session) submit(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	cmd := func() {
		fn()
		close(reply)
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return errors.Wrap(domain.ErrConnection, "session stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return errors.Wrap(domain.ErrConnection, "session stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarketID returns the id of the market this session trades.
func (s *Session) MarketID() string { return s.deps.Market.ID }

// Place verifies and executes a signed order intent.
func (s *Session) Place(ctx context.Context, side domain.Side, kind domain.OrderKind, signed domain.SignedOrderIntent) (*PlaceResult, error) {
	var res *PlaceResult
	var err error
	serr := s.submit(ctx, func() {
		res, err = s.place(side, kind, signed)
	})
	if serr != nil {
		return nil, serr
	}
	return res, err
}

func (s *Session) place(side domain.Side, kind domain.OrderKind, signed domain.SignedOrderIntent) (*PlaceResult, error) {
	ch, err := s.deps.Channels.Get(s.channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status != domain.ChannelActive {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "channel %s is %s, not active", s.channelID, ch.Status)
	}
	intent := signed.OrderIntent
	if intent.Participant != ch.Participant {
		return nil, errors.Wrapf(domain.ErrUnknownParticipant, "intent from %s on channel owned by %s", intent.Participant, ch.Participant)
	}
	if !s.deps.Verifier.VerifyOrderIntent(intent, signed.Signature, ch.Participant) {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "order intent signature rejected")
	}
	// The signature covers the intent's market. Executing it on any
	// other market would let the audit trail and the actual fills
	// diverge.
	if intent.MarketID != s.deps.Market.ID {
		return nil, errors.Wrapf(domain.ErrValidation,
			"intent market %q does not match session market %q", intent.MarketID, s.deps.Market.ID)
	}
	now := time.Now().Unix()
	if intent.ExpiresAt <= now {
		return nil, errors.Wrapf(domain.ErrValidation, "intent expired at %d", intent.ExpiresAt)
	}
	if s.hasNonce && intent.Nonce <= s.lastNonce {
		return nil, errors.Wrapf(domain.ErrValidation, "nonce %d replays or precedes %d", intent.Nonce, s.lastNonce)
	}

	if err := s.deps.Channels.RecordOrderIntent(s.channelID, signed); err != nil {
		return nil, err
	}

	s.deps.Market.Lock()
	order, fills, err := s.deps.Engine.Match(s.deps.Market, matching.PlaceRequest{
		Participant: intent.Participant,
		Outcome:     s.outcome,
		Side:        side,
		Kind:        kind,
		Price:       intent.LimitPrice,
		Quantity:    intent.Quantity,
		Nonce:       intent.Nonce,
		ExpiresAt:   intent.ExpiresAt,
	})
	s.deps.Market.Unlock()
	if err != nil {
		return nil, err
	}
	s.lastNonce = intent.Nonce
	s.hasNonce = true

	for _, f := range fills {
		s.fees += f.Price * f.Quantity * s.deps.FeeBps / 10_000
		if err := s.deps.Channels.RecordFill(s.channelID, *f); err != nil {
			s.log.Error("fill not recorded", zap.String("fill", f.ID), zap.Error(err))
		}
	}
	return &PlaceResult{Order: order, Fills: fills}, nil
}

// Cancel removes a resting order owned by the channel participant.
func (s *Session) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	var err error
	serr := s.submit(ctx, func() {
		ch, cerr := s.deps.Channels.Get(s.channelID)
		if cerr != nil {
			err = cerr
			return
		}
		s.deps.Market.Lock()
		order = s.deps.Engine.Cancel(s.deps.Market, orderID, ch.Participant)
		s.deps.Market.Unlock()
	})
	if serr != nil {
		return nil, serr
	}
	return order, err
}

// ProposeCheckpoint builds the next state update from current market
// balances, signs the operator side and parks it awaiting the
// participant's co-signature.
func (s *Session) ProposeCheckpoint(ctx context.Context) (*PendingCheckpoint, error) {
	var p *PendingCheckpoint
	var err error
	serr := s.submit(ctx, func() {
		p, err = s.propose()
	})
	if serr != nil {
		return nil, serr
	}
	return p, err
}

func (s *Session) propose() (*PendingCheckpoint, error) {
	ch, err := s.deps.Channels.Get(s.channelID)
	if err != nil {
		return nil, err
	}
	s.deps.Market.Lock()
	bal := s.deps.Market.BalanceOf(ch.Participant)
	s.deps.Market.Unlock()
	if bal == nil {
		return nil, errors.Wrapf(domain.ErrUnknownParticipant, "participant %s has no market balance", ch.Participant)
	}

	update := domain.StateUpdate{
		ChannelID: s.channelID,
		Sequence:  ch.Sequence + 1,
		Balances: domain.ChannelBalances{
			Base:  bal.Shares[s.outcome],
			Quote: bal.Cash,
		},
		CumulativeFees: s.fees,
		Timestamp:      time.Now().Unix(),
	}
	opSig, err := s.deps.Signer.SignStateUpdate(update)
	if err != nil {
		return nil, errors.Wrap(err, "sign state update")
	}

	p := &PendingCheckpoint{
		ID:                uuid.New().String(),
		Update:            update,
		OperatorSignature: opSig,
		Deadline:          time.Now().Add(pendingTTL),
	}
	s.pending[p.ID] = p
	s.log.Info("checkpoint proposed",
		zap.String("proposal", p.ID),
		zap.Uint64("sequence", update.Sequence))
	return p, nil
}

// CoSign completes a pending proposal with the participant's
// signature and commits the dual-signed update.
func (s *Session) CoSign(ctx context.Context, proposalID, participantSig string) (*domain.ChannelState, error) {
	var ch *domain.ChannelState
	var err error
	serr := s.submit(ctx, func() {
		ch, err = s.cosign(proposalID, participantSig)
	})
	if serr != nil {
		return nil, serr
	}
	return ch, err
}

func (s *Session) cosign(proposalID, participantSig string) (*domain.ChannelState, error) {
	p, ok := s.pending[proposalID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrTimeout, "proposal %s unknown or expired", proposalID)
	}
	if time.Now().After(p.Deadline) {
		delete(s.pending, proposalID)
		return nil, errors.Wrapf(domain.ErrTimeout, "proposal %s co-sign window elapsed", proposalID)
	}

	signed := domain.SignedStateUpdate{
		StateUpdate:          p.Update,
		ParticipantSignature: participantSig,
		OperatorSignature:    p.OperatorSignature,
	}
	if err := s.deps.Channels.ApplyStateUpdate(s.channelID, signed); err != nil {
		return nil, err
	}
	delete(s.pending, proposalID)
	ch, err := s.deps.Channels.Get(s.channelID)
	if err != nil {
		return nil, err
	}
	s.log.Info("checkpoint committed",
		zap.String("proposal", proposalID),
		zap.Uint64("sequence", p.Update.Sequence))
	return ch, nil
}

// Reject drops a pending proposal without committing it.
func (s *Session) Reject(ctx context.Context, proposalID string) error {
	var err error
	serr := s.submit(ctx, func() {
		if _, ok := s.pending[proposalID]; !ok {
			err = errors.Wrapf(domain.ErrTimeout, "proposal %s unknown or expired", proposalID)
			return
		}
		delete(s.pending, proposalID)
		s.log.Info("checkpoint rejected", zap.String("proposal", proposalID))
	})
	if serr != nil {
		return serr
	}
	return err
}
