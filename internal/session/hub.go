package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/logging"
	"github.com/libaice/orderbooktrade-yellow-app/internal/matching"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
	"github.com/libaice/orderbooktrade-yellow-app/internal/transport"
)

// HubConfig wires the hub to its collaborators.
type HubConfig struct {
	Channels *channel.Manager
	Audit    *auditlog.Log
	Signer   *signature.Signer
	Verifier *signature.Verifier
	FeeBps   int64
}

// Hub owns the markets and the per-channel sessions.
type Hub struct {
	cfg    HubConfig
	engine *matching.Engine
	log    *zap.Logger

	mu       sync.RWMutex
	markets  map[string]*matching.Market
	sessions map[string]*Session // channel ID -> session
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:      cfg,
		engine:   matching.NewEngine(),
		log:      logging.Named("hub"),
		markets:  make(map[string]*matching.Market),
		sessions: make(map[string]*Session),
	}
}

// Engine returns the shared matching engine.
func (h *Hub) Engine() *matching.Engine { return h.engine }

// CreateMarket registers a new binary-outcome market.
func (h *Hub) CreateMarket(id string) (*matching.Market, error) {
	if id == "" {
		return nil, errors.Wrap(domain.ErrValidation, "market id required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.markets[id]; ok {
		return nil, errors.Wrapf(domain.ErrValidation, "market %s already exists", id)
	}
	m := matching.NewMarket(id)
	h.markets[id] = m
	h.log.Info("market created", zap.String("market", id))
	return m, nil
}

// Market looks up a market by ID.
func (h *Hub) Market(id string) (*matching.Market, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.markets[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrMarketNotFound, "market %s", id)
	}
	return m, nil
}

// Markets returns the IDs of all registered markets.
func (h *Hub) Markets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.markets))
	for id := range h.markets {
		ids = append(ids, id)
	}
	return ids
}

// RegisterParticipant seeds a participant's balance on a market.
func (h *Hub) RegisterParticipant(marketID, participant string, cash int64, shares map[domain.Outcome]int64) error {
	m, err := h.Market(marketID)
	if err != nil {
		return err
	}
	m.Lock()
	m.Register(participant, cash, shares)
	m.Unlock()
	return nil
}

// OpenChannel opens a channel against a market's outcome token and
// starts its session.
func (h *Hub) OpenChannel(id, participant, operator, marketID string, outcome domain.Outcome, deposit domain.ChannelBalances) (*domain.ChannelState, error) {
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		return nil, errors.Wrapf(domain.ErrValidation, "unknown outcome %q", outcome)
	}
	m, err := h.Market(marketID)
	if err != nil {
		return nil, err
	}

	ch, err := h.cfg.Channels.Open(id, participant, operator, deposit)
	if err != nil {
		return nil, err
	}

	s := New(id, outcome, Deps{
		Engine:   h.engine,
		Market:   m,
		Channels: h.cfg.Channels,
		Audit:    h.cfg.Audit,
		Signer:   h.cfg.Signer,
		Verifier: h.cfg.Verifier,
		FeeBps:   h.cfg.FeeBps,
	})
	s.Start()

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	h.log.Info("channel opened",
		zap.String("channel", id),
		zap.String("participant", participant),
		zap.String("market", marketID))
	return ch, nil
}

// Session looks up the session for a channel.
func (h *Hub) Session(channelID string) (*Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[channelID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrChannelNotFound, "no session for channel %s", channelID)
	}
	return s, nil
}

// ConsumePeer drains a transport client's event stream until it
// closes or ctx is cancelled. Dual-signed state updates received from
// the peer are applied to their channels; everything else is logged.
func (h *Hub) ConsumePeer(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.handlePeerEvent(ev)
		}
	}
}

func (h *Hub) handlePeerEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventMessage:
		if ev.Message == nil || ev.Message.StateUpdate == nil {
			return
		}
		msg := ev.Message.StateUpdate
		if err := h.cfg.Channels.ApplyStateUpdate(msg.ChannelID, msg.Signed()); err != nil {
			h.log.Warn("peer state update rejected",
				zap.String("channel", msg.ChannelID),
				zap.Uint64("sequence", msg.Sequence),
				zap.Error(err))
			return
		}
		h.log.Info("peer state update applied",
			zap.String("channel", msg.ChannelID),
			zap.Uint64("sequence", msg.Sequence))
	case transport.EventConnected:
		h.log.Info("peer connected")
	case transport.EventDisconnected:
		h.log.Warn("peer disconnected", zap.Error(ev.Err))
	case transport.EventDecodeError:
		h.log.Warn("peer message rejected", zap.Error(ev.Err))
	case transport.EventPermanentFailure:
		h.log.Error("peer connection abandoned", zap.Error(ev.Err))
	}
}

// Shutdown stops every running session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.Stop()
		delete(h.sessions, id)
	}
	h.log.Info("hub shut down")
}
