package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
	"github.com/libaice/orderbooktrade-yellow-app/internal/transport"
	"github.com/libaice/orderbooktrade-yellow-app/internal/wire"
)

func newHub(t *testing.T) (*Hub, *signature.Signer) {
	t.Helper()
	d := signature.DefaultDomain(1)
	operator, err := signature.GenerateSigner(d)
	require.NoError(t, err)

	audit := auditlog.New(64)
	h := NewHub(HubConfig{
		Channels: channel.NewManager(signature.NewVerifier(d), audit, zap.NewNop()),
		Audit:    audit,
		Signer:   operator,
		Verifier: signature.NewVerifier(d),
	})
	t.Cleanup(h.Shutdown)
	return h, operator
}

func TestHubMarkets(t *testing.T) {
	h, _ := newHub(t)

	_, err := h.CreateMarket("rain-tomorrow")
	require.NoError(t, err)
	_, err = h.CreateMarket("rain-tomorrow")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.CreateMarket("")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.Market("rain-tomorrow")
	require.NoError(t, err)
	_, err = h.Market("nope")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	assert.Equal(t, []string{"rain-tomorrow"}, h.Markets())
}

func TestHubConsumePeerAppliesStateUpdates(t *testing.T) {
	d := signature.DefaultDomain(1)
	participant, err := signature.GenerateSigner(d)
	require.NoError(t, err)
	operator, err := signature.GenerateSigner(d)
	require.NoError(t, err)

	audit := auditlog.New(64)
	manager := channel.NewManager(signature.NewVerifier(d), audit, zap.NewNop())
	h := NewHub(HubConfig{
		Channels: manager,
		Audit:    audit,
		Signer:   operator,
		Verifier: signature.NewVerifier(d),
	})
	t.Cleanup(h.Shutdown)

	_, err = manager.Open("chan-1", participant.Address(), operator.Address(),
		domain.ChannelBalances{Quote: 10_000})
	require.NoError(t, err)
	require.NoError(t, manager.Activate("chan-1"))

	u := domain.StateUpdate{
		ChannelID: "chan-1",
		Sequence:  1,
		Balances:  domain.ChannelBalances{Base: 100, Quote: 5_400},
		Timestamp: time.Now().Unix(),
	}
	psig, err := participant.SignStateUpdate(u)
	require.NoError(t, err)
	osig, err := operator.SignStateUpdate(u)
	require.NoError(t, err)

	events := make(chan transport.Event, 4)
	events <- transport.Event{Kind: transport.EventConnected}
	events <- transport.Event{Kind: transport.EventMessage, Message: &wire.Message{
		Type: wire.TypeStateUpdate,
		StateUpdate: &wire.StateUpdateMsg{
			ChannelID:            u.ChannelID,
			Sequence:             u.Sequence,
			Balances:             u.Balances,
			Timestamp:            u.Timestamp,
			ParticipantSignature: psig,
			OperatorSignature:    osig,
		},
	}}
	// A stale replay of the same update is rejected without
	// disturbing the applied state.
	events <- transport.Event{Kind: transport.EventMessage, Message: &wire.Message{
		Type: wire.TypeStateUpdate,
		StateUpdate: &wire.StateUpdateMsg{
			ChannelID:            u.ChannelID,
			Sequence:             u.Sequence,
			Balances:             u.Balances,
			Timestamp:            u.Timestamp,
			ParticipantSignature: psig,
			OperatorSignature:    osig,
		},
	}}
	close(events)

	h.ConsumePeer(context.Background(), events)

	ch, err := manager.Get("chan-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ch.Sequence)
	assert.Equal(t, int64(100), ch.Balances.Base)
	assert.False(t, ch.Forked)
}

func TestHubOpenChannel(t *testing.T) {
	h, operator := newHub(t)

	_, err := h.CreateMarket("rain-tomorrow")
	require.NoError(t, err)

	participant := "0xaaaa000000000000000000000000000000000001"
	require.NoError(t, h.RegisterParticipant("rain-tomorrow", participant, 10_000, nil))

	ch, err := h.OpenChannel("chan-1", participant, operator.Address(), "rain-tomorrow",
		domain.OutcomeYes, domain.ChannelBalances{Quote: 10_000})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelOpening, ch.Status)

	_, err = h.Session("chan-1")
	require.NoError(t, err)
	_, err = h.Session("chan-2")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)

	// Unknown market or outcome never opens a channel.
	_, err = h.OpenChannel("chan-2", participant, operator.Address(), "nope",
		domain.OutcomeYes, domain.ChannelBalances{})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	_, err = h.OpenChannel("chan-3", participant, operator.Address(), "rain-tomorrow",
		"maybe", domain.ChannelBalances{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
