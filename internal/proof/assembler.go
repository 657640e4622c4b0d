// Package proof assembles force-exit dispute bundles: the latest
// dual-signed channel state plus evidence of activity after it. Only
// activity after the last mutually agreed checkpoint needs independent
// proof; everything before is already reflected in both signatures.
package proof

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// Assembler reads committed channel state and the audit log tail.
type Assembler struct {
	channels *channel.Manager
	audit    *auditlog.Log
}

// NewAssembler creates a proof assembler.
func NewAssembler(channels *channel.Manager, audit *auditlog.Log) *Assembler {
	return &Assembler{channels: channels, audit: audit}
}

// Assemble builds the dispute bundle for a channel. It fails cleanly
// when the channel has never had an accepted state update: there is
// nothing to anchor a dispute to, and no partial proof is emitted.
func (a *Assembler) Assemble(channelID string) (*domain.ForceExitProof, error) {
	ch, err := a.channels.Get(channelID)
	if err != nil {
		return nil, err
	}
	if ch.LatestState == nil {
		return nil, errors.Wrapf(domain.ErrNoAcceptedState, "channel %s", channelID)
	}

	cutoff := ch.LatestState.Timestamp
	p := &domain.ForceExitProof{
		ChannelID:    channelID,
		LatestState:  ch.LatestState,
		OrderIntents: []domain.SignedOrderIntent{},
		Fills:        []domain.Fill{},
		GeneratedAt:  time.Now().Unix(),
	}
	for _, e := range a.audit.Export(channelID) {
		switch e.Kind {
		case domain.AuditOrderIntent:
			if e.Intent.ExpiresAt > cutoff {
				p.OrderIntents = append(p.OrderIntents, *e.Intent)
			}
		case domain.AuditFill:
			if e.Fill.Timestamp.Unix() > cutoff {
				p.Fills = append(p.Fills, *e.Fill)
			}
		}
	}
	return p, nil
}

// Export serializes a proof to its wire-exact JSON document.
func Export(p *domain.ForceExitProof) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode proof")
	}
	return data, nil
}

// Import parses a proof document, rejecting unknown fields and
// structurally incomplete bundles.
func Import(data []byte) (*domain.ForceExitProof, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p domain.ForceExitProof
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}
	if p.ChannelID == "" || p.LatestState == nil {
		return nil, errors.Wrap(domain.ErrValidation, "proof missing channel id or latest state")
	}
	return &p, nil
}
