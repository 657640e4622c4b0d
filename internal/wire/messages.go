// Package wire decodes incoming transport payloads into a tagged
// union of the known message kinds with strict schema validation.
// Unknown or malformed message types are rejected, not logged and
// ignored.
package wire

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// MessageType tags a wire envelope.
type MessageType string

const (
	TypeOrderIntent      MessageType = "order_intent"
	TypeFillNotification MessageType = "fill_notification"
	TypeStateUpdate      MessageType = "state_update"
)

// Envelope is the outer frame of every wire message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OrderIntentMsg is a signed order submission. Field names are
// wire-exact.
type OrderIntentMsg struct {
	MarketID    string `json:"marketId" validate:"required"`
	Side        string `json:"side" validate:"required,oneof=buy sell"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	LimitPrice  int64  `json:"limitPrice" validate:"gte=0,lt=100"`
	Nonce       uint64 `json:"nonce"`
	ExpiresAt   int64  `json:"expiresAt" validate:"required,gt=0"`
	Signature   string `json:"signature" validate:"required"`
	Participant string `json:"participantAddress" validate:"required,eth_addr"`
}

// Intent converts the message to its canonical signed form.
func (m *OrderIntentMsg) Intent() domain.SignedOrderIntent {
	return domain.SignedOrderIntent{
		OrderIntent: domain.OrderIntent{
			MarketID:    m.MarketID,
			Side:        domain.Side(m.Side),
			Quantity:    m.Quantity,
			LimitPrice:  m.LimitPrice,
			Nonce:       m.Nonce,
			ExpiresAt:   m.ExpiresAt,
			Participant: m.Participant,
		},
		Signature: m.Signature,
	}
}

// FillNotificationMsg reports an execution from the operator.
type FillNotificationMsg struct {
	OrderID           string `json:"orderId" validate:"required"`
	FillPrice         int64  `json:"fillPrice" validate:"required,gt=0"`
	FillQuantity      int64  `json:"fillQuantity" validate:"required,gt=0"`
	Fee               int64  `json:"fee" validate:"gte=0"`
	Timestamp         int64  `json:"timestamp" validate:"required,gt=0"`
	BatchID           string `json:"batchId,omitempty"`
	OperatorSignature string `json:"operatorSignature" validate:"required"`
}

// StateUpdateMsg carries a dual-signed channel checkpoint.
type StateUpdateMsg struct {
	ChannelID            string                 `json:"channelId" validate:"required"`
	Sequence             uint64                 `json:"sequence"`
	Balances             domain.ChannelBalances `json:"balances"`
	CumulativeFees       int64                  `json:"cumulativeFees" validate:"gte=0"`
	Timestamp            int64                  `json:"timestamp" validate:"required,gt=0"`
	ParticipantSignature string                 `json:"participantSignature" validate:"required"`
	OperatorSignature    string                 `json:"operatorSignature" validate:"required"`
}

// Signed converts the message to its canonical dual-signed form.
func (m *StateUpdateMsg) Signed() domain.SignedStateUpdate {
	return domain.SignedStateUpdate{
		StateUpdate: domain.StateUpdate{
			ChannelID:      m.ChannelID,
			Sequence:       m.Sequence,
			Balances:       m.Balances,
			CumulativeFees: m.CumulativeFees,
			Timestamp:      m.Timestamp,
		},
		ParticipantSignature: m.ParticipantSignature,
		OperatorSignature:    m.OperatorSignature,
	}
}

// Message is the decoded tagged union. Exactly one payload field is
// set, matching Type.
type Message struct {
	Type        MessageType
	OrderIntent *OrderIntentMsg
	Fill        *FillNotificationMsg
	StateUpdate *StateUpdateMsg
}

var validate = validator.New()

// Validate applies a payload's schema rules outside Decode, for
// payloads bound directly from HTTP bodies.
func Validate(payload any) error {
	if err := validate.Struct(payload); err != nil {
		return errors.Wrap(domain.ErrValidation, err.Error())
	}
	return nil
}

// Decode parses and validates a wire payload.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}
	if len(env.Data) == 0 {
		return nil, errors.Wrap(domain.ErrValidation, "empty message data")
	}

	msg := &Message{Type: env.Type}
	var payload any
	switch env.Type {
	case TypeOrderIntent:
		msg.OrderIntent = &OrderIntentMsg{}
		payload = msg.OrderIntent
	case TypeFillNotification:
		msg.Fill = &FillNotificationMsg{}
		payload = msg.Fill
	case TypeStateUpdate:
		msg.StateUpdate = &StateUpdateMsg{}
		payload = msg.StateUpdate
	default:
		return nil, errors.Wrapf(domain.ErrValidation, "unknown message type %q", env.Type)
	}

	if err := strictUnmarshal(env.Data, payload); err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}
	if err := validate.Struct(payload); err != nil {
		return nil, errors.Wrap(domain.ErrValidation, err.Error())
	}
	if msg.StateUpdate != nil {
		if msg.StateUpdate.Balances.Base < 0 || msg.StateUpdate.Balances.Quote < 0 {
			return nil, errors.Wrap(domain.ErrValidation, "negative channel balances")
		}
	}
	return msg, nil
}

// Encode frames a payload into an envelope.
func Encode(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
