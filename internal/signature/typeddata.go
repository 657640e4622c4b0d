// Package signature owns the canonical encoding and verification of
// the two signed message kinds: order intents and state updates.
// Encoding must be byte-for-byte reproducible across implementations
// for cross-party agreement to work; signing keys are held by an
// external custody collaborator, this package only needs a private key
// for local test and session signing.
package signature

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// Domain is the typed-data domain the messages are bound to. Changing
// any field invalidates all previously produced signatures.
type Domain struct {
	Name    string
	Version string
	ChainID uint64
}

// DefaultDomain returns the protocol domain for the given network.
func DefaultDomain(chainID uint64) Domain {
	return Domain{Name: "orderbooktrade", Version: "1", ChainID: chainID}
}

// Type tags distinguish the two message kinds inside the same domain.
const (
	tagOrderIntent byte = 0x01
	tagStateUpdate byte = 0x02
)

// Separator returns the 32-byte domain separator.
func (d Domain) Separator() []byte {
	var buf []byte
	buf = append(buf, crypto.Keccak256([]byte(d.Name))...)
	buf = append(buf, crypto.Keccak256([]byte(d.Version))...)
	buf = appendUint64(buf, d.ChainID)
	return crypto.Keccak256(buf)
}

// HashOrderIntent returns the 32-byte signing digest of an order
// intent under the domain.
func (d Domain) HashOrderIntent(in domain.OrderIntent) []byte {
	var buf []byte
	buf = append(buf, tagOrderIntent)
	buf = append(buf, crypto.Keccak256([]byte(in.MarketID))...)
	buf = append(buf, crypto.Keccak256([]byte(in.Side))...)
	buf = appendInt64(buf, in.Quantity)
	buf = appendInt64(buf, in.LimitPrice)
	buf = appendUint64(buf, in.Nonce)
	buf = appendInt64(buf, in.ExpiresAt)
	buf = append(buf, crypto.Keccak256([]byte(normalizeAddress(in.Participant)))...)
	return d.digest(crypto.Keccak256(buf))
}

// HashStateUpdate returns the 32-byte signing digest of a state
// update under the domain.
func (d Domain) HashStateUpdate(u domain.StateUpdate) []byte {
	var buf []byte
	buf = append(buf, tagStateUpdate)
	buf = append(buf, crypto.Keccak256([]byte(u.ChannelID))...)
	buf = appendUint64(buf, u.Sequence)
	buf = appendInt64(buf, u.Balances.Base)
	buf = appendInt64(buf, u.Balances.Quote)
	buf = appendInt64(buf, u.CumulativeFees)
	buf = appendInt64(buf, u.Timestamp)
	return d.digest(crypto.Keccak256(buf))
}

// digest binds a struct hash to the domain, EIP-191 style.
func (d Domain) digest(structHash []byte) []byte {
	var buf []byte
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, d.Separator()...)
	buf = append(buf, structHash...)
	return crypto.Keccak256(buf)
}

// OrderID derives the deterministic order id from the fields that make
// a submission unique. Idempotent resubmission after a reconnect
// depends on the id being stable.
func OrderID(participant, marketID string, nonce uint64, expiresAt int64) string {
	var buf []byte
	buf = append(buf, []byte(normalizeAddress(participant))...)
	buf = append(buf, []byte(marketID)...)
	buf = appendUint64(buf, nonce)
	buf = appendInt64(buf, expiresAt)
	sum := crypto.Keccak256(buf)
	return hex.EncodeToString(sum[:16])
}

func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}
