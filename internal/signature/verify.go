package signature

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// Verifier checks message signatures against expected signer
// addresses. Malformed input or a mismatch returns false, never
// panics.
type Verifier struct {
	domain Domain
}

// NewVerifier creates a verifier bound to a typed-data domain.
func NewVerifier(d Domain) *Verifier {
	return &Verifier{domain: d}
}

// VerifyOrderIntent reports whether sigHex is a valid signature over
// the canonical encoding of in by expectedSigner.
func (v *Verifier) VerifyOrderIntent(in domain.OrderIntent, sigHex, expectedSigner string) bool {
	return verifyDigest(v.domain.HashOrderIntent(in), sigHex, expectedSigner)
}

// VerifyStateUpdate reports whether sigHex is a valid signature over
// the canonical encoding of u by expectedSigner.
func (v *Verifier) VerifyStateUpdate(u domain.StateUpdate, sigHex, expectedSigner string) bool {
	return verifyDigest(v.domain.HashStateUpdate(u), sigHex, expectedSigner)
}

// verifyDigest recovers the signer from a 65-byte [R||S||V] signature
// and compares addresses case-insensitively.
func verifyDigest(digest []byte, sigHex, expectedSigner string) bool {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != 65 {
		return false
	}
	// Accept both raw (0/1) and Ethereum-style (27/28) recovery ids.
	rs := make([]byte, 65)
	copy(rs, sig)
	if rs[64] >= 27 {
		rs[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, rs)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	return strings.EqualFold(recovered, expectedSigner)
}

// Signer produces signatures over the canonical encodings with a
// locally held key. Used by tests and by the session when acting as
// its own key custodian.
type Signer struct {
	domain Domain
	key    *ecdsa.PrivateKey
}

// NewSigner creates a signer from a hex-encoded secp256k1 private key.
func NewSigner(d Domain, hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return &Signer{domain: d, key: key}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner(d Domain) (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return &Signer{domain: d, key: key}, nil
}

// Address returns the signer's 0x-prefixed address.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// SignOrderIntent signs the canonical encoding of in.
func (s *Signer) SignOrderIntent(in domain.OrderIntent) (string, error) {
	return s.sign(s.domain.HashOrderIntent(in))
}

// SignStateUpdate signs the canonical encoding of u.
func (s *Signer) SignStateUpdate(u domain.StateUpdate) (string, error) {
	return s.sign(s.domain.HashStateUpdate(u))
}

func (s *Signer) sign(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", errors.Wrap(err, "sign digest")
	}
	// Ethereum convention for the recovery id.
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
