package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const maxFractionDigits = 7

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidKeyLength  = errors.New("invalid signing key material")
	ErrInvalidSigningKey = errors.New("signing key does not match payment source")
)

// Payment is the immutable intent submitted to the ledger. Field order is the
// canonical wire order; the signature covers the serialized form.
type Payment struct {
	Network     string `json:"network"`
	Source      string `json:"source"`
	Sequence    uint64 `json:"sequence"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Fee         uint32 `json:"fee"`
}

type SignedEnvelope struct {
	Payment   Payment `json:"payment"`
	Signature []byte  `json:"signature"`
}

func (p Payment) canonicalBytes() ([]byte, error) {
	return json.Marshal(p)
}

// Hash returns the blake2b-256 digest of the canonical payment bytes.
func (p Payment) Hash() ([32]byte, error) {
	raw, err := p.canonicalBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(raw), nil
}

// SignPayment signs the canonical payment digest. A malformed key here is a
// programmer error surfaced as ErrInvalidKeyLength, not a runtime condition
// callers retry.
func SignPayment(p Payment, priv ed25519.PrivateKey) (SignedEnvelope, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return SignedEnvelope{}, ErrInvalidKeyLength
	}
	digest, err := p.Hash()
	if err != nil {
		return SignedEnvelope{}, err
	}
	return SignedEnvelope{
		Payment:   p,
		Signature: ed25519.Sign(priv, digest[:]),
	}, nil
}

func (e SignedEnvelope) Verify(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(e.Signature) != ed25519.SignatureSize {
		return false
	}
	digest, err := e.Payment.Hash()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, digest[:], e.Signature)
}

// ValidateAmount checks the decimal-as-string amount format: an integer part,
// an optional fraction of at most seven digits, and a value above zero.
func ValidateAmount(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return ErrInvalidAmount
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return ErrInvalidAmount
	}
	if hasFrac && (fracPart == "" || len(fracPart) > maxFractionDigits || !allDigits(fracPart)) {
		return ErrInvalidAmount
	}
	if strings.Trim(intPart, "0") == "" && strings.Trim(fracPart, "0") == "" {
		return ErrInvalidAmount
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
