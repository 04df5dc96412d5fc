package keyvault

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const addressPrefix = "lp1"

// BuildAddress derives the public ledger address for a signing key.
func BuildAddress(publicKey []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(publicKey))
	}
	h := blake2b.Sum256(publicKey)
	return addressPrefix + base58.Encode(h[:]), nil
}

// VerifyAddress reports whether address matches the given public key.
func VerifyAddress(address string, publicKey []byte) (bool, error) {
	expected, err := BuildAddress(publicKey)
	if err != nil {
		return false, err
	}
	return address == expected, nil
}

// IsAddress is a cheap shape check for boundary validation.
func IsAddress(s string) bool {
	if !strings.HasPrefix(s, addressPrefix) {
		return false
	}
	_, err := base58.Decode(s[len(addressPrefix):])
	return err == nil
}
