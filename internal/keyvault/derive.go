package keyvault

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "lumenpay/account/signing/v1"

// generateKeypair draws fresh bip39 entropy and derives the account signing
// keypair from it. The mnemonic is retained so a custodial account can be
// reconstructed offline from the encrypted vault snapshot alone.
func generateKeypair() (mnemonic string, pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, nil, err
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, nil, err
	}
	pub, priv, err = deriveKeypair(mnemonic)
	return mnemonic, pub, priv, err
}

func deriveKeypair(mnemonic string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	seedBytes := bip39.NewSeed(mnemonic, "")
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
