package keyvault

import (
	"crypto/ed25519"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"time"

	"lumenpay/go-backend/internal/securestore"
	"lumenpay/go-backend/pkg/models"
)

var (
	ErrAlreadyExists    = errors.New("account already exists for identity")
	ErrNotFound         = errors.New("account not found")
	ErrIdentityRequired = errors.New("identity is required")
)

// Vault owns custodial account records. Creation is the only mutation of key
// material; the AlreadyExists check doubles as the create-once barrier, so
// reads need no further coordination beyond the RWMutex.
type Vault struct {
	mu         sync.RWMutex
	accounts   map[string]record
	path       string
	passphrase string
}

func NewVault() *Vault {
	return &Vault{accounts: make(map[string]record)}
}

// NewPersistentVault loads (or starts) an encrypted snapshot at path.
func NewPersistentVault(path, passphrase string) (*Vault, error) {
	v := &Vault{
		accounts:   make(map[string]record),
		path:       path,
		passphrase: passphrase,
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateAccount generates a fresh keypair for identity and persists the
// record. The cached sequence starts at zero; it is reconciled against the
// ledger on first use.
func (v *Vault) CreateAccount(identity string) (models.Account, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return models.Account{}, ErrIdentityRequired
	}

	mnemonic, pub, priv, err := generateKeypair()
	if err != nil {
		return models.Account{}, err
	}
	address, err := BuildAddress(pub)
	if err != nil {
		return models.Account{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.accounts[identity]; ok {
		return models.Account{}, ErrAlreadyExists
	}
	rec := record{
		Identity:       identity,
		Address:        address,
		PublicKey:      append([]byte(nil), pub...),
		SecretKey:      append([]byte(nil), priv...),
		Mnemonic:       mnemonic,
		CachedSequence: 0,
		CreatedAt:      time.Now().UTC(),
	}
	next := v.cloneLocked()
	next[identity] = rec
	if err := v.persistLocked(next); err != nil {
		return models.Account{}, err
	}
	v.accounts = next
	return rec.account(), nil
}

// GetAccount returns the public view of an account. Secret material is never
// present on the returned value.
func (v *Vault) GetAccount(identity string) (models.Account, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.accounts[strings.TrimSpace(identity)]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return rec.account(), nil
}

// SigningKey hands out the secret key for the orchestrator's signing step.
// Callers must not retain the returned slice beyond signing.
func (v *Vault) SigningKey(identity string) (ed25519.PrivateKey, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.accounts[strings.TrimSpace(identity)]
	if !ok {
		return nil, ErrNotFound
	}
	return append(ed25519.PrivateKey(nil), rec.SecretKey...), nil
}

// SetCachedSequence records the reconciled sequence lower bound for identity.
func (v *Vault) SetCachedSequence(identity string, sequence uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.accounts[strings.TrimSpace(identity)]
	if !ok {
		return ErrNotFound
	}
	rec.CachedSequence = sequence
	next := v.cloneLocked()
	next[rec.Identity] = rec
	if err := v.persistLocked(next); err != nil {
		return err
	}
	v.accounts = next
	return nil
}

func (v *Vault) cloneLocked() map[string]record {
	next := make(map[string]record, len(v.accounts)+1)
	for k, rec := range v.accounts {
		next[k] = rec
	}
	return next
}

func (v *Vault) persistLocked(accounts map[string]record) error {
	if v.path == "" {
		return nil
	}
	return securestore.WriteEncryptedJSON(v.path, v.passphrase, accounts)
}

func (v *Vault) load() error {
	if v.path == "" {
		return nil
	}
	var accounts map[string]record
	err := securestore.ReadDecryptedJSON(v.path, v.passphrase, &accounts)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if accounts != nil {
		v.accounts = accounts
	}
	return nil
}
