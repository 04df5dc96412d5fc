package keyvault

import (
	"time"

	"lumenpay/go-backend/pkg/models"
)

// record is the persisted shape of an account. Secret material lives only
// here; it is stripped before anything leaves the vault.
type record struct {
	Identity       string    `json:"identity"`
	Address        string    `json:"address"`
	PublicKey      []byte    `json:"public_key"`
	SecretKey      []byte    `json:"secret_key"`
	Mnemonic       string    `json:"mnemonic"`
	CachedSequence uint64    `json:"cached_sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r record) account() models.Account {
	return models.Account{
		Identity:       r.Identity,
		Address:        r.Address,
		PublicKey:      append([]byte(nil), r.PublicKey...),
		CachedSequence: r.CachedSequence,
		CreatedAt:      r.CreatedAt,
	}
}
