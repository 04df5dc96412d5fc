package models

import "time"

type Account struct {
	Identity       string    `json:"identity"`
	Address        string    `json:"address"`
	PublicKey      []byte    `json:"public_key"`
	CachedSequence uint64    `json:"cached_sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

type Balance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type BalanceSnapshot struct {
	Identity string    `json:"identity"`
	Address  string    `json:"address"`
	Sequence uint64    `json:"sequence"`
	Balances []Balance `json:"balances"`
}
