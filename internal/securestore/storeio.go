package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteEncryptedJSON marshals, encrypts and writes a snapshot. The write is not
// atomic across processes; callers serialize snapshots behind their own lock.
func WriteEncryptedJSON(path, passphrase string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(passphrase, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, encrypted, 0o600)
}

// ReadDecryptedJSON reads an encrypted snapshot into v.
func ReadDecryptedJSON(path, passphrase string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	payload, err := Decrypt(passphrase, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
