package neveko25519

import (
	"errors"
	"fmt"

	"github.com/neveko-market/nevekod/internal/storage"
)

// secretDBKey is the reserved storage key for the local message secret.
const secretDBKey = "NEVEKO_NMPK_SECRET_KEY"

// LoadOrCreate returns the process message key pair, generating and
// persisting a fresh one on first start.
func LoadOrCreate(db *storage.DB) (*KeyPair, error) {
	raw, err := db.Get(secretDBKey)
	if err == nil && len(raw) > 0 {
		return KeyPairFromHex(string(raw))
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read message key: %w", err)
	}

	pair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := db.Put(secretDBKey, []byte(pair.SecretHex())); err != nil {
		return nil, fmt.Errorf("failed to persist message key: %w", err)
	}
	return pair, nil
}

// Revoke deletes the persisted message secret; the next LoadOrCreate
// generates a new identity.
func Revoke(db *storage.DB) error {
	err := db.Delete(secretDBKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
