package testutil

import (
	"zipdaemon/internal/encryption"
)

// NewTestEncryptor creates the deterministic, key-less test encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
