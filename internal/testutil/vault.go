package testutil

import (
	"boxes-go/internal/encryption"
	"boxes-go/internal/vault"
)

// NewTestVault creates an in-memory vault whose archives get increasing
// timestamps.
func NewTestVault() *vault.MemoryVault {
	v := vault.NewMemoryVault("test-vault")
	v.SetClock(TickingClock())
	return v
}

// NewTestEncryptor returns the reversible, key-less test encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
