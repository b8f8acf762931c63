package encryption

import (
	"fmt"

	"boxes-go/internal/boxes"
	"boxes-go/internal/config"
)

// NewEncryptorFromConfig returns the configured Encryptor, or nil when
// encryption is disabled.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (boxes.Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewKeyManager returns an Encryptor for key management regardless of the
// Enabled flag, so keys can be created before encryption is switched on.
func NewKeyManager(cfg config.EncryptionConfig) (boxes.Encryptor, error) {
	cfg.Enabled = true
	return NewEncryptorFromConfig(cfg)
}
