package encryption

import (
	"fmt"

	"zipdaemon/internal/config"
	"zipdaemon/internal/zipd"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. An empty type disables encryption and returns nil.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (zipd.Encryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		e := NewAgeEncryptor(cfg.PublicKeyPath, cfg.PrivateKeyPath)
		if !e.IsConfigured() {
			return nil, fmt.Errorf("age keys not found at %s; run \"zipdaemon keys init\"", cfg.PublicKeyPath)
		}
		return e, nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
