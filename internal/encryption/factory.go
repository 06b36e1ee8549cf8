package encryption

import (
	"fmt"

	"okm-go/internal/config"
	"okm-go/internal/okm"
)

// NewEncryptorFromConfig creates the Encryptor selected by cfg.Type.
// Type "none" (or empty) returns nil: content is stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (okm.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
