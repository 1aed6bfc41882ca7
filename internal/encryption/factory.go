package encryption

import (
	"fmt"

	"appkeep/internal/config"
	"appkeep/internal/keep"
)

// NewPassphraseSourceFromConfig creates a PassphraseSource based on the
// configuration type.
func NewPassphraseSourceFromConfig(cfg config.EncryptionConfig, prompt Prompter) (keep.PassphraseSource, error) {
	switch cfg.Type {
	case "fixed", "":
		return NewFixedPassphrase(cfg.Passphrase), nil
	case "age":
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("encryption type age requires key_path")
		}
		return NewAgeKeyFile(cfg, prompt), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
