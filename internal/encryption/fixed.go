package encryption

import "appkeep/internal/keep"

// DefaultPassphrase protects data containers unless configured otherwise.
// Archives written with it can be opened by any appkeep installation.
const DefaultPassphrase = "appkeep-archive"

// FixedPassphrase always returns the same passphrase.
type FixedPassphrase struct {
	value string
}

var _ keep.PassphraseSource = (*FixedPassphrase)(nil)

// NewFixedPassphrase creates a FixedPassphrase. An empty value selects
// DefaultPassphrase.
func NewFixedPassphrase(value string) *FixedPassphrase {
	if value == "" {
		value = DefaultPassphrase
	}
	return &FixedPassphrase{value: value}
}

func (p *FixedPassphrase) Passphrase() (string, error) {
	return p.value, nil
}

// Value returns the passphrase.
func (p *FixedPassphrase) Value() string {
	return p.value
}
