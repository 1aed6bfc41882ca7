package encryption

import (
	"fmt"
	"testing"

	"appkeep/internal/config"
)

func TestFixedPassphrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "default", value: "", want: DefaultPassphrase},
		{name: "configured", value: "s3cret", want: "s3cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewFixedPassphrase(tt.value)
			got, err := p.Passphrase()
			if err != nil {
				t.Fatalf("Passphrase() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Passphrase() = %q, want %q", got, tt.want)
			}
			if p.Value() != got {
				t.Errorf("Value() = %q, want %q", p.Value(), got)
			}
		})
	}
}

func TestNewPassphraseSourceFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{name: "empty type is fixed", cfg: config.EncryptionConfig{}, want: "*encryption.FixedPassphrase"},
		{name: "fixed", cfg: config.EncryptionConfig{Type: "fixed"}, want: "*encryption.FixedPassphrase"},
		{name: "age", cfg: config.EncryptionConfig{Type: "age", KeyPath: "/tmp/k"}, want: "*encryption.AgeKeyFile"},
		{name: "age without key path", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewPassphraseSourceFromConfig(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewPassphraseSourceFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPassphraseSourceFromConfig() error = %v", err)
			}
			if got := typeName(src); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
