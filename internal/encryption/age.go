package encryption

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"appkeep/internal/config"
	"appkeep/internal/keep"
)

// ErrNotConfigured is returned when the key file has not been created yet.
var ErrNotConfigured = errors.New("key file not set up")

// AgeKeyFile keeps the data container passphrase in a file encrypted with
// the operator's passphrase using age's scrypt-based passphrase encryption.
// The operator passphrase is asked for once per process.
type AgeKeyFile struct {
	keyPath string
	prompt  Prompter

	mu     sync.Mutex
	cached string
}

var _ keep.PassphraseSource = (*AgeKeyFile)(nil)

// NewAgeKeyFile creates an AgeKeyFile from configuration. prompt is used to
// read the operator passphrase when the container passphrase is first needed.
func NewAgeKeyFile(cfg config.EncryptionConfig, prompt Prompter) *AgeKeyFile {
	return &AgeKeyFile{
		keyPath: cfg.KeyPath,
		prompt:  prompt,
	}
}

// Setup stores containerPassphrase in the key file, encrypted with
// operatorPassphrase. An empty containerPassphrase generates a random one.
// An existing key file is never overwritten.
func (k *AgeKeyFile) Setup(operatorPassphrase, containerPassphrase string) error {
	if k.IsConfigured() {
		return fmt.Errorf("key file already exists at %s", k.keyPath)
	}
	if containerPassphrase == "" {
		generated, err := generatePassphrase()
		if err != nil {
			return err
		}
		containerPassphrase = generated
	}

	if err := os.MkdirAll(filepath.Dir(k.keyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	keyFile, err := os.OpenFile(k.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	defer keyFile.Close()

	recipient, err := age.NewScryptRecipient(operatorPassphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(keyFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.WriteString(w, containerPassphrase+"\n"); err != nil {
		return fmt.Errorf("writing encrypted passphrase: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted passphrase: %w", err)
	}

	return nil
}

// Unlock decrypts the key file with the operator passphrase and caches the
// container passphrase for later Passphrase calls.
func (k *AgeKeyFile) Unlock(operatorPassphrase string) (string, error) {
	data, err := os.ReadFile(k.keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotConfigured, k.keyPath)
		}
		return "", fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(operatorPassphrase)
	if err != nil {
		return "", fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting key file: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted key file: %w", err)
	}

	passphrase := strings.TrimRight(string(plain), "\n")
	if passphrase == "" {
		return "", fmt.Errorf("key file %s holds an empty passphrase", k.keyPath)
	}

	k.mu.Lock()
	k.cached = passphrase
	k.mu.Unlock()
	return passphrase, nil
}

// Passphrase returns the container passphrase, prompting for the operator
// passphrase on first use.
func (k *AgeKeyFile) Passphrase() (string, error) {
	k.mu.Lock()
	cached := k.cached
	k.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	if !k.IsConfigured() {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, k.keyPath)
	}
	if k.prompt == nil {
		return "", fmt.Errorf("no way to ask for the key file passphrase")
	}
	operator, err := k.prompt("Key file passphrase: ")
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return k.Unlock(operator)
}

// IsConfigured returns true if the key file exists.
func (k *AgeKeyFile) IsConfigured() bool {
	_, err := os.Stat(k.keyPath)
	return err == nil
}

func generatePassphrase() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating passphrase: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
