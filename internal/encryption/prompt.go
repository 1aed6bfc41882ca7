package encryption

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Prompter asks the operator for a secret.
type Prompter func(prompt string) (string, error)

// TerminalPrompt reads a secret from the controlling terminal without echo.
func TerminalPrompt(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading from terminal: %w", err)
	}
	return string(secret), nil
}

// StaticPrompt answers every prompt with secret.
func StaticPrompt(secret string) Prompter {
	return func(string) (string, error) { return secret, nil }
}
