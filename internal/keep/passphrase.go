package keep

// PassphraseSource supplies the password protecting data containers.
type PassphraseSource interface {
	Passphrase() (string, error)
}
