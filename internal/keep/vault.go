package keep

// ArchiveSet is a complete backup found under the backup root.
type ArchiveSet struct {
	Dir     string
	Sidecar *Sidecar
}

// Vault owns the backup root. Archive sets appear in it atomically: a set
// directory is either absent or holds every artifact.
type Vault interface {
	// Store moves the assembled contents of stagedDir into the archive set
	// for app, replacing any previous set. It returns the set directory.
	Store(app *Application, stagedDir string) (string, error)

	// Locate returns the archive set for app. When the exact name/version
	// set is missing, the newest set recorded for the same package id is
	// used. Returns ErrArchiveNotFound if there is none.
	Locate(app *Application) (*ArchiveSet, error)

	// List returns all archive sets with a readable sidecar, newest first.
	List() ([]*ArchiveSet, error)
}
