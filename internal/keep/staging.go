package keep

// StagingArea hands out private working directories under the staging root.
// Directories are keyed (by package id for backups) so that concurrent work
// on different applications never collides.
type StagingArea interface {
	// Prepare returns an empty directory reserved for key. Leftovers from an
	// interrupted earlier attempt are removed first.
	Prepare(key string) (string, error)

	// Discard removes the directory for key. Removing a missing directory is
	// not an error.
	Discard(key string) error
}
