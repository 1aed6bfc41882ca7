package keep

// PackageStore resolves package ids to application descriptors.
// The pipeline never writes to it; sidecar files are the only record the
// pipeline leaves behind.
type PackageStore interface {
	// GetApplication returns ErrApplicationNotFound (possibly wrapped) when
	// the id is unknown.
	GetApplication(packageID string) (*Application, error)
}
