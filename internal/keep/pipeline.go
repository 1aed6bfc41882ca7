package keep

import "context"

// Snapshotter captures an application's data directory as a tar file in the
// staging directory (the tar stage).
type Snapshotter interface {
	Snapshot(ctx context.Context, app *Application, stagingDir string) (string, error)
}

// PackageArchiver builds the two zip containers of an archive set.
// The two methods touch disjoint files and may run concurrently.
type PackageArchiver interface {
	// ArchivePackageFiles stores the installed package files in
	// {stagingDir}/PackageContainerName(app).
	ArchivePackageFiles(ctx context.Context, app *Application, stagingDir string) (string, error)

	// EncryptDataArchive wraps {stagingDir}/DataArchiveName(app) into
	// {stagingDir}/DataContainerName(app) and removes the tar. It is a no-op
	// returning "" when there is no tar.
	EncryptDataArchive(ctx context.Context, app *Application, stagingDir string) (string, error)
}

// ArchiveExtractor reads the containers of an archive set back.
type ArchiveExtractor interface {
	// ExtractPackageFiles unpacks the package container into destDir and
	// returns the extracted paths.
	ExtractPackageFiles(ctx context.Context, containerPath, destDir string) ([]string, error)

	// DecryptDataArchive writes the decrypted tar to destPath. Nothing is
	// written to destPath unless the whole stream decrypted cleanly.
	DecryptDataArchive(ctx context.Context, containerPath, destPath string) error
}

// DataRestorer applies a tar snapshot to a live data directory.
type DataRestorer interface {
	RestoreData(ctx context.Context, app *Application, tarPath string) error
	Relabel(ctx context.Context, app *Application) error
}

// Installer installs package files through the privileged installer.
type Installer interface {
	Install(ctx context.Context, app *Application, packageFiles []string) error
}

// Pipeline bundles the stage implementations the Service sequences.
type Pipeline struct {
	Shell       Executor
	Snapshotter Snapshotter
	Archiver    PackageArchiver
	Extractor   ArchiveExtractor
	Restorer    DataRestorer
	Installer   Installer
}
