package keep

import (
	"fmt"
	"strings"
)

// Application describes an installed application as the package catalog
// knows it. The backup pipeline only reads it.
type Application struct {
	PackageID   string
	Name        string
	VersionName string
	DataDir     string // private data directory, e.g. /data/data/com.example.a
	PackageDir  string // directory holding the installed package files
	Icon        string // path to a thumbnail image, may be empty
	IsFavorite  bool
	IsLocal     bool
	IsCloud     bool
}

// Label returns the name shown to users, falling back to the package id.
func (a *Application) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.PackageID
}

// Archive set layout. Every backup produces one directory under the backup
// root named SetDirName(app) that holds exactly these four files:
//
//	{Name}.zip       installed package files, stored
//	{PackageID}.zip  encrypted tar of the data directory
//	{Name}.png       thumbnail
//	{Name}.txt       sidecar record
const (
	packageExt  = ".zip"
	thumbExt    = ".png"
	sidecarExt  = ".txt"
	dataTarExt  = ".tar"
	nameJoinSep = "_"
)

// SetDirName returns the archive set directory name for app.
func SetDirName(app *Application) string {
	return fileSafe(app.Name) + nameJoinSep + fileSafe(app.VersionName)
}

// PackageContainerName is the container holding the installed package files.
func PackageContainerName(app *Application) string {
	return fileSafe(app.Name) + packageExt
}

// DataContainerName is the encrypted container holding the data snapshot.
func DataContainerName(app *Application) string {
	return fileSafe(app.PackageID) + packageExt
}

// DataArchiveName is the intermediate tar snapshot of the data directory.
// It only ever exists in a staging directory.
func DataArchiveName(app *Application) string {
	return fileSafe(app.PackageID) + dataTarExt
}

func ThumbnailName(app *Application) string {
	return fileSafe(app.Name) + thumbExt
}

func SidecarName(app *Application) string {
	return fileSafe(app.Name) + sidecarExt
}

// CheckSetNames reports whether app can be archived without two artifacts
// of its set sharing a file name. The package container is named after
// Name and the data container after PackageID, so the two must differ.
func CheckSetNames(app *Application) error {
	if fileSafe(app.Name) == "" {
		return fmt.Errorf("%w: %s has no name to name its archive set after", ErrArchiveFailed, app.PackageID)
	}
	seen := make(map[string]bool, 4)
	for _, name := range SetArtifacts(app) {
		if seen[name] {
			return fmt.Errorf("%w: %s would be written twice, name %q must differ from the package id",
				ErrArchiveFailed, name, app.Name)
		}
		seen[name] = true
	}
	return nil
}

// SetArtifacts lists the file names a complete archive set contains.
func SetArtifacts(app *Application) []string {
	return []string{
		PackageContainerName(app),
		DataContainerName(app),
		ThumbnailName(app),
		SidecarName(app),
	}
}

// fileSafe keeps a display name usable as a single path element.
func fileSafe(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}
