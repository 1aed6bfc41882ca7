// Package container writes and reads the zip containers of an archive set:
// a stored container with the installed package files and an AES-256
// encrypted container with the data snapshot.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yeka/zip"

	"appkeep/internal/keep"
)

// DefaultPackageExtensions are the installable package files collected from
// an application's package directory.
var DefaultPackageExtensions = []string{".apk"}

// Archiver implements both directions of the container stage.
type Archiver struct {
	fsmgr      keep.FilesystemManager
	passphrase keep.PassphraseSource
	extensions []string
	logger     keep.Logger
}

var (
	_ keep.PackageArchiver  = (*Archiver)(nil)
	_ keep.ArchiveExtractor = (*Archiver)(nil)
)

// Options configure an Archiver.
type Options struct {
	// PackageExtensions selects package files by extension. Empty selects
	// DefaultPackageExtensions.
	PackageExtensions []string
}

// NewArchiver creates an Archiver. Data containers are encrypted with the
// passphrase supplied by passphrase at the time each container is written.
func NewArchiver(fsmgr keep.FilesystemManager, passphrase keep.PassphraseSource, opts Options, logger keep.Logger) *Archiver {
	exts := opts.PackageExtensions
	if len(exts) == 0 {
		exts = DefaultPackageExtensions
	}
	return &Archiver{
		fsmgr:      fsmgr,
		passphrase: passphrase,
		extensions: exts,
		logger:     logger,
	}
}

// ArchivePackageFiles writes every package file under app.PackageDir into
// {stagingDir}/PackageContainerName(app) without compression. Entry names
// are relative to PackageDir. An existing container is replaced.
func (a *Archiver) ArchivePackageFiles(ctx context.Context, app *keep.Application, stagingDir string) (string, error) {
	dst := filepath.Join(stagingDir, keep.PackageContainerName(app))
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: removing old package container: %v", keep.ErrArchiveFailed, err)
	}

	files, err := a.fsmgr.FindFiles(app.PackageDir, a.extensions)
	if err != nil {
		return "", fmt.Errorf("%w: finding package files: %v", keep.ErrArchiveFailed, err)
	}
	if len(files) == 0 {
		a.logger.Warn("no package files found", "package", app.PackageID, "package_dir", app.PackageDir)
	}

	var total int64
	err = writeAtomic(dst, func(f *os.File) error {
		zw := zip.NewWriter(f)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := storeFile(zw, app.PackageDir, path)
			if err != nil {
				return err
			}
			total += n
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finishing zip: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", keep.ErrArchiveFailed, filepath.Base(dst), err)
	}

	a.logger.Debug("package container written", "package", app.PackageID, "files", len(files), "size", humanize.Bytes(uint64(total)))
	return dst, nil
}

func storeFile(zw *zip.Writer, root, path string) (int64, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0, fmt.Errorf("relative path for %s: %w", path, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("zip header for %s: %w", path, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Store

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("adding %s: %w", rel, err)
	}
	n, err := io.Copy(w, src)
	if err != nil {
		return n, fmt.Errorf("storing %s: %w", rel, err)
	}
	return n, nil
}

// EncryptDataArchive moves the data snapshot tar into an AES-256 encrypted,
// deflated container and deletes the tar. Without a tar it does nothing.
//
// The entry is compressed at yeka/zip's default deflate level (5), not the
// fastest level. The library keeps one process-wide compressor table and
// panics when Deflate is registered a second time, so the level cannot be
// set per writer. Readers see an ordinary deflated AES entry either way.
func (a *Archiver) EncryptDataArchive(ctx context.Context, app *keep.Application, stagingDir string) (string, error) {
	tarPath := filepath.Join(stagingDir, keep.DataArchiveName(app))
	info, err := os.Stat(tarPath)
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("no data snapshot to encrypt", "package", app.PackageID)
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", keep.ErrArchiveFailed, err)
	}

	passphrase, err := a.passphrase.Passphrase()
	if err != nil {
		return "", fmt.Errorf("%w: getting passphrase: %w", keep.ErrArchiveFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(stagingDir, keep.DataContainerName(app))
	err = writeAtomic(dst, func(f *os.File) error {
		src, err := os.Open(tarPath)
		if err != nil {
			return fmt.Errorf("opening snapshot: %w", err)
		}
		defer src.Close()

		zw := zip.NewWriter(f)
		w, err := zw.Encrypt(keep.DataArchiveName(app), passphrase, zip.AES256Encryption)
		if err != nil {
			return fmt.Errorf("adding encrypted entry: %w", err)
		}
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("encrypting snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finishing zip: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", keep.ErrArchiveFailed, filepath.Base(dst), err)
	}

	if err := os.Remove(tarPath); err != nil {
		return "", fmt.Errorf("%w: removing plaintext snapshot: %v", keep.ErrArchiveFailed, err)
	}

	a.logger.Debug("data container written", "package", app.PackageID, "snapshot_size", humanize.Bytes(uint64(info.Size())))
	return dst, nil
}

// ExtractPackageFiles unpacks a package container into destDir and returns
// the extracted file paths, sorted.
func (a *Archiver) ExtractPackageFiles(ctx context.Context, containerPath, destDir string) ([]string, error) {
	if _, err := os.Stat(containerPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", keep.ErrArchiveNotFound, containerPath)
		}
		return nil, fmt.Errorf("%w: %v", keep.ErrArchiveFailed, err)
	}

	r, err := zip.OpenReader(containerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", keep.ErrArchiveFailed, containerPath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", keep.ErrArchiveFailed, err)
	}

	var paths []string
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		target, err := entryPath(destDir, f.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", keep.ErrArchiveFailed, err)
		}
		if err := extractEntry(f, target); err != nil {
			return nil, fmt.Errorf("%w: %v", keep.ErrArchiveFailed, err)
		}
		paths = append(paths, target)
	}

	sort.Strings(paths)
	return paths, nil
}

// entryPath maps a zip entry name into destDir, refusing names that would
// escape it.
func entryPath(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the destination", name)
	}
	return filepath.Join(destDir, clean), nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	return writeAtomic(target, func(out *os.File) error {
		if _, err := io.Copy(out, rc); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		return nil
	})
}

// DecryptDataArchive writes the decrypted snapshot held by containerPath to
// destPath. Output goes to a temp file first; destPath only appears once the
// whole entry decrypted and authenticated.
func (a *Archiver) DecryptDataArchive(ctx context.Context, containerPath, destPath string) error {
	if _, err := os.Stat(containerPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", keep.ErrArchiveNotFound, containerPath)
		}
		return fmt.Errorf("%w: %v", keep.ErrDecryptionFailed, err)
	}

	passphrase, err := a.passphrase.Passphrase()
	if err != nil {
		return fmt.Errorf("%w: getting passphrase: %w", keep.ErrDecryptionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := zip.OpenReader(containerPath)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", keep.ErrDecryptionFailed, containerPath, err)
	}
	defer r.Close()

	entry, err := snapshotEntry(r.File)
	if err != nil {
		return fmt.Errorf("%w: %v", keep.ErrDecryptionFailed, err)
	}
	if !entry.IsEncrypted() {
		return fmt.Errorf("%w: %s holds an unencrypted snapshot", keep.ErrDecryptionFailed, filepath.Base(containerPath))
	}
	entry.SetPassword(passphrase)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", keep.ErrDecryptionFailed, err)
	}
	err = writeAtomic(destPath, func(out *os.File) error {
		rc, err := entry.Open()
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			rc.Close()
			return err
		}
		return rc.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", keep.ErrDecryptionFailed, filepath.Base(containerPath), err)
	}
	return nil
}

func snapshotEntry(files []*zip.File) (*zip.File, error) {
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".tar") {
			return f, nil
		}
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return nil, errors.New("container holds no snapshot entry")
}
