package keep

// FilesystemManager covers the unprivileged file operations the pipeline
// performs on staging and backup directories.
type FilesystemManager interface {
	// FindFiles walks root recursively and returns the regular files whose
	// extension is one of exts, sorted. An empty exts matches every file.
	FindFiles(root string, exts []string) ([]string, error)

	// CopyFile copies src to dst through a temporary file and rename.
	CopyFile(src, dst string) error

	// MoveDir renames src to dst, copying and removing src when the two are
	// on different filesystems. dst must not exist.
	MoveDir(src, dst string) error

	// WriteThumbnail copies the image at iconPath to dst, or writes a
	// placeholder image when iconPath is empty or unreadable.
	WriteThumbnail(iconPath, dst string) error
}
