package fs

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOSFilesystemManager_FindFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "base.apk"), "base")
	writeFile(t, filepath.Join(root, "split_config.en.APK"), "split")
	writeFile(t, filepath.Join(root, "oat", "arm64", "base.odex"), "odex")
	writeFile(t, filepath.Join(root, "lib", "arm64", "libfoo.so"), "so")
	writeFile(t, filepath.Join(root, "nested", "extra.apk"), "extra")

	m := NewOSFilesystemManager()

	t.Run("filters by extension case-insensitively", func(t *testing.T) {
		got, err := m.FindFiles(root, []string{".apk"})
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		want := []string{
			filepath.Join(root, "base.apk"),
			filepath.Join(root, "nested", "extra.apk"),
			filepath.Join(root, "split_config.en.APK"),
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("FindFiles() = %v, want %v", got, want)
		}
	})

	t.Run("no extensions returns every file", func(t *testing.T) {
		got, err := m.FindFiles(root, nil)
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		if len(got) != 5 {
			t.Errorf("len(FindFiles()) = %d, want 5", len(got))
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := m.FindFiles(filepath.Join(root, "missing"), nil); err == nil {
			t.Error("FindFiles() expected error for missing root")
		}
	})

	t.Run("file root", func(t *testing.T) {
		if _, err := m.FindFiles(filepath.Join(root, "base.apk"), nil); err == nil {
			t.Error("FindFiles() expected error for a file root")
		}
	})
}

func TestOSFilesystemManager_CopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	writeFile(t, src, "payload")
	if err := os.Chmod(src, 0600); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystemManager()
	if err := m.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want %q", got, "payload")
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestOSFilesystemManager_MoveDir(t *testing.T) {
	m := NewOSFilesystemManager()

	t.Run("moves a tree", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		writeFile(t, filepath.Join(src, "a.txt"), "a")
		writeFile(t, filepath.Join(src, "sub", "b.txt"), "b")
		dst := filepath.Join(dir, "dst")

		if err := m.MoveDir(src, dst); err != nil {
			t.Fatalf("MoveDir() error = %v", err)
		}
		if _, err := os.Stat(src); !os.IsNotExist(err) {
			t.Errorf("source still exists: %v", err)
		}
		got, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
		if err != nil || string(got) != "b" {
			t.Errorf("moved content = %q, %v", got, err)
		}
	})

	t.Run("refuses an existing destination", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		writeFile(t, filepath.Join(src, "a.txt"), "a")
		writeFile(t, filepath.Join(dst, "b.txt"), "b")

		if err := m.MoveDir(src, dst); err == nil {
			t.Error("MoveDir() expected error for existing destination")
		}
	})

	t.Run("copyTree reproduces content", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		writeFile(t, filepath.Join(src, "x", "y", "z.txt"), "deep")
		dst := filepath.Join(dir, "copy")

		if err := copyTree(src, dst); err != nil {
			t.Fatalf("copyTree() error = %v", err)
		}
		got, err := os.ReadFile(filepath.Join(dst, "x", "y", "z.txt"))
		if err != nil || string(got) != "deep" {
			t.Errorf("copied content = %q, %v", got, err)
		}
	})
}

func TestOSFilesystemManager_WriteThumbnail(t *testing.T) {
	m := NewOSFilesystemManager()

	t.Run("copies an existing icon", func(t *testing.T) {
		dir := t.TempDir()
		icon := filepath.Join(dir, "icon.png")
		writeFile(t, icon, "icon-bytes")
		dst := filepath.Join(dir, "App.png")

		if err := m.WriteThumbnail(icon, dst); err != nil {
			t.Fatalf("WriteThumbnail() error = %v", err)
		}
		got, _ := os.ReadFile(dst)
		if string(got) != "icon-bytes" {
			t.Errorf("thumbnail = %q, want icon copy", got)
		}
	})

	for _, icon := range []string{"", "/nonexistent/icon.png"} {
		t.Run("placeholder for "+icon, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "App.png")
			if err := m.WriteThumbnail(icon, dst); err != nil {
				t.Fatalf("WriteThumbnail() error = %v", err)
			}
			data, err := os.ReadFile(dst)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("placeholder is not a PNG: %v", err)
			}
			if img.Bounds().Dx() != placeholderSize {
				t.Errorf("width = %d, want %d", img.Bounds().Dx(), placeholderSize)
			}
		})
	}
}
