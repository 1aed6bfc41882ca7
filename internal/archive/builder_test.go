package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"appkeep/internal/keep"
	"appkeep/internal/testutil"
)

func tarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening tar: %v", err)
	}
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		names = append(names, filepath.Clean(hdr.Name))
	}
	sort.Strings(names)
	return names
}

func newTestApp(dataDir string) *keep.Application {
	return &keep.Application{
		PackageID:   "com.example.a",
		Name:        "Example",
		VersionName: "1.0",
		DataDir:     dataDir,
	}
}

func TestBuilder_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("empty data directory gives zero-entry tar", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		dataDir := t.TempDir()
		staging := t.TempDir()

		path, err := b.Snapshot(ctx, newTestApp(dataDir), staging)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if path != filepath.Join(staging, "com.example.a.tar") {
			t.Errorf("path = %q", path)
		}
		if names := tarNames(t, path); len(names) != 0 {
			t.Errorf("tar entries = %v, want none", names)
		}
	})

	t.Run("missing data directory gives zero-entry tar", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		staging := t.TempDir()

		path, err := b.Snapshot(ctx, newTestApp(filepath.Join(t.TempDir(), "absent")), staging)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if names := tarNames(t, path); len(names) != 0 {
			t.Errorf("tar entries = %v, want none", names)
		}
	})

	t.Run("only excluded entries gives zero-entry tar", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		dataDir := t.TempDir()
		testutil.WriteFile(t, filepath.Join(dataDir, "cache", "x"), "x")
		testutil.WriteFile(t, filepath.Join(dataDir, "lib", "y"), "y")

		path, err := b.Snapshot(ctx, newTestApp(dataDir), t.TempDir())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if names := tarNames(t, path); len(names) != 0 {
			t.Errorf("tar entries = %v, want none", names)
		}
	})

	t.Run("captures everything but excluded directories", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		dataDir := t.TempDir()
		testutil.WriteFile(t, filepath.Join(dataDir, "shared_prefs", "prefs.xml"), "<map/>")
		testutil.WriteFile(t, filepath.Join(dataDir, "databases", "app.db"), "db")
		testutil.WriteFile(t, filepath.Join(dataDir, ".hidden"), "h")
		testutil.WriteFile(t, filepath.Join(dataDir, "cache", "tmp"), "c")
		testutil.WriteFile(t, filepath.Join(dataDir, "code_cache", "jit"), "j")
		testutil.WriteFile(t, filepath.Join(dataDir, "lib", "libx.so"), "l")
		testutil.WriteFile(t, filepath.Join(dataDir, "files", "with space.txt"), "s")

		path, err := b.Snapshot(ctx, newTestApp(dataDir), t.TempDir())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}

		names := tarNames(t, path)
		want := map[string]bool{
			".hidden":                true,
			"databases":              true,
			"databases/app.db":       true,
			"files":                  true,
			"files/with space.txt":   true,
			"shared_prefs":           true,
			"shared_prefs/prefs.xml": true,
		}
		if len(names) != len(want) {
			t.Errorf("tar entries = %v", names)
		}
		for _, n := range names {
			if !want[n] {
				t.Errorf("unexpected tar entry %q", n)
			}
		}
	})

	t.Run("names with newlines", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		dataDir := t.TempDir()
		testutil.WriteFile(t, filepath.Join(dataDir, "two\nlines.txt"), "n")
		testutil.WriteFile(t, filepath.Join(dataDir, "plain"), "p")

		path, err := b.Snapshot(ctx, newTestApp(dataDir), t.TempDir())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		names := tarNames(t, path)
		if want := []string{"plain", "two\nlines.txt"}; !reflect.DeepEqual(names, want) {
			t.Errorf("tar entries = %q, want %q", names, want)
		}
	})

	t.Run("custom excludes", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{Exclude: []string{"no_backup"}}, keep.NewNopLogger())
		dataDir := t.TempDir()
		testutil.WriteFile(t, filepath.Join(dataDir, "no_backup", "a"), "a")
		testutil.WriteFile(t, filepath.Join(dataDir, "cache", "b"), "b")

		path, err := b.Snapshot(ctx, newTestApp(dataDir), t.TempDir())
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		names := tarNames(t, path)
		if len(names) != 2 || names[0] != "cache" {
			t.Errorf("tar entries = %v, want cache only", names)
		}
	})

	t.Run("tar failure is a snapshot failure", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
		dataDir := t.TempDir()
		testutil.WriteFile(t, filepath.Join(dataDir, "files", "a"), "a")

		_, err := b.Snapshot(ctx, newTestApp(dataDir), filepath.Join(t.TempDir(), "missing-staging"))
		if !errors.Is(err, keep.ErrSnapshotFailed) {
			t.Errorf("Snapshot() error = %v, want ErrSnapshotFailed", err)
		}
	})

	t.Run("unavailable shell keeps its identity", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		exec.FailWith(keep.ErrPrivilegeUnavailable)
		b := NewBuilder(exec, Options{}, keep.NewNopLogger())

		_, err := b.Snapshot(ctx, newTestApp("/data/data/com.example.a"), t.TempDir())
		if !errors.Is(err, keep.ErrPrivilegeUnavailable) {
			t.Errorf("Snapshot() error = %v, want ErrPrivilegeUnavailable", err)
		}
		if !errors.Is(err, keep.ErrSnapshotFailed) {
			t.Errorf("Snapshot() error = %v, want ErrSnapshotFailed", err)
		}
	})
}

func TestBuilder_RestoreData(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())

	source := t.TempDir()
	testutil.WriteFile(t, filepath.Join(source, "shared_prefs", "prefs.xml"), "<map/>")
	testutil.WriteFile(t, filepath.Join(source, "files", "note.txt"), "hello")
	tarPath, err := b.Snapshot(ctx, newTestApp(source), t.TempDir())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	target := t.TempDir()
	testutil.WriteFile(t, filepath.Join(target, "files", "stale.txt"), "old")
	testutil.WriteFile(t, filepath.Join(target, "junk"), "junk")
	testutil.WriteFile(t, filepath.Join(target, "lib", "libkeep.so"), "native")

	if err := b.RestoreData(ctx, newTestApp(target), tarPath); err != nil {
		t.Fatalf("RestoreData() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "files", "note.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("restored note = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(target, "shared_prefs", "prefs.xml")); err != nil {
		t.Errorf("prefs not restored: %v", err)
	}
	for _, gone := range []string{"junk", filepath.Join("files", "stale.txt")} {
		if _, err := os.Stat(filepath.Join(target, gone)); !os.IsNotExist(err) {
			t.Errorf("%s survived the restore", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "lib", "libkeep.so")); err != nil {
		t.Errorf("excluded entry removed: %v", err)
	}
}

func TestBuilder_RestoreData_Failure(t *testing.T) {
	b := NewBuilder(testutil.NewShell(t), Options{}, keep.NewNopLogger())
	target := t.TempDir()

	err := b.RestoreData(context.Background(), newTestApp(target), filepath.Join(t.TempDir(), "missing.tar"))
	if !errors.Is(err, keep.ErrInstallFailed) {
		t.Errorf("RestoreData() error = %v, want ErrInstallFailed", err)
	}
}

func TestBuilder_Relabel(t *testing.T) {
	ctx := context.Background()
	app := newTestApp("/data/data/com.example.a")

	t.Run("runs the relabel command on the data directory", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		b := NewBuilder(exec, Options{}, keep.NewNopLogger())

		if err := b.Relabel(ctx, app); err != nil {
			t.Fatalf("Relabel() error = %v", err)
		}
		calls := exec.Commands()
		if len(calls) != 1 || calls[0] != "restorecon -RF /data/data/com.example.a" {
			t.Errorf("commands = %q", calls)
		}
	})

	t.Run("non-zero exit is a relabel failure", func(t *testing.T) {
		b := NewBuilder(testutil.NewShell(t), Options{RelabelCommand: "false"}, keep.NewNopLogger())
		if err := b.Relabel(ctx, app); !errors.Is(err, keep.ErrRelabelFailed) {
			t.Errorf("Relabel() error = %v, want ErrRelabelFailed", err)
		}
	})
}
