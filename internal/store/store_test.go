package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/database"
	"github.com/mosys-billing/tvfleet/migrations"
)

type sample struct {
	Name  string            `json:"name"`
	Items map[string]string `json:"items"`
}

func newFileDocs(t *testing.T) (*Documents, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	return NewDocuments(backend, "adb"), dir
}

func newSQLiteDocs(t *testing.T) *Documents {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "store.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewDocuments(NewSQLiteBackend(db), "cec")
}

func backends(t *testing.T) map[string]*Documents {
	fileDocs, _ := newFileDocs(t)
	return map[string]*Documents{
		"file":   fileDocs,
		"sqlite": newSQLiteDocs(t),
	}
}

func TestDocuments_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, docs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := sample{Name: "lobby", Items: map[string]string{"a": "1"}}
			if err := docs.Save(ctx, DevicesDocument, in); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			var out sample
			if err := docs.Load(ctx, DevicesDocument, &out); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if out.Name != "lobby" || out.Items["a"] != "1" {
				t.Errorf("Load() = %+v, want %+v", out, in)
			}

			// Full overwrite, not merge.
			if err := docs.Save(ctx, DevicesDocument, sample{Name: "bar"}); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			out = sample{}
			if err := docs.Load(ctx, DevicesDocument, &out); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if out.Name != "bar" || len(out.Items) != 0 {
				t.Errorf("after overwrite Load() = %+v", out)
			}
		})
	}
}

func TestDocuments_NotFound(t *testing.T) {
	ctx := context.Background()

	for name, docs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var out sample
			err := docs.Load(ctx, ScanResultsDocument, &out)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Load() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDocuments_InvalidKey(t *testing.T) {
	docs, _ := newFileDocs(t)
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "Upper", "a/../b", "with space"} {
		if err := docs.Save(ctx, name, sample{}); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Save(%q) error = %v, want ErrInvalidKey", name, err)
		}
	}
}

func TestDocuments_NamespacesAreIsolated(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	ctx := context.Background()

	adb := NewDocuments(backend, "adb")
	cec := NewDocuments(backend, "cec")

	if err := adb.Save(ctx, DevicesDocument, sample{Name: "adb"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var out sample
	if err := cec.Load(ctx, DevicesDocument, &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("cec Load() error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "adb", "devices.json")); err != nil {
		t.Errorf("expected adb/devices.json: %v", err)
	}
}

func TestFileBackend_CorruptDocument(t *testing.T) {
	docs, dir := newFileDocs(t)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(dir, "adb"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "adb", "devices.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	var out sample
	if err := docs.Load(ctx, DevicesDocument, &out); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestFileBackend_ConcurrentPutsLeaveNoTempFiles(t *testing.T) {
	docs, dir := newFileDocs(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := docs.Save(ctx, DevicesDocument, sample{Name: string(rune('a' + i))}); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Join(dir, "adb"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "devices.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only devices.json", names)
	}

	var out sample
	if err := docs.Load(ctx, DevicesDocument, &out); err != nil {
		t.Errorf("final document unreadable: %v", err)
	}
}

func TestDocuments_OverlayText(t *testing.T) {
	ctx := context.Background()

	for name, docs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := docs.OverlayText(ctx)
			if err != nil {
				t.Fatalf("OverlayText() error = %v", err)
			}
			if got != DefaultOverlayText {
				t.Errorf("OverlayText() = %q, want default", got)
			}

			if err := docs.SetOverlayText(ctx, "Time is up"); err != nil {
				t.Fatalf("SetOverlayText() error = %v", err)
			}
			if got, _ := docs.OverlayText(ctx); got != "Time is up" {
				t.Errorf("OverlayText() = %q, want %q", got, "Time is up")
			}

			if err := docs.SetOverlayText(ctx, "   "); err != nil {
				t.Fatalf("SetOverlayText() error = %v", err)
			}
			if got, _ := docs.OverlayText(ctx); got != DefaultOverlayText {
				t.Errorf("blank OverlayText() = %q, want default", got)
			}
		})
	}
}

func TestFileBackend_CancelledContext(t *testing.T) {
	docs, _ := newFileDocs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := docs.Save(ctx, DevicesDocument, sample{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Save() error = %v, want context.Canceled", err)
	}
}
