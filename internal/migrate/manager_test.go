package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, opts...)
}

func TestUpUsesMigrationsDir(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	var gotOpts int
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		gotOpts = len(opts)
		return nil
	}

	if err := newTestManager(t).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if gotDir != migrationsDir || gotOpts != 0 {
		t.Fatalf("unexpected goose call dir=%q opts=%d", gotDir, gotOpts)
	}
}

func TestSeedSkipsVersioning(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	var gotOpts int
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		gotOpts = len(opts)
		return nil
	}

	if err := newTestManager(t).Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if gotDir != seedsDir || gotOpts != 1 {
		t.Fatalf("unexpected goose call dir=%q opts=%d", gotDir, gotOpts)
	}
}

func TestDownWrapsError(t *testing.T) {
	orig := gooseDownContext
	defer func() { gooseDownContext = orig }()

	boom := errors.New("boom")
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return boom
	}

	err := newTestManager(t).Down(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	orig := gooseVersionContext
	defer func() { gooseVersionContext = orig }()

	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) { return 2, nil }

	v, err := newTestManager(t).Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
}

func TestNilDatabase(t *testing.T) {
	m := NewManager(nil)
	if err := m.Up(context.Background()); err == nil {
		t.Fatal("expected error for nil database")
	}
}

func TestGooseLoggerWritesThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	l := gooseLogger{l: slog.New(slog.NewTextHandler(&buf, nil))}
	l.Printf("OK %s", "00001_access_control.sql")
	if !strings.Contains(buf.String(), "00001_access_control.sql") || !strings.Contains(buf.String(), "component=migrate") {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
}

func TestEmbeddedAssets(t *testing.T) {
	for _, dir := range []string{migrationsDir, seedsDir} {
		entries, err := fs.ReadDir(assets, dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(entries) == 0 {
			t.Fatalf("%s is empty", dir)
		}
		for _, e := range entries {
			body, err := fs.ReadFile(assets, dir+"/"+e.Name())
			if err != nil {
				t.Fatalf("read %s: %v", e.Name(), err)
			}
			if !strings.Contains(string(body), "-- +goose Up") {
				t.Fatalf("%s lacks goose annotation", e.Name())
			}
		}
	}
}
