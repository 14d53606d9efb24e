package migration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	dir := t.TempDir()
	return Layout{
		DataDir:     dir,
		PolicyFile:  filepath.Join(dir, "policy.json"),
		KeystoreDir: filepath.Join(dir, "keystore"),
	}
}

func TestRegisterAndPending(t *testing.T) {
	m := NewMigrator(testLayout(t))

	m.Register(Migration{Version: 2, Description: "second"})
	m.Register(Migration{Version: 1, Description: "first"})

	pending := m.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Version != 1 || pending[1].Version != 2 {
		t.Errorf("pending not sorted: %d, %d", pending[0].Version, pending[1].Version)
	}
}

func TestRunDefaultMigrations(t *testing.T) {
	l := testLayout(t)
	if err := os.WriteFile(l.PolicyFile, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(l.PolicyFile, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.PolicyFile+".tmp", []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewMigrator(l)
	RegisterDefaultMigrations(m)

	n, err := m.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != 3 {
		t.Errorf("applied %d migrations, want 3", n)
	}

	info, err := os.Stat(l.KeystoreDir)
	if err != nil {
		t.Fatalf("keystore dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("keystore mode = %04o, want 0700", info.Mode().Perm())
	}

	info, err = os.Stat(l.PolicyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("policy mode = %04o, want 0600", info.Mode().Perm())
	}

	if _, err := os.Stat(l.PolicyFile + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("stale temp file survived: %v", err)
	}

	if m.CurrentVersion() != 3 {
		t.Errorf("expected current version 3, got %d", m.CurrentVersion())
	}
}

func TestDefaultMigrationsWithoutPolicyFile(t *testing.T) {
	m := NewMigrator(testLayout(t))
	RegisterDefaultMigrations(m)

	if _, err := m.Run(); err != nil {
		t.Fatalf("Run() on fresh layout: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	m := NewMigrator(testLayout(t))

	calls := 0
	m.Register(Migration{
		Version:     1,
		Description: "counting migration",
		Up: func(Layout) error {
			calls++
			return nil
		},
	})

	for i := 0; i < 2; i++ {
		if _, err := m.Run(); err != nil {
			t.Fatalf("Run() #%d error: %v", i+1, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected migration to run exactly once, ran %d times", calls)
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	m := NewMigrator(testLayout(t))

	boom := errors.New("boom")
	m.Register(Migration{Version: 1, Description: "ok", Up: func(Layout) error { return nil }})
	m.Register(Migration{Version: 2, Description: "fails", Up: func(Layout) error { return boom }})
	m.Register(Migration{Version: 3, Description: "never", Up: func(Layout) error {
		t.Error("migration after a failure ran")
		return nil
	}})

	n, err := m.Run()
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n != 1 || m.CurrentVersion() != 1 {
		t.Errorf("applied=%d current=%d, want 1/1", n, m.CurrentVersion())
	}
}

func TestSaveLoadApplied(t *testing.T) {
	l := testLayout(t)

	m1 := NewMigrator(l)
	RegisterDefaultMigrations(m1)
	if _, err := m1.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	m2 := NewMigrator(l)
	RegisterDefaultMigrations(m2)
	if err := m2.LoadApplied(); err != nil {
		t.Fatalf("LoadApplied() error: %v", err)
	}
	if pending := m2.Pending(); len(pending) != 0 {
		t.Errorf("expected 0 pending after load, got %d", len(pending))
	}
	if m2.CurrentVersion() != 3 {
		t.Errorf("expected current version 3, got %d", m2.CurrentVersion())
	}
}

func TestLoadAppliedNoFile(t *testing.T) {
	m := NewMigrator(testLayout(t))

	if err := m.LoadApplied(); err != nil {
		t.Fatalf("LoadApplied() with no file should not error: %v", err)
	}
	if m.CurrentVersion() != 0 {
		t.Errorf("expected version 0 when no file, got %d", m.CurrentVersion())
	}
}
