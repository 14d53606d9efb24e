// Package migration upgrades the daemon's on-disk state between releases.
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bondings/bondings/internal/logging"
)

// stateFile records applied versions inside the data directory.
const stateFile = "migrations.json"

// Layout names the files and directories a migration may touch.
type Layout struct {
	DataDir     string
	PolicyFile  string
	KeystoreDir string
}

// Migration is a single versioned upgrade step.
type Migration struct {
	Version     int
	Description string
	Up          func(l Layout) error
}

// Migrator tracks and executes ordered migrations against a Layout.
type Migrator struct {
	layout     Layout
	applied    map[int]time.Time
	migrations []Migration
	mu         sync.Mutex
}

type appliedRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// NewMigrator creates a Migrator for l.
func NewMigrator(l Layout) *Migrator {
	return &Migrator{
		layout:  l,
		applied: make(map[int]time.Time),
	}
}

// Register adds a migration. Registration order does not matter.
func (m *Migrator) Register(migration Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations = append(m.migrations, migration)
}

func (m *Migrator) statePath() string {
	return filepath.Join(m.layout.DataDir, stateFile)
}

// LoadApplied reads previously applied migrations. A missing state file
// leaves the applied set empty.
func (m *Migrator) LoadApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read migrations file: %w", err)
	}

	var records []appliedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse migrations file: %w", err)
	}

	applied := make(map[int]time.Time, len(records))
	for _, r := range records {
		applied[r.Version] = r.AppliedAt
	}
	m.applied = applied
	return nil
}

// saveAppliedLocked writes the state file via temp file and rename.
// Caller must hold m.mu.
func (m *Migrator) saveAppliedLocked() error {
	records := make([]appliedRecord, 0, len(m.applied))
	for v, t := range m.applied {
		records = append(records, appliedRecord{Version: v, AppliedAt: t})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal migrations: %w", err)
	}
	if err := os.MkdirAll(m.layout.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpPath := m.statePath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp migrations file: %w", err)
	}
	if err := os.Rename(tmpPath, m.statePath()); err != nil {
		return fmt.Errorf("rename migrations file: %w", err)
	}
	return nil
}

// Pending returns unapplied migrations in ascending version order.
func (m *Migrator) Pending() []Migration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := m.applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})
	return pending
}

// Run executes pending migrations in order, persisting state after each
// one. It returns how many were applied.
func (m *Migrator) Run() (int, error) {
	applied := 0
	for _, mig := range m.Pending() {
		if err := mig.Up(m.layout); err != nil {
			return applied, fmt.Errorf("migration v%d (%s): %w", mig.Version, mig.Description, err)
		}

		m.mu.Lock()
		m.applied[mig.Version] = time.Now().UTC()
		if err := m.saveAppliedLocked(); err != nil {
			// keep memory consistent with disk
			delete(m.applied, mig.Version)
			m.mu.Unlock()
			return applied, fmt.Errorf("save after migration v%d: %w", mig.Version, err)
		}
		m.mu.Unlock()

		applied++
		logging.Info("migration applied",
			"version", mig.Version,
			"description", mig.Description,
			logging.Component("migration"))
	}
	return applied, nil
}

// CurrentVersion returns the highest applied version, or 0.
func (m *Migrator) CurrentVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := 0
	for v := range m.applied {
		if v > current {
			current = v
		}
	}
	return current
}
