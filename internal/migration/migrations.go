package migration

import (
	"errors"
	"fmt"
	"os"
)

// RegisterDefaultMigrations registers the built-in upgrade steps.
func RegisterDefaultMigrations(m *Migrator) {
	m.Register(Migration{
		Version:     1,
		Description: "Restrict data and keystore directories",
		Up: func(l Layout) error {
			for _, dir := range []string{l.DataDir, l.KeystoreDir} {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
				if err := os.Chmod(dir, 0o700); err != nil {
					return fmt.Errorf("chmod %s: %w", dir, err)
				}
			}
			return nil
		},
	})

	m.Register(Migration{
		Version:     2,
		Description: "Restrict policy file permissions",
		Up: func(l Layout) error {
			if l.PolicyFile == "" {
				return nil
			}
			err := os.Chmod(l.PolicyFile, 0o600)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		},
	})

	m.Register(Migration{
		Version:     3,
		Description: "Remove interrupted policy writes",
		Up: func(l Layout) error {
			if l.PolicyFile == "" {
				return nil
			}
			err := os.Remove(l.PolicyFile + ".tmp")
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		},
	})
}
