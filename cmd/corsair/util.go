package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/receipts"
	"github.com/grcorsair/corsair/pkg/scitt"
)

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func osWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// openSCITT opens the transparency log on the configured backend: postgres
// when DATABASE_URL is set, sqlite otherwise.
func openSCITT(cfg *config.Config, mgr keys.Manager) (*scitt.Log, error) {
	var (
		db  *sql.DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
	} else {
		if dir := filepath.Dir(cfg.SCITTDBPath); dir != "." {
			if err := mkdirAll(dir); err != nil {
				return nil, err
			}
		}
		db, err = sql.Open("sqlite", cfg.SCITTDBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open transparency-log store: %w", err)
	}

	store, err := scitt.NewSQLStore(db)
	if err != nil {
		return nil, err
	}
	return scitt.NewLog(store, mgr, cfg.LogID), nil
}

// scittRegistry returns a registry when registration was requested, nil
// otherwise. An open failure is printed as a warning on stderr and the
// command continues without registration.
func scittRegistry(cmd *cobra.Command, cfg *config.Config, mgr keys.Manager, register bool) receipts.Registry {
	if !register {
		return nil
	}
	log, err := openSCITT(cfg, mgr)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: transparency log unavailable:", err)
		return nil
	}
	return log
}
