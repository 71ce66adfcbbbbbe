package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// defaultSQLiteFile is the fallback database in the user's home
// directory when no --db flag or DATABASE_URL is given.
const defaultSQLiteFile = ".arbfinder.sqlite3"

// openStore resolves a database URL to a Store. postgres:// and
// postgresql:// URLs connect to Postgres; anything else is treated as
// a SQLite file path.
func openStore(ctx context.Context, databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		databaseURL = filepath.Join(home, defaultSQLiteFile)
	}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return store.ConnectPostgres(ctx, databaseURL)
	}
	return store.OpenSQLite(ctx, databaseURL)
}
