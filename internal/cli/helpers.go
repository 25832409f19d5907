package cli

import (
	"fmt"

	"github.com/shipsplit/shipsplit/internal/engine"
	"github.com/shipsplit/shipsplit/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withEngine is withStore plus a fully wired engine, for commands that
// need statistics rather than raw rows.
func withEngine(fn func(*engine.Engine) error) error {
	return withStore(func(s *store.SQLiteStore) error {
		e := engine.New(s, engine.Config{}, nil)
		defer e.Close()

		return fn(e)
	})
}
