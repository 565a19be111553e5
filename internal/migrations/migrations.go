// Package migrations embeds the SQLite schema (round state, answer sources,
// rankings) and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var schemaFS embed.FS

// Run brings db up to the latest schema version. Called on every startup;
// goose tracks applied versions in its own table, so reruns are no-ops.
func Run(db *sql.DB) error {
	goose.SetBaseFS(schemaFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
