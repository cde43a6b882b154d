// Package migrations embeds the goose SQL files and applies them on
// boot. Up only; rollbacks are restore-from-backup territory.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// Apply runs the embedded migrations against the database at dsn. goose
// tracks applied versions in its own table, so calling this on every
// start is safe.
func Apply(ctx context.Context, dsn string) error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.UpContext(ctx, db, ".")
}
