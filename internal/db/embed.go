package db

import (
	"embed"
	"io/fs"
	"os"
)

// DevMode loads migrations from disk instead of the embedded copy so
// schema work doesn't need a rebuild per edit.
var DevMode = false

//go:embed migrations
var migrationsEmbed embed.FS

func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsEmbed, "migrations")
}
