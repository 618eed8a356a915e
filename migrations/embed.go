// Package migrations embeds the journal schema migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source is the embedded migration set for database.DB.Migrate.
var Source = database.Source{FS: files, Dir: "."}
