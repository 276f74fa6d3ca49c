// Package migrations embeds the fieldlink schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// FS exposes the embedded migrations, mainly for tests that build a schema
// without importing this package for its side effect.
func FS() embed.FS {
	return migrationsFS
}

func init() {
	database.Migrations = migrationsFS
}
