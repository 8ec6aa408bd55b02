// Package migrations embeds the Durable Store's goose SQL migration files
// so the orchestrator-migrate binary carries its own schema.
package migrations

import "embed"

// FS holds every *.sql migration file in this directory.
//go:embed *.sql
var FS embed.FS
