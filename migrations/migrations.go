// Package migrations embeds the SQL schema so the binary and the integration tests
// migrate from the same files.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS
