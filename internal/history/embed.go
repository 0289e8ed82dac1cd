package history

import "embed"

// migrationFS embeds the snapshot database's SQL migrations into the
// compiled binary. At runtime, no migration files need to exist on disk.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
