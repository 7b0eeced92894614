// Package migrations carries the database schema. The SQL files are
// embedded so the binary initializes its own schema regardless of the
// working directory it is launched from.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// GetInitialSchema returns the full schema as a single script, with
// migration files concatenated in lexical (numbered) order.
func GetInitialSchema() (string, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return "", fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no embedded migration files found")
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		content, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		b.Write(content)
		b.WriteString("\n")
	}

	return b.String(), nil
}
