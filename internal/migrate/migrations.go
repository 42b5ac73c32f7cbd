// Package migrate brings the SQLite schema up to the latest embedded
// revision. Every CLI entry point and the server run it before touching the
// database; applied revisions are recorded so reruns are no-ops.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type revision struct {
	version int
	name    string
	stmts   string
}

// revisions returns the embedded migrations ordered by version. File names
// follow <version>_<label>.sql.
func revisions() ([]revision, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	var revs []revision
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must start with <version>_", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: version prefix: %w", name, err)
		}
		data, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		revs = append(revs, revision{version: version, name: name, stmts: string(data)})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].version < revs[j].version })
	for i := 1; i < len(revs); i++ {
		if revs[i].version == revs[i-1].version {
			return nil, fmt.Errorf("migrations %s and %s share version %d", revs[i-1].name, revs[i].name, revs[i].version)
		}
	}
	return revs, nil
}

// Migrate applies pending revisions in one transaction.
func Migrate(db *sql.DB) error {
	revs, err := revisions()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations(
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := tx.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rev := range revs {
		if applied[rev.version] {
			continue
		}
		if _, err := tx.Exec(rev.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", rev.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version,name,applied_at) VALUES (?,?,?)`,
			rev.version, rev.name, now); err != nil {
			return fmt.Errorf("record %s: %w", rev.name, err)
		}
	}
	return tx.Commit()
}
