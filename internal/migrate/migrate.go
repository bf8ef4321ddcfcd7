// Package migrate applies and rolls back the concierge's versioned SQL
// migrations against a schema_migrations ledger. It is the one runner
// both cmd/migrate and the concierge CLI's `migrate` subcommand share,
// resolving spec.md §9's dual-migration-runner Open Question in favor
// of a single implementation.
package migrate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema step, paired up/down SQL files.
type Migration struct {
	Version  int
	Name     string
	UpPath   string
	DownPath string
}

// Load reads dir for <version>_<name>.up.sql / .down.sql pairs, sorted
// ascending by version. Every version must have an .up.sql file; a
// missing .down.sql is legal (that version simply can't be rolled back).
func Load(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	byVersion := map[int]*Migration{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, isDown, err := parseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		path := filepath.Join(dir, e.Name())
		if isDown {
			m.DownPath = path
		} else {
			m.UpPath = path
		}
	}

	var out []Migration
	for _, m := range byVersion {
		if m.UpPath == "" {
			return nil, fmt.Errorf("migration %04d (%s) has no .up.sql file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseFilename splits "0003_items.up.sql" into (3, "items", false).
func parseFilename(name string) (version int, base string, isDown bool, err error) {
	stem := strings.TrimSuffix(name, ".sql")
	switch {
	case strings.HasSuffix(stem, ".up"):
		stem = strings.TrimSuffix(stem, ".up")
	case strings.HasSuffix(stem, ".down"):
		stem = strings.TrimSuffix(stem, ".down")
		isDown = true
	default:
		return 0, "", false, fmt.Errorf("migration file %q missing .up/.down suffix", name)
	}

	parts := strings.SplitN(stem, "_", 2)
	if len(parts) != 2 {
		return 0, "", false, fmt.Errorf("migration file %q missing <version>_<name> prefix", name)
	}
	version, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false, fmt.Errorf("migration file %q has non-numeric version: %w", name, err)
	}
	return version, parts[1], isDown, nil
}

// AppliedVersions reads the set of versions already recorded in
// schema_migrations, returning an empty set (not an error) if the
// ledger table itself doesn't exist yet.
func AppliedVersions(db *sql.DB) (map[int]bool, error) {
	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		if isMissingTable(err) {
			return applied, nil
		}
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "schema_migrations") && strings.Contains(err.Error(), "does not exist")
}

// Up applies every migration not yet recorded, in version order, each
// inside its own transaction. Returns the count applied.
func Up(db *sql.DB, migrations []Migration) (int, error) {
	applied, err := AppliedVersions(db)
	if err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyUp(db, m); err != nil {
			return ran, fmt.Errorf("%04d_%s: %w", m.Version, m.Name, err)
		}
		ran++
	}
	return ran, nil
}

func applyUp(db *sql.DB, m Migration) error {
	sqlText, err := os.ReadFile(m.UpPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.UpPath, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(string(sqlText)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		m.Version, m.Name,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record schema_migrations row: %w", err)
	}
	return tx.Commit()
}

// Rollback applies .down.sql for every applied version above target,
// descending. A version above target with no .down.sql is a hard
// error — rollback never silently no-ops past a version it can't undo.
func Rollback(db *sql.DB, migrations []Migration, target int) error {
	applied, err := AppliedVersions(db)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	byVersion := map[int]Migration{}
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var toRollback []int
	for v := range applied {
		if v > target {
			toRollback = append(toRollback, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(toRollback)))

	for _, v := range toRollback {
		m, ok := byVersion[v]
		if !ok || m.DownPath == "" {
			return fmt.Errorf("version %04d has no .down.sql file; refusing to roll back", v)
		}
		if err := applyDown(db, m); err != nil {
			return fmt.Errorf("rollback %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyDown(db *sql.DB, m Migration) error {
	sqlText, err := os.ReadFile(m.DownPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.DownPath, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(string(sqlText)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear schema_migrations row: %w", err)
	}
	return tx.Commit()
}

// Version returns the highest applied version, or 0 if the ledger
// table doesn't exist yet.
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}
