// Command migrate applies and rolls back the concierge's versioned SQL
// migrations, tracking the applied set in schema_migrations. Each
// migration file runs inside its own transaction, the single-runner
// model chosen over the lineage's dual migrate binaries.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/aliedrevenue/concierge/internal/config"
	"github.com/aliedrevenue/concierge/internal/migrate"
)

const migrationsDir = "migrations"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		if cfg, err := config.Load(os.Getenv("CONCIERGE_CONFIG")); err == nil {
			dsn = cfg.Store.DSN
		}
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: DATABASE_URL is required")
		return 1
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: connect: %v\n", err)
		return 1
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: ping: %v\n", err)
		return 1
	}

	migrations, err := migrate.Load(migrationsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}

	switch {
	case len(args) == 0:
		ran, err := migrate.Up(db, migrations)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}
		log.Printf("migrate: %d migration(s) applied", ran)
		return 0

	case args[0] == "version":
		v, err := migrate.Version(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}
		fmt.Println(v)
		return 0

	case args[0] == "rollback":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: migrate rollback <version>")
			return 64
		}
		target, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: invalid version %q\n", args[1])
			return 64
		}
		if err := migrate.Rollback(db, migrations, target); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}
		log.Printf("migrate: rolled back to version %d", target)
		return 0

	default:
		fmt.Fprintln(os.Stderr, "usage: migrate [version|rollback <v>]")
		return 64
	}
}
