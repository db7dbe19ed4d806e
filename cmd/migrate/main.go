package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/kv/sqlite"
)

var (
	dbPath    = flag.String("db", "", "Path to the sqlite database (defaults to storage.sqlite_path)")
	direction = flag.String("direction", sqlite.Up, "Migration direction: up, down, or status")
	confirm   = flag.Bool("yes", false, "Confirm a down migration, which deletes all local data")
)

func main() {
	flag.Parse()

	path := *dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		path = cfg.Storage.SQLitePath
	}

	dir := *direction
	switch dir {
	case "status":
		dir = ""
	case sqlite.Up:
	case sqlite.Down:
		if !*confirm {
			log.Fatal("Error: a down migration deletes all local data. Rerun with -yes to confirm.")
		}
	default:
		log.Fatalf("Error: unknown direction %q", dir)
	}

	if dir != "" {
		log.Printf("Migrating %s %s", path, dir)
	}
	status, err := sqlite.Migrate(path, dir)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println(describe(path, status))
	if status.Dirty {
		os.Exit(1)
	}
}

// describe renders a schema status for humans.
func describe(path string, s sqlite.SchemaStatus) string {
	switch {
	case s.Empty:
		return fmt.Sprintf("%s: no schema", path)
	case s.Dirty:
		return fmt.Sprintf("%s: version %04d is dirty; a previous migration failed halfway", path, s.Version)
	default:
		return fmt.Sprintf("%s: version %04d", path, s.Version)
	}
}
