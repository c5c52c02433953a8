package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const defaultMigrationsPath = "migrations/sql"

var (
	createFlag  = flag.Bool("create", false, "Create a new pair of migration files")
	upFlag      = flag.Bool("up", false, "Run all pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back the last migration")
	versionFlag = flag.Bool("version", false, "Show the current schema version")
	forceFlag   = flag.Int("force", -1, "Force the schema version without running any migration")

	dsn           = flag.String("dsn", "", "Database connection string (falls back to DATABASE_DSN)")
	migrationsDir = flag.String("dir", defaultMigrationsPath, "Migrations directory")
	migrationName = flag.String("name", "", "Migration name (used with -create)")
	steps         = flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
)

func main() {
	flag.Parse()

	if *createFlag {
		if *migrationName == "" {
			fmt.Println("Error: -name is required when using -create")
			flag.Usage()
			os.Exit(1)
		}
		if err := createMigration(*migrationsDir, *migrationName); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		return
	}

	connStr := *dsn
	if connStr == "" {
		connStr = os.Getenv("DATABASE_DSN")
	}
	if connStr == "" {
		fmt.Println("Error: -dsn or DATABASE_DSN is required for all operations except -create")
		flag.Usage()
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*migrationsDir, connStr)
	if err != nil {
		log.Fatalf("Failed to open migrate instance: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case *versionFlag:
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d (dirty: %t)\n", version, dirty)

	case *forceFlag >= 0:
		fmt.Printf("Forcing migration version to %d...\n", *forceFlag)
		if err := m.Force(*forceFlag); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}

	case *upFlag:
		fmt.Println("Running migrations...")
		start := time.Now()
		if err := applySteps(m, *steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations completed in %s\n", time.Since(start))

	case *downFlag:
		n := *steps
		if n == 0 {
			n = 1
		}
		fmt.Println("Rolling back...")
		if err := m.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to roll back migration: %v", err)
		}
		fmt.Println("Rollback completed")

	default:
		flag.Usage()
		os.Exit(1)
	}
}

func applySteps(m *migrate.Migrate, n int) error {
	if n == 0 {
		return m.Up()
	}
	return m.Steps(n)
}

func createMigration(dir, name string) error {
	ts := time.Now().UTC().Format("20060102150405")
	upPath := fmt.Sprintf("%s/%s_%s.up.sql", dir, ts, name)
	downPath := fmt.Sprintf("%s/%s_%s.down.sql", dir, ts, name)
	for _, p := range []string{upPath, downPath} {
		f, err := os.Create(p)
		if err != nil {
			return err
		}
		_ = f.Close()
	}
	fmt.Printf("Created %s\n%s\n", upPath, downPath)
	return nil
}
