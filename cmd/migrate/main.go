// Command migrate manages the graphmail database schema using
// golang-migrate. Migrations live in the migrations/ directory and the
// applied version is tracked in the schema_migrations table.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

const defaultTimeout = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	var (
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.String("db-port", getEnv("DB_PORT", "5432"), "Database port")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "postgres"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "graphmail"), "Database name")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")
		migrPath   = flag.String("path", getEnv("MIGRATIONS_PATH", "migrations"), "Path to migrations directory")
		timeout    = flag.Duration("timeout", defaultTimeout, "Timeout per migration")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Schema migration tool for graphmail\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		*dbUser, *dbPassword, *dbHost, *dbPort, *dbName, *dbSSLMode)

	if err := run(dbURL, *migrPath, *timeout, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(dbURL, migrationsPath string, timeout time.Duration, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("create requires a migration name")
		}
		return createMigration(migrationsPath, args[0])
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			if _, err := fmt.Sscanf(args[0], "%d", &steps); err != nil {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
		}
		if cmd == "down" {
			steps = -steps
		}
		return migrateSteps(dbURL, migrationsPath, timeout, cmd, steps)
	case "version":
		return showVersion(dbURL, migrationsPath, timeout)
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number")
		}
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return forceVersion(dbURL, migrationsPath, timeout, version)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func migrateSteps(dbURL, migrationsPath string, timeout time.Duration, direction string, steps int) error {
	m, err := newMigrate(dbURL, migrationsPath, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	currentVersion, _, _ := m.Version()
	log.Printf("Starting migration %s from version %d...", direction, currentVersion)

	switch {
	case steps != 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	default:
		err = m.Down()
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to apply")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	newVersion, _, _ := m.Version()
	log.Printf("Migration completed: %d -> %d", currentVersion, newVersion)
	return nil
}

func showVersion(dbURL, migrationsPath string, timeout time.Duration) error {
	m, err := newMigrate(dbURL, migrationsPath, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations have been applied yet")
			return nil
		}
		return fmt.Errorf("failed to get version: %w", err)
	}

	status := ""
	if dirty {
		status = " (dirty)"
	}
	log.Printf("Current migration version: %d%s", version, status)
	return nil
}

func forceVersion(dbURL, migrationsPath string, timeout time.Duration, version int) error {
	m, err := newMigrate(dbURL, migrationsPath, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Printf("Forcing version to %d (no migrations will be run)...", version)
	if err := m.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	log.Printf("Version forced to %d", version)
	return nil
}

func createMigration(migrationsPath, name string) error {
	nextNum, err := nextMigrationNumber(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	if err := os.MkdirAll(migrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	for _, suffix := range []string{"up", "down"} {
		file := filepath.Join(migrationsPath, fmt.Sprintf("%03d_%s.%s.sql", nextNum, name, suffix))
		content := fmt.Sprintf("-- Migration: %s (%s)\n-- Created: %s\n", name, suffix, time.Now().Format(time.RFC3339))
		if err := os.WriteFile(file, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s migration: %w", suffix, err)
		}
		log.Printf("Created %s", file)
	}
	return nil
}

func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

func newMigrate(dbURL, migrationsPath string, timeout time.Duration) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = timeout
	return m, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
