package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/quantpilot/quantpilot/internal/db"
)

func main() {
	_ = godotenv.Load()

	var (
		command       = flag.String("command", "migrate", "Command to run: migrate or status")
		databaseURL   = flag.String("db", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		migrationsDir = flag.String("migrations", "migrations", "Directory containing migration files")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "database URL is required (-db flag or DATABASE_URL)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool, os.DirFS(*migrationsDir))

	switch *command {
	case "migrate":
		err = migrator.Migrate(ctx)
	case "status":
		err = migrator.Status(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected migrate or status)\n", *command)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *command, err)
		os.Exit(1)
	}
}
