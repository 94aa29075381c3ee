package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/payrecon/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "PAYRECON_POSTGRES_DSN"
)

func main() {
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdout, os.LookupEnv); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run разбирает флаги и выполняет команду; вынесено из main для тестов.
func run(args []string, out io.Writer, lookup func(string) (string, bool)) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		direction string
		steps     int
		dsn       string
	)
	fs.StringVar(&direction, "direction", "up", "migration direction: up|down|status|list")
	fs.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	direction = strings.ToLower(strings.TrimSpace(direction))
	if direction == "list" {
		available, err := postgres.AvailableMigrations()
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		for _, m := range available {
			_, _ = fmt.Fprintf(out, "%04d %s\n", m.Version, m.Name)
		}
		return nil
	}

	if strings.TrimSpace(dsn) == "" {
		if v, ok := lookup(envPostgresDSN); ok {
			dsn = strings.TrimSpace(v)
		}
	}
	if dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.OpenWithPool(ctx, dsn, postgres.PoolConfig{MaxOpen: 2, MaxIdle: 1})
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch direction {
	case "up":
		applied, err := store.MigrateUp(ctx, steps)
		if err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		printApplied(out, "applied", applied)
	case "down":
		reverted, err := store.MigrateDown(ctx, steps)
		if err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		printApplied(out, "reverted", reverted)
	case "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status|list)", direction)
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migration status: version=%d applied=%d\n", version, count)
	return nil
}

func printApplied(out io.Writer, verb string, migrations []postgres.MigrationInfo) {
	if len(migrations) == 0 {
		_, _ = fmt.Fprintf(out, "nothing %s\n", verb)
		return
	}
	for _, m := range migrations {
		_, _ = fmt.Fprintf(out, "%s %04d %s\n", verb, m.Version, m.Name)
	}
}
