package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/storage/postgres"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestRun_ListDoesNotNeedDatabase(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-direction=list"}, &out, mapLookup(nil)); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	available, err := postgres.AvailableMigrations()
	if err != nil {
		t.Fatalf("AvailableMigrations failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(available) {
		t.Fatalf("expected %d lines, got %d: %q", len(available), len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "0001 ") {
		t.Fatalf("expected first migration 0001, got %q", lines[0])
	}
}

func TestRun_RequiresDSN(t *testing.T) {
	err := run([]string{"-direction=up"}, &bytes.Buffer{}, mapLookup(nil))
	if err == nil || !strings.Contains(err.Error(), envPostgresDSN) {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestRun_InvalidFlag(t *testing.T) {
	if err := run([]string{"-unknown"}, &bytes.Buffer{}, mapLookup(nil)); err == nil {
		t.Fatal("expected flag parse error")
	}
}

func TestRun_MigrateCycle(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PAYRECON_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("PAYRECON_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := postgres.Open(ctx, dsn)
	cancel()
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	_ = store.Close()

	lookup := mapLookup(map[string]string{envPostgresDSN: dsn})
	for _, args := range [][]string{
		{"-direction=up"},
		{"-direction=status"},
		{"-direction=down", "-steps=1"},
		{"-direction=up"},
	} {
		var out bytes.Buffer
		if err := run(args, &out, lookup); err != nil {
			t.Fatalf("run %v failed: %v", args, err)
		}
		if !strings.Contains(out.String(), "migration status:") {
			t.Fatalf("run %v: expected status line, got %q", args, out.String())
		}
	}

	err = run([]string{"-direction=sideways"}, &bytes.Buffer{}, lookup)
	if err == nil || !strings.Contains(err.Error(), "unsupported direction") {
		t.Fatalf("expected unsupported direction error, got %v", err)
	}
}
