package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func migrationFile(body string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(body)} }

func TestLoadMigrationsFromFS_PairsAndOrders(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(fstest.MapFS{
		"sql/migrations/0010_ledger.down.sql": migrationFile("DROP TABLE ledger;"),
		"sql/migrations/0002_orders.up.sql":   migrationFile("CREATE TABLE orders (id TEXT);"),
		"sql/migrations/0010_ledger.up.sql":   migrationFile("CREATE TABLE ledger (id TEXT);"),
		"sql/migrations/0002_orders.down.sql": migrationFile("DROP TABLE orders;"),
		"sql/migrations/README.md":            migrationFile("ignored"),
	})
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].String() != "0002_orders" || migrations[1].String() != "0010_ledger" {
		t.Fatalf("unexpected order: %s, %s", migrations[0], migrations[1])
	}
	if migrations[1].DownSQL != "DROP TABLE ledger;" {
		t.Fatalf("down body not attached: %q", migrations[1].DownSQL)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys fstest.MapFS
		want string
	}{
		"missing down": {
			fsys: fstest.MapFS{"sql/migrations/0001_orders.up.sql": migrationFile("SELECT 1;")},
			want: "both up and down",
		},
		"bad name": {
			fsys: fstest.MapFS{"sql/migrations/orders.sql": migrationFile("SELECT 1;")},
			want: "invalid migration file name",
		},
		"blank body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   migrationFile("  \n"),
				"sql/migrations/0001_orders.down.sql": migrationFile("SELECT 1;"),
			},
			want: "is empty",
		},
		"name clash": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   migrationFile("SELECT 1;"),
				"sql/migrations/0001_refund.down.sql": migrationFile("SELECT 1;"),
			},
			want: "two names",
		},
		"no files": {
			fsys: fstest.MapFS{"sql/migrations/.keep": migrationFile("")},
			want: "no migration files",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(tc.fsys)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestAvailableMigrations_EmbeddedSchema(t *testing.T) {
	t.Parallel()

	infos, err := AvailableMigrations()
	if err != nil {
		t.Fatalf("available migrations: %v", err)
	}
	want := []string{"orders", "inventory", "dead_letters", "events", "idempotency"}
	if len(infos) != len(want) {
		t.Fatalf("expected %d embedded migrations, got %+v", len(want), infos)
	}
	for i, info := range infos {
		if info.Version != int64(i+1) || info.Name != want[i] {
			t.Fatalf("migration %d: got %d_%s", i, info.Version, info.Name)
		}
	}
}

func TestMigrateUp_DetectsEditedMigration(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS payrecon_schema`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, checksum FROM payrecon_schema`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "checksum"}).AddRow(1, "stale-checksum"))

	applied, err := store.MigrateUp(context.Background(), 0)
	if !errors.Is(err, ErrMigrationDrift) {
		t.Fatalf("expected ErrMigrationDrift, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("nothing must be applied on drift, got %+v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrateUp_SkipsMigrationAppliedByAnotherReplica(t *testing.T) {
	store, mock := newMockStore(t)

	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	ledger := sqlmock.NewRows([]string{"version", "checksum"})
	for _, m := range all[:len(all)-1] {
		ledger.AddRow(m.Version, m.checksum())
	}
	last := all[len(all)-1]

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS payrecon_schema`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, checksum FROM payrecon_schema`).WillReturnRows(ledger)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(last.Version).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if _, err := store.MigrateUp(context.Background(), 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
