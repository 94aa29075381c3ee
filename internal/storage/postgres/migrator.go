package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"

	// schemaLockKey сериализует миграции между репликами payrecon.
	schemaLockKey = int64(0x70617972)

	schemaLedgerDDL = `
CREATE TABLE IF NOT EXISTS payrecon_schema (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// ErrMigrationDrift возвращается, когда применённая миграция отличается от встроенной.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

// MigrationInfo описывает одну миграцию для отчётов cmd/migrate.
type MigrationInfo struct {
	Version int64
	Name    string
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) info() MigrationInfo { return MigrationInfo{Version: m.Version, Name: m.Name} }

func (m migration) checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

func (m migration) String() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

// AvailableMigrations возвращает встроенные в бинарник миграции по возрастанию версии.
func AvailableMigrations() ([]MigrationInfo, error) {
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return nil, err
	}
	infos := make([]MigrationInfo, len(all))
	for i, m := range all {
		infos[i] = m.info()
	}
	return infos, nil
}

// MigrateUp применяет ожидающие миграции; steps <= 0 применяет все.
// Перед применением сверяет контрольные суммы уже применённых миграций.
func (s *Store) MigrateUp(ctx context.Context, steps int) ([]MigrationInfo, error) {
	all, ledger, err := s.prepareMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var done []MigrationInfo
	for _, m := range all {
		if sum, ok := ledger[m.Version]; ok {
			if sum != m.checksum() {
				return nil, fmt.Errorf("%w: %s", ErrMigrationDrift, m)
			}
			continue
		}
		if steps > 0 && len(done) == steps {
			break
		}
		if err := s.step(ctx, m, true); err != nil {
			return done, err
		}
		done = append(done, m.info())
	}
	return done, nil
}

// MigrateDown откатывает последние применённые миграции, по умолчанию одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) ([]MigrationInfo, error) {
	if steps <= 0 {
		steps = 1
	}
	all, ledger, err := s.prepareMigrations(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int64]migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}
	applied := make([]int64, 0, len(ledger))
	for v := range ledger {
		applied = append(applied, v)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i] > applied[j] })

	var done []MigrationInfo
	for _, v := range applied {
		if len(done) == steps {
			break
		}
		m, ok := byVersion[v]
		if !ok {
			return done, fmt.Errorf("no embedded migration for applied version %d", v)
		}
		if err := s.step(ctx, m, false); err != nil {
			return done, err
		}
		done = append(done, m.info())
	}
	return done, nil
}

// MigrationStatus возвращает текущую версию схемы и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema ledger: %w", err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM payrecon_schema`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema ledger: %w", err)
	}
	return version, count, nil
}

func (s *Store) prepareMigrations(ctx context.Context) ([]migration, map[int64]string, error) {
	if s == nil || s.db == nil {
		return nil, nil, errNotInitialized
	}
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.db.ExecContext(ctx, schemaLedgerDDL); err != nil {
		return nil, nil, fmt.Errorf("ensure schema ledger: %w", err)
	}
	ledger, err := s.readLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	return all, ledger, nil
}

func (s *Store) readLedger(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, checksum FROM payrecon_schema`)
	if err != nil {
		return nil, fmt.Errorf("read schema ledger: %w", err)
	}
	defer rows.Close()

	ledger := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan schema ledger: %w", err)
		}
		ledger[version] = sum
	}
	return ledger, rows.Err()
}

// step выполняет одну миграцию в собственной транзакции под transaction-level advisory lock.
// Запись в реестре проверяется повторно под блокировкой: соседняя реплика могла успеть раньше.
func (s *Store) step(ctx context.Context, m migration, up bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m, err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("lock schema for %s: %w", m, err)
	}

	var recorded bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payrecon_schema WHERE version = $1)`, m.Version,
	).Scan(&recorded); err != nil {
		return fmt.Errorf("check schema ledger for %s: %w", m, err)
	}
	if recorded == up {
		return nil
	}

	body, record, args := m.DownSQL, `DELETE FROM payrecon_schema WHERE version = $1`, []any{m.Version}
	if up {
		body = m.UpSQL
		record = `INSERT INTO payrecon_schema (version, name, checksum) VALUES ($1, $2, $3)`
		args = []any{m.Version, m.Name, m.checksum()}
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("apply migration %s (up=%t): %w", m, up, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration %s (up=%t): %w", m, up, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m, err)
	}
	return nil
}

// loadMigrationsFromFS собирает пары up/down из каталога миграций.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := migrationFileName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, m.Name, parts[2])
		}

		target := &m.UpSQL
		if parts[3] == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
