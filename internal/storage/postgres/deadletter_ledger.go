package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type deadLetterLedger struct {
	db *sql.DB
}

// NewDeadLetterLedger создаёт PostgreSQL-реализацию DeadLetterLedger.
func NewDeadLetterLedger(store *Store) domain.DeadLetterLedger {
	return &deadLetterLedger{db: store.DB()}
}

func (l *deadLetterLedger) Append(record domain.DeadLetterRecord) (domain.DeadLetterRecord, error) {
	if record.OrderID == "" {
		return domain.DeadLetterRecord{}, domain.ErrOrderIDRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, order_id, source, event_id, intent_id, checkout_session_id,
			processor_status, amount_minor, error_payload, attempts,
			processed, processed_by, processed_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		record.ID, record.OrderID, string(record.Source), record.EventID, record.IntentID,
		record.CheckoutSessionID, record.ProcessorStatus, record.AmountMinor, record.ErrorPayload,
		record.Attempts, record.Processed, record.ProcessedBy, nullTime(record.ProcessedAt), record.CreatedAt,
	); err != nil {
		return domain.DeadLetterRecord{}, unavailable("insert dead letter", err)
	}
	return record, nil
}

// List возвращает записи по фильтру, новые первыми.
func (l *deadLetterLedger) List(filter domain.DeadLetterFilter) ([]domain.DeadLetterRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if filter.Processed != nil {
		args = append(args, *filter.Processed)
		where = append(where, fmt.Sprintf("processed = $%d", len(args)))
	}

	query := `
		SELECT id, order_id, source, event_id, intent_id, checkout_session_id,
		       processor_status, amount_minor, error_payload, attempts,
		       processed, processed_by, processed_at, created_at
		FROM dead_letters`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list dead letters", err)
	}
	defer rows.Close()

	result := make([]domain.DeadLetterRecord, 0)
	for rows.Next() {
		var (
			rec         domain.DeadLetterRecord
			source      string
			processedAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &source, &rec.EventID, &rec.IntentID, &rec.CheckoutSessionID,
			&rec.ProcessorStatus, &rec.AmountMinor, &rec.ErrorPayload, &rec.Attempts,
			&rec.Processed, &rec.ProcessedBy, &processedAt, &rec.CreatedAt,
		); err != nil {
			return nil, unavailable("scan dead letter", err)
		}
		rec.Source = domain.SignalSource(source)
		rec.ProcessedAt = timePtr(processedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate dead letters", err)
	}
	return result, nil
}

func (l *deadLetterLedger) MarkProcessed(orderID, processedBy string, processedAt time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE dead_letters
		SET processed = TRUE,
		    processed_by = $2,
		    processed_at = $3
		WHERE order_id = $1
		  AND processed = FALSE
	`, orderID, processedBy, processedAt.UTC())
	if err != nil {
		return 0, unavailable("mark dead letters processed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected for dead letters", err)
	}
	return int(affected), nil
}

var _ domain.DeadLetterLedger = (*deadLetterLedger)(nil)
