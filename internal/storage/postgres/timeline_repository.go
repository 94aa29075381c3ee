package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// orderTimeline - история платёжных событий заказа в order_timeline.
type orderTimeline struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &orderTimeline{db: store.DB()}
}

func (r *orderTimeline) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO order_timeline (order_id, event_type, reason, occurred_at) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, event.Occurred.UTC(),
	); err != nil {
		return unavailable("append order timeline", err)
	}
	return nil
}

// List возвращает события заказа от старых к новым; при равном времени - в порядке записи.
func (r *orderTimeline) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, reason, occurred_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, unavailable("list order timeline", err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		ev := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&ev.Type, &ev.Reason, &ev.Occurred); err != nil {
			return nil, unavailable("scan order timeline", err)
		}
		ev.Occurred = ev.Occurred.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order timeline", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*orderTimeline)(nil)
