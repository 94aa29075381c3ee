package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type deadLetterDoc struct {
	OrderID           string     `firestore:"orderId"`
	Source            string     `firestore:"source"`
	EventID           string     `firestore:"eventId"`
	IntentID          string     `firestore:"paymentIntentId"`
	CheckoutSessionID string     `firestore:"checkoutSessionId"`
	ProcessorStatus   string     `firestore:"paymentStatus"`
	AmountMinor       int64      `firestore:"amount"`
	ErrorPayload      string     `firestore:"error"`
	Attempts          int        `firestore:"attempts"`
	Processed         bool       `firestore:"processed"`
	ProcessedBy       string     `firestore:"processedBy"`
	ProcessedAt       *time.Time `firestore:"processedAt"`
	CreatedAt         time.Time  `firestore:"createdAt"`
}

type deadLetterLedger struct {
	client *firestore.Client
}

// NewDeadLetterLedger создаёт Firestore-реализацию DeadLetterLedger (коллекция failedPaymentUpdates).
func NewDeadLetterLedger(c *Client) domain.DeadLetterLedger {
	return &deadLetterLedger{client: c.Firestore()}
}

func (l *deadLetterLedger) records() *firestore.CollectionRef {
	return l.client.Collection(deadLetterCollection)
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

	if _, err := l.records().Doc(record.ID).Create(ctx, toDeadLetterDoc(record)); err != nil {
		return domain.DeadLetterRecord{}, unavailable("insert dead letter", err)
	}
	return record, nil
}

func (l *deadLetterLedger) List(filter domain.DeadLetterFilter) ([]domain.DeadLetterRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	it := l.query(filter).Documents(ctx)
	defer it.Stop()

	result := make([]domain.DeadLetterRecord, 0)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable("list dead letters", err)
		}
		rec, err := decodeDeadLetter(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// MarkProcessed в одной транзакции помечает все необработанные записи заказа.
func (l *deadLetterLedger) MarkProcessed(orderID, processedBy string, processedAt time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	q := l.records().
		Where("orderId", "==", orderID).
		Where("processed", "==", false)

	var marked int
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		marked = 0
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "processed", Value: true},
				{Path: "processedBy", Value: processedBy},
				{Path: "processedAt", Value: processedAt.UTC()},
			}); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("mark dead letters processed", err)
	}
	return marked, nil
}

func (l *deadLetterLedger) query(filter domain.DeadLetterFilter) firestore.Query {
	q := l.records().Query
	if filter.OrderID != "" {
		q = q.Where("orderId", "==", filter.OrderID)
	}
	if filter.Processed != nil {
		q = q.Where("processed", "==", *filter.Processed)
	}
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return q
}

func toDeadLetterDoc(rec domain.DeadLetterRecord) deadLetterDoc {
	return deadLetterDoc{
		OrderID:           rec.OrderID,
		Source:            string(rec.Source),
		EventID:           rec.EventID,
		IntentID:          rec.IntentID,
		CheckoutSessionID: rec.CheckoutSessionID,
		ProcessorStatus:   rec.ProcessorStatus,
		AmountMinor:       rec.AmountMinor,
		ErrorPayload:      rec.ErrorPayload,
		Attempts:          rec.Attempts,
		Processed:         rec.Processed,
		ProcessedBy:       rec.ProcessedBy,
		ProcessedAt:       utcPtr(rec.ProcessedAt),
		CreatedAt:         rec.CreatedAt.UTC(),
	}
}

func decodeDeadLetter(snap *firestore.DocumentSnapshot) (domain.DeadLetterRecord, error) {
	var doc deadLetterDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.DeadLetterRecord{}, unavailable("decode dead letter "+snap.Ref.ID, err)
	}
	return domain.DeadLetterRecord{
		ID:                snap.Ref.ID,
		OrderID:           doc.OrderID,
		Source:            domain.SignalSource(doc.Source),
		EventID:           doc.EventID,
		IntentID:          doc.IntentID,
		CheckoutSessionID: doc.CheckoutSessionID,
		ProcessorStatus:   doc.ProcessorStatus,
		AmountMinor:       doc.AmountMinor,
		ErrorPayload:      doc.ErrorPayload,
		Attempts:          doc.Attempts,
		Processed:         doc.Processed,
		ProcessedBy:       doc.ProcessedBy,
		ProcessedAt:       utcPtr(doc.ProcessedAt),
		CreatedAt:         doc.CreatedAt.UTC(),
	}, nil
}

var _ domain.DeadLetterLedger = (*deadLetterLedger)(nil)
