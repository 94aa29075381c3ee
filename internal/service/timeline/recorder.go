package timeline

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

// Recorder пишет событие заказа в outbox и timeline одним вызовом.
// Оба получателя необязательны; ошибки записи логируются и не прерывают вызывающего.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.ReconcileMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт Recorder.
func NewRecorder(
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	m *metrics.ReconcileMetrics,
	logger *log.Entry,
) *Recorder {
	if logger == nil {
		logger = log.New().WithField("component", "timeline")
	}
	return &Recorder{
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if r != nil && now != nil {
		r.now = now
	}
	return r
}

// Emit публикует событие. Поля payload "reason" и "ts" попадают в timeline.
func (r *Recorder) Emit(orderID, eventType string, payload map[string]interface{}) {
	if r == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	occurred := r.now()
	payload["order_id"] = orderID
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = occurred.Format(time.RFC3339Nano)
	}

	fields := log.Fields{"order_id": orderID, "event": eventType}

	if r.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				AggregateType: "order",
				AggregateID:   orderID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := r.outbox.Enqueue(msg); err != nil {
				r.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
			} else {
				r.metrics.RecordOutboxEvent()
			}
		}
	}

	if r.timeline == nil {
		return
	}
	var reason string
	if v, ok := payload["reason"].(string); ok {
		reason = v
	}
	if ts, ok := payload["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			occurred = parsed
		}
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := r.timeline.Append(event); err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		return
	}
	r.metrics.RecordTimelineEvent()
}
