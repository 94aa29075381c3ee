package inventory

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

// Adjuster списывает остатки по позициям заказа в момент первого подтверждения оплаты.
// Ошибка по одной позиции не мешает остальным: каждая ошибка логируется и учитывается в метриках.
type Adjuster struct {
	store   domain.InventoryStore
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
}

// NewAdjuster создаёт Adjuster. metrics может быть nil.
func NewAdjuster(store domain.InventoryStore, m *metrics.ReconcileMetrics, logger *log.Entry) *Adjuster {
	if logger == nil {
		logger = log.New().WithField("component", "inventory-adjuster")
	}
	return &Adjuster{store: store, logger: logger, metrics: m}
}

// DecrementForOrder уменьшает остаток каждой позиции на заказанное количество, не опускаясь ниже нуля.
func (a *Adjuster) DecrementForOrder(orderID string, items []domain.ItemQuantity) {
	for _, item := range items {
		fields := log.Fields{
			"order_id":   orderID,
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
		}

		record, err := a.store.Get(item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				a.logger.WithFields(fields).Warn("product not found, skipping inventory decrement")
				a.metrics.RecordInventoryAdjustment("skipped")
				continue
			}
			a.logger.WithError(err).WithFields(fields).Error("read stock failed")
			a.metrics.RecordInventoryAdjustment("failed")
			continue
		}

		current := record.Available()
		next := domain.Decrement(current, item.Quantity)
		if err := a.store.SetStock(item.ProductID, next); err != nil {
			a.logger.WithError(err).WithFields(fields).Error("write stock failed")
			a.metrics.RecordInventoryAdjustment("failed")
			continue
		}

		a.logger.WithFields(fields).WithFields(log.Fields{
			"stock_before": current,
			"stock_after":  next,
		}).Info("inventory decremented")
		a.metrics.RecordInventoryAdjustment("ok")
	}
}
