package domain

import "time"

// OrderStore описывает требования к хранилищу заказов.
// Все частичные обновления проставляют UpdatedAt; ошибки драйвера оборачиваются в ErrStorageUnavailable.
type OrderStore interface {
	// Create сохраняет новый заказ и резервирует его номер.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы владельца, новые первыми.
	ListByUser(userID string, limit int) ([]Order, error)
	// ApplyPaymentTransition обновляет только группу полей перехода.
	ApplyPaymentTransition(id string, transition PaymentTransition) (Order, error)
	// ApplyFulfillmentEdit применяет ручную правку администратора.
	ApplyFulfillmentEdit(id string, edit FulfillmentEdit) (Order, error)
	// Delete удаляет заказ по явной команде администратора.
	Delete(id string) error
}

// InventoryStore хранит складские счётчики товаров.
type InventoryStore interface {
	// Get возвращает запись склада или ErrProductNotFound.
	Get(productID string) (InventoryRecord, error)
	// SetStock записывает новый остаток существующего товара.
	SetStock(productID string, stock int64) error
	// Upsert создаёт или заменяет запись склада.
	Upsert(record InventoryRecord) error
}

// DeadLetterLedger хранит сверки, исчерпавшие повторы.
type DeadLetterLedger interface {
	Append(record DeadLetterRecord) (DeadLetterRecord, error)
	List(filter DeadLetterFilter) ([]DeadLetterRecord, error)
	// MarkProcessed помечает все необработанные записи заказа и возвращает их количество.
	MarkProcessed(orderID, processedBy string, processedAt time.Time) (int, error)
}
