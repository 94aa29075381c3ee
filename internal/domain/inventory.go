package domain

import "time"

// DefaultStock - остаток, который предполагается у товара без явного счётчика.
const DefaultStock int64 = 10

// InventoryRecord - складской счётчик товара.
type InventoryRecord struct {
	ProductID string
	Name      string
	Stock     int64
	// Tracked=false означает, что у товара нет явного счётчика и действует DefaultStock.
	Tracked   bool
	UpdatedAt time.Time
}

// Available возвращает остаток с учётом значения по умолчанию.
func (r InventoryRecord) Available() int64 {
	if !r.Tracked {
		return DefaultStock
	}
	return r.Stock
}

// ItemQuantity - пара товар/количество для проверки и списания остатков.
type ItemQuantity struct {
	ProductID string
	Quantity  int32
}

// Decrement возвращает остаток после списания, не опускаясь ниже нуля.
func Decrement(current int64, qty int32) int64 {
	next := current - int64(qty)
	if next < 0 {
		return 0
	}
	return next
}
