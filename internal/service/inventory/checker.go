package inventory

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// Availability - результат проверки наличия одного товара.
type Availability struct {
	ProductID string `json:"productId"`
	Requested int64  `json:"requested"`
	InStock   int64  `json:"inStock"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// Checker отвечает на вопрос «хватит ли товара» до оформления заказа. Остатки не меняет.
type Checker struct {
	store domain.InventoryStore
}

// NewChecker создаёт Checker поверх складского хранилища.
func NewChecker(store domain.InventoryStore) *Checker {
	return &Checker{store: store}
}

// Check проверяет наличие. Количества одного товара суммируются в int64, порядок первых вхождений сохраняется.
func (c *Checker) Check(items []domain.ItemQuantity) ([]Availability, error) {
	if len(items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	order := make([]string, 0, len(items))
	requested := make(map[string]int64, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, domain.ErrItemProductRequired
		}
		if item.Quantity <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		if _, seen := requested[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += int64(item.Quantity)
	}

	result := make([]Availability, 0, len(order))
	for _, productID := range order {
		qty := requested[productID]
		record, err := c.store.Get(productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				result = append(result, Availability{
					ProductID: productID,
					Requested: qty,
					Message:   "product not found",
				})
				continue
			}
			return nil, fmt.Errorf("check stock for %s: %w", productID, err)
		}

		stock := record.Available()
		entry := Availability{
			ProductID: productID,
			Requested: qty,
			InStock:   stock,
			Available: stock >= qty,
		}
		if !entry.Available {
			entry.Message = fmt.Sprintf("only %d left in stock", stock)
		}
		result = append(result, entry)
	}
	return result, nil
}

// RequireAvailable возвращает ErrInsufficientStock, если хотя бы одной позиции не хватает.
func (c *Checker) RequireAvailable(items []domain.ItemQuantity) error {
	availability, err := c.Check(items)
	if err != nil {
		return err
	}
	for _, a := range availability {
		if !a.Available {
			return fmt.Errorf("%w: %s (%s)", domain.ErrInsufficientStock, a.ProductID, a.Message)
		}
	}
	return nil
}
