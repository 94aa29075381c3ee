package domain

import "errors"

var (
	// Ошибка отсутствующего владельца заказа.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы позиции цене и количеству.
	ErrLineTotalMismatch = errors.New("item line total does not match price * quantity")
	// Ошибка несоответствия subtotal сумме позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка отрицательных денежных полей заказа.
	ErrAmountNegative = errors.New("order amounts must be non-negative")
	// Ошибка несоответствия итоговой суммы формуле subtotal - discount + shipping + tax.
	ErrTotalMismatch = errors.New("order total does not match subtotal - discount + shipping + tax")
	// Ошибка отсутствующего email покупателя.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderNumberTaken сигнализирует о коллизии человекочитаемого номера заказа.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrProductNotFound - запись склада для товара отсутствует.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock - на складе недостаточно единиц для оформления заказа.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDeadLetterNotFound возвращается, если запись dead-letter не найдена.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrUnauthorized - личность вызывающего не подтверждена или не совпадает с владельцем.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden - у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrSignatureInvalid - подпись webhook не прошла проверку.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrWebhookMalformed - подпись верна, но объект события не разбирается.
	ErrWebhookMalformed = errors.New("webhook event malformed")

	// ErrStorageUnavailable - временная ошибка хранилища, оборачивает ошибку драйвера.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrProcessorUnavailable - платёжный провайдер не ответил, можно повторить попытку.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	// ErrExhausted - бюджет повторов исчерпан, попытка записана в dead-letter.
	ErrExhausted = errors.New("reconciliation retries exhausted")

	// ErrPaymentAlreadyCompleted - платёж уже завершён, переход не применяется.
	ErrPaymentAlreadyCompleted = errors.New("payment already completed")
	// ErrPaymentReferenceRequired - в переходе не указан идентификатор intent/session.
	ErrPaymentReferenceRequired = errors.New("payment reference is required")
	// ErrNoPaymentReference - у заказа нет ни checkout session, ни payment intent.
	ErrNoPaymentReference = errors.New("order has no payment reference")
	// ErrPaymentReferenceNotFound - провайдер не знает такой intent/session.
	ErrPaymentReferenceNotFound = errors.New("payment reference not found at processor")
	// ErrIntentOrderMismatch - intent принадлежит другому заказу.
	ErrIntentOrderMismatch = errors.New("payment intent belongs to another order")
	// ErrUnknownTransition - вариант перехода не поддерживается хранилищем.
	ErrUnknownTransition = errors.New("unknown payment transition")
	// ErrInvalidFulfillmentTransition - недопустимый переход статуса исполнения.
	ErrInvalidFulfillmentTransition = errors.New("invalid fulfillment status transition")
	// ErrEmptyFulfillmentEdit - в правке нет ни одного поля.
	ErrEmptyFulfillmentEdit = errors.New("fulfillment edit has no fields")

	// ErrIdempotencyKeyRequired - пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound - ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists - ключ уже зарегистрирован с тем же хэшем.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ зарегистрирован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsTransient сообщает, можно ли повторить операцию, завершившуюся ошибкой.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrProcessorUnavailable)
}

// IsIdempotencyConflict проверяет, является ли ошибка конфликтом idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
