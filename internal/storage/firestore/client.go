package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	productsCollection     = "motors"
	deadLetterCollection   = "failedPaymentUpdates"

	// opTimeout ограничивает одну операцию репозитория: интерфейсы хранилищ без контекста.
	opTimeout = 5 * time.Second
)

// Client оборачивает Firestore-клиент проекта.
type Client struct {
	fs        *firestore.Client
	projectID string
}

// NewClient создаёт Firestore-клиент. Пустой credentialsFile означает Application Default Credentials
// (или эмулятор, если задан FIRESTORE_EMULATOR_HOST).
func NewClient(ctx context.Context, projectID, credentialsFile string, logger *log.Entry) (*Client, error) {
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	if logger == nil {
		logger = log.New().WithField("component", "firestore")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	fs, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	logger.WithField("project", projectID).Info("firestore client initialized")
	return &Client{fs: fs, projectID: projectID}, nil
}

// NewWithClient оборачивает готовый клиент (эмулятор в тестах).
func NewWithClient(fs *firestore.Client, projectID string) *Client {
	return &Client{fs: fs, projectID: projectID}
}

// ProjectID возвращает идентификатор проекта.
func (c *Client) ProjectID() string {
	return c.projectID
}

// Firestore возвращает исходный клиент.
func (c *Client) Firestore() *firestore.Client {
	return c.fs
}

// Ping выполняет дешёвое чтение: отдельного ping API у Firestore нет.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.fs == nil {
		return errors.New("firestore client is not initialized")
	}
	_, err := c.fs.Collection(ordersCollection).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close закрывает клиент.
func (c *Client) Close() error {
	if c == nil || c.fs == nil {
		return nil
	}
	return c.fs.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// isDomainError отличает доменные отказы, возвращённые из функции транзакции, от ошибок драйвера.
func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrOrderNotFound,
		domain.ErrOrderAlreadyExists,
		domain.ErrOrderNumberTaken,
		domain.ErrPaymentAlreadyCompleted,
		domain.ErrUnknownTransition,
		domain.ErrInvalidFulfillmentTransition,
		domain.ErrEmptyFulfillmentEdit,
		domain.ErrPaymentReferenceRequired,
		domain.ErrAmountNegative,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
