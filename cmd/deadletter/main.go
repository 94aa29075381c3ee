package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/app"
	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
)

const defaultListLimit = 50

type config struct {
	list      bool
	resolve   bool
	orderID   string
	admin     string
	processed string
	limit     int
	execute   bool

	app app.Config
}

// deadLetterService - часть движка сверки, нужная утилите.
type deadLetterService interface {
	ListDeadLetters(principal auth.Principal, filter domain.DeadLetterFilter) ([]domain.DeadLetterRecord, error)
	AdminRetry(principal auth.Principal, orderID string) (reconcile.Result, error)
}

var openService = func(ctx context.Context, cfg app.Config) (deadLetterService, func() error, error) {
	toolkit, err := app.OpenToolkit(ctx, cfg, log.WithField("component", "deadletter"))
	if err != nil {
		return nil, nil, err
	}
	return toolkit.Engine, toolkit.Close, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	_ = godotenv.Load()

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx := context.Background()
	svc, closeFn, err := openService(ctx, cfg.app)
	if err != nil {
		fail("open storage: %v", err)
	}
	defer func() { _ = closeFn() }()

	if err := run(cfg, svc, os.Stdout); err != nil {
		fail("deadletter failed: %v", err)
	}
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("deadletter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&cfg.list, "list", false, "list dead-letter records")
	fs.BoolVar(&cfg.resolve, "resolve", false, "re-run admin reconciliation for -order")
	fs.StringVar(&cfg.orderID, "order", "", "order id filter / order to resolve")
	fs.StringVar(&cfg.admin, "admin", "", "admin uid recorded as processedBy (must be in PAYRECON_ADMIN_UIDS)")
	fs.StringVar(&cfg.processed, "processed", "false", "processed filter for -list: true|false|all")
	fs.IntVar(&cfg.limit, "limit", defaultListLimit, "max records to list")
	fs.BoolVar(&cfg.execute, "execute", false, "execute resolve; default is dry-run")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.list == cfg.resolve {
		return config{}, errors.New("exactly one of -list or -resolve is required")
	}
	cfg.admin = strings.TrimSpace(cfg.admin)
	if cfg.admin == "" {
		return config{}, errors.New("-admin is required")
	}
	cfg.orderID = strings.TrimSpace(cfg.orderID)
	if cfg.resolve && cfg.orderID == "" {
		return config{}, errors.New("-order is required for -resolve")
	}
	if cfg.limit <= 0 {
		return config{}, errors.New("limit must be > 0")
	}
	if _, err := processedFilter(cfg.processed); err != nil {
		return config{}, err
	}

	cfg.app = appConfigFromEnv(lookup)
	return cfg, nil
}

// appConfigFromEnv читает только переменные, влияющие на хранилище и шлюз.
func appConfigFromEnv(lookup func(string) (string, bool)) app.Config {
	cfg := app.DefaultConfig()
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("PAYRECON_STORAGE_DRIVER", &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	set("PAYRECON_POSTGRES_DSN", &cfg.PostgresDSN)
	set("PAYRECON_FIRESTORE_PROJECT", &cfg.FirestoreProject)
	set("PAYRECON_FIRESTORE_CREDENTIALS", &cfg.FirestoreCredentials)
	set("PAYRECON_STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	set("PAYRECON_SENDGRID_API_KEY", &cfg.SendGridAPIKey)
	set("PAYRECON_MAIL_FROM", &cfg.MailFrom)
	if v, ok := lookup("PAYRECON_ADMIN_UIDS"); ok {
		cfg.AdminUIDs = auth.ParseList(v)
	}
	// Утилита не должна менять схему базы.
	cfg.PostgresAutoMigrate = false
	return cfg
}

func processedFilter(raw string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "":
		return nil, nil
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("invalid -processed value %q (use true|false|all)", raw)
	}
}

func run(cfg config, svc deadLetterService, out io.Writer) error {
	principal := auth.Principal{UID: cfg.admin}

	if cfg.list {
		processed, err := processedFilter(cfg.processed)
		if err != nil {
			return err
		}
		records, err := svc.ListDeadLetters(principal, domain.DeadLetterFilter{
			OrderID:   cfg.orderID,
			Processed: processed,
			Limit:     cfg.limit,
		})
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}
		printRecords(out, records)
		return nil
	}

	unprocessed := false
	pending, err := svc.ListDeadLetters(principal, domain.DeadLetterFilter{
		OrderID:   cfg.orderID,
		Processed: &unprocessed,
	})
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	if !cfg.execute {
		_, _ = fmt.Fprintf(out, "dry-run: order %s has %d unprocessed dead letter(s); rerun with -execute to reconcile\n",
			cfg.orderID, len(pending))
		return nil
	}

	res, err := svc.AdminRetry(principal, cfg.orderID)
	if err != nil {
		return fmt.Errorf("admin retry: %w", err)
	}
	_, _ = fmt.Fprintf(out, "order %s: outcome=%s payment=%s attempts=%d resolved=%d\n",
		res.OrderID, res.Outcome, res.PaymentStatus, res.Attempts, res.ResolvedDeadLetters)
	if !res.Completed() {
		_, _ = fmt.Fprintln(out, "payment is not completed; dead letters left unprocessed")
	}
	return nil
}

func printRecords(out io.Writer, records []domain.DeadLetterRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "no dead letters")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tORDER\tSOURCE\tATTEMPTS\tPROCESSED\tCREATED\tERROR")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
			r.ID, r.OrderID, r.Source, r.Attempts, r.Processed, r.CreatedAt.Format(time.RFC3339), truncate(r.ErrorPayload, 60))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
