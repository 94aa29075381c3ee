// Command loadtest нагружает payrecon заказами и штормом одинаковых webhook-доставок.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type loadMode string

const (
	// modeCreate только оформляет заказы.
	modeCreate loadMode = "create"
	// modeWebhookStorm оформляет заказ и шлёт на него пачку одинаковых подписанных webhook-ов.
	modeWebhookStorm loadMode = "webhook-storm"
)

type options struct {
	baseURL       string
	scenarios     int
	capped        bool
	duration      time.Duration
	workers       int
	duplicates    int
	timeout       time.Duration
	mode          loadMode
	token         string
	webhookSecret string
	currency      string
	productID     string
	amountMinor   int64
	verify        bool
	reportPath    string
}

// target описывает границу прогона для отчёта.
func (o options) target() string {
	switch {
	case o.duration <= 0:
		return fmt.Sprintf("%d scenarios", o.scenarios)
	case o.capped:
		return fmt.Sprintf("%s or %d scenarios", o.duration, o.scenarios)
	default:
		return o.duration.String()
	}
}

func parseOptions(args []string) (options, error) {
	var (
		o    options
		mode string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.baseURL, "url", "http://localhost:8080", "payrecon API base URL")
	fs.IntVar(&o.scenarios, "total", 200, "scenarios to run; with -duration acts as an upper bound only when set")
	fs.DurationVar(&o.duration, "duration", 0, "run for this long instead of a fixed count (e.g. 5m)")
	fs.IntVar(&o.workers, "concurrency", 20, "scenarios executed in parallel")
	fs.IntVar(&o.duplicates, "duplicates", 5, "identical webhook deliveries per order in webhook-storm mode")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeWebhookStorm), "load mode: create | webhook-storm")
	fs.StringVar(&o.token, "token", os.Getenv("PAYRECON_LOADTEST_TOKEN"), "bearer token used to create orders")
	fs.StringVar(&o.webhookSecret, "webhook-secret", os.Getenv("PAYRECON_STRIPE_WEBHOOK_SECRET"), "webhook signing secret")
	fs.StringVar(&o.currency, "currency", "USD", "order currency")
	fs.StringVar(&o.productID, "product", "moto-load", "product id of the single order item")
	fs.Int64Var(&o.amountMinor, "amount-minor", defaultAmount, "unit price in minor units")
	fs.BoolVar(&o.verify, "verify", true, "fetch the order after the storm and require completed payment")
	fs.StringVar(&o.reportPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) { o.capped = o.capped || f.Name == "total" })

	var err error
	if o.mode, err = parseMode(mode); err != nil {
		return o, err
	}
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")

	storm := o.mode == modeWebhookStorm
	for _, rule := range []struct {
		broken bool
		msg    string
	}{
		{o.baseURL == "", "url is required"},
		{o.duration < 0, "duration cannot be negative"},
		{o.scenarios <= 0 && (o.duration == 0 || o.capped), "total must be positive"},
		{o.workers <= 0, "concurrency must be positive"},
		{o.timeout <= 0, "timeout must be positive"},
		{o.amountMinor <= 0, "amount-minor must be positive"},
		{strings.TrimSpace(o.token) == "", "token is required"},
		{strings.TrimSpace(o.currency) == "", "currency is required"},
		{strings.TrimSpace(o.productID) == "", "product is required"},
		{storm && o.duplicates <= 0, "duplicates must be positive"},
		{storm && strings.TrimSpace(o.webhookSecret) == "", "webhook-secret is required in webhook-storm mode"},
	} {
		if rule.broken {
			return o, errors.New(rule.msg)
		}
	}
	return o, nil
}

func parseMode(value string) (loadMode, error) {
	switch m := loadMode(strings.TrimSpace(value)); m {
	case modeCreate, modeWebhookStorm:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(2)
	}

	rep := run(opts, newHTTPClient(opts))
	printReport(os.Stdout, rep)

	if opts.reportPath != "" {
		if err := saveReport(opts.reportPath, rep); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "loadtest: save report: %v\n", err)
			os.Exit(1)
		}
	}
	if rep.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

func newHTTPClient(opts options) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = opts.workers * max(opts.duplicates, 1)
	return &http.Client{Timeout: opts.timeout, Transport: transport}
}

// run прогоняет сценарии пулом из opts.workers горутин и возвращает итоговый отчёт.
func run(opts options, client *http.Client) runReport {
	started := time.Now()
	runID := fmt.Sprintf("%x-%d", started.UnixNano(), os.Getpid())
	rec := newRecorder()

	ctx := context.Background()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	for range opts.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range queue {
				_ = runScenario(client, opts, fmt.Sprintf("%s-%d", runID, n), n, rec)
			}
		}()
	}

	feed(ctx, queue, opts)
	wg.Wait()

	return rec.finish(opts, started, time.Since(started))
}

// feed раздаёт номера сценариев, пока не исчерпан счётчик или не вышло время прогона.
func feed(ctx context.Context, queue chan<- int, opts options) {
	defer close(queue)

	bounded := opts.duration <= 0 || opts.capped
	for n := 0; !bounded || n < opts.scenarios; n++ {
		select {
		case <-ctx.Done():
			return
		case queue <- n:
		}
	}
}
