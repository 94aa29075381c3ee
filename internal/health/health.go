// Package health отдаёт liveness, readiness и подробный отчёт о зависимостях сервиса.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status - состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	// StatusUnhealthy снимает инстанс с трафика; degraded - нет.
	StatusUnhealthy Status = "unhealthy"
)

// worse сравнивает статусы: unhealthy > degraded > healthy.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check - результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response - тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Check
}

// CheckFunc адаптирует функцию к Checker.
type CheckFunc func(ctx context.Context) Check

func (f CheckFunc) Check(ctx context.Context) Check { return f(ctx) }

// Pinger - хранилище с проверкой соединения (postgres, firestore, redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewSimpleChecker считает компонент unhealthy, если fn вернула ошибку.
func NewSimpleChecker(name string, fn func(ctx context.Context) error) Checker {
	return CheckFunc(func(ctx context.Context) Check {
		return timed(name, func() (Status, string) {
			if err := fn(ctx); err != nil {
				return StatusUnhealthy, err.Error()
			}
			return StatusHealthy, ""
		})
	})
}

// NewPingChecker проверяет соединение с хранилищем.
func NewPingChecker(name string, pinger Pinger) Checker {
	return NewSimpleChecker(name, pinger.Ping)
}

// NewThresholdChecker переводит компонент в degraded, когда значение больше порога,
// например backlog outbox или число необработанных dead-letter записей.
func NewThresholdChecker(name string, threshold int, value func() (int, error)) Checker {
	return CheckFunc(func(context.Context) Check {
		return timed(name, func() (Status, string) {
			v, err := value()
			switch {
			case err != nil:
				return StatusUnhealthy, err.Error()
			case v > threshold:
				return StatusDegraded, fmt.Sprintf("value %d exceeds threshold %d", v, threshold)
			}
			return StatusHealthy, ""
		})
	})
}

func timed(name string, probe func() (Status, string)) Check {
	start := time.Now()
	status, msg := probe()
	return Check{Name: name, Status: status, Message: msg, DurationMs: time.Since(start).Milliseconds()}
}

// Handler хранит зарегистрированные проверки и обслуживает health-эндпоинты.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

// NewHandler создаёт handler без проверок: пустой набор считается healthy.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
		timeout:  2 * time.Second,
	}
}

// RegisterChecker добавляет или заменяет проверку с данным именем.
func (h *Handler) RegisterChecker(name string, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.mu.Unlock()
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run выполняет проверки параллельно с общим таймаутом и возвращает худший статус.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	snapshot := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		snapshot[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Check, len(snapshot))
	)
	for name, c := range snapshot {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			res := c.Check(ctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		overall = worse(overall, res.Status)
	}
	return overall, results
}

// ServeHTTP отдаёт подробный отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, checks := h.Run(r.Context())

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// ReadinessHandler отвечает "ready", пока ни одна проверка не unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if status, _ := h.Run(r.Context()); status == StatusUnhealthy {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

// LivenessHandler не зависит от внешних систем.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
