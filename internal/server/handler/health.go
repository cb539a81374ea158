package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check probes one backing service.
type Check func(ctx context.Context) error

const defaultCheckTimeout = 2 * time.Second

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler that runs checks on every request.
// A nil or empty map always reports ok.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: defaultCheckTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// HealthCheck runs every check concurrently and responds 200 when all pass,
// 503 otherwise. The body lists each check's result.
// GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := "ok"
			if err := h.checks[name](ctx); err != nil {
				res = err.Error()
				h.logger.WarnContext(ctx, "health: check failed",
					slog.String("check", name),
					slog.String("error", res),
				)
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	for _, res := range results {
		if res != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
