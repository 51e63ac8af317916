package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler reports service liveness plus reachability of the two
// external stores the pipelines depend on.
type HealthHandler struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *slog.Logger
}

// NewHealthHandler creates the handler. db and redis may be nil in tests.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, logger: logger.With(slog.String("handler", "health"))}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`

	httpStatus int
}

// Render implements the render.Renderer interface.
func (h *HealthResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, h.httpStatus)
	return nil
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:     "ok",
		Checks:     map[string]string{},
		Timestamp:  time.Now().UTC(),
		httpStatus: http.StatusOK,
	}

	resp.Checks["database"] = h.checkDatabase(ctx)
	resp.Checks["redis"] = h.checkRedis(ctx)
	for _, state := range resp.Checks {
		if state != "ok" {
			// The rate limiter fails open, so a degraded Redis keeps the
			// service serving; report degraded rather than down.
			resp.Status = "degraded"
			resp.httpStatus = http.StatusServiceUnavailable
		}
	}

	if err := render.Render(w, r, resp); err != nil {
		h.logger.ErrorContext(ctx, "render health response failed", "error", err.Error())
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) string {
	if h.db == nil {
		return "not configured"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err.Error()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *HealthHandler) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return "not configured"
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return err.Error()
	}
	return "ok"
}
