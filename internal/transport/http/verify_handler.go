package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"keygate/internal/licensing"
)

// VerificationService is the orchestrator surface the handler depends on.
type VerificationService interface {
	Verify(ctx context.Context, req licensing.VerifyRequest) licensing.Outcome
}

// VerifyHandler serves the tenant-scoped verification endpoint.
type VerifyHandler struct {
	service          VerificationService
	geoCountryHeader string
	logger           *slog.Logger
}

// NewVerifyHandler creates the handler.
func NewVerifyHandler(service VerificationService, geoCountryHeader string, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		service:          service,
		geoCountryHeader: geoCountryHeader,
		logger:           logger.With(slog.String("handler", "verify")),
	}
}

// Routes mounts the handler.
func (h *VerifyHandler) Routes(r chi.Router) {
	r.Post("/teams/{teamID}/verify", h.Verify)
}

// Verify handles POST /api/v1/client/teams/{teamID}/verify.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		renderBadRequest(w, r)
		return
	}

	var req VerifyRequest
	if err := render.Bind(r, &req); err != nil {
		renderBadRequest(w, r)
		return
	}

	customerID, err := parseOptionalUUID(req.CustomerID)
	if err != nil {
		renderBadRequest(w, r)
		return
	}
	productID, err := parseOptionalUUID(req.ProductID)
	if err != nil {
		renderBadRequest(w, r)
		return
	}

	outcome := h.service.Verify(ctx, licensing.VerifyRequest{
		TeamID:        teamID,
		LicenseKey:    req.LicenseKey,
		CustomerID:    customerID,
		ProductID:     productID,
		Challenge:     req.Challenge,
		Version:       req.Version,
		Branch:        req.Branch,
		HardwareID:    req.HardwareIdentifier,
		IPAddress:     clientIP(r),
		CountryAlpha2: r.Header.Get(h.geoCountryHeader),
	})

	if err := render.Render(w, r, newVerifyResponse(outcome, time.Now().UTC())); err != nil {
		h.logger.ErrorContext(ctx, "render verify response failed", "error", err.Error())
	}
}
