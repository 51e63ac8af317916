package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"keygate/internal/distribution"
)

// DownloadService is the orchestrator surface the handler depends on.
type DownloadService interface {
	Download(ctx context.Context, req distribution.DownloadRequest) distribution.Download
}

// DownloadHandler serves the classloader endpoint: an error envelope
// identical in shape to verification, or an encrypted binary stream.
type DownloadHandler struct {
	service          DownloadService
	geoCountryHeader string
	logger           *slog.Logger
}

// NewDownloadHandler creates the handler.
func NewDownloadHandler(service DownloadService, geoCountryHeader string, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		service:          service,
		geoCountryHeader: geoCountryHeader,
		logger:           logger.With(slog.String("handler", "download")),
	}
}

// Routes mounts the handler.
func (h *DownloadHandler) Routes(r chi.Router) {
	r.Post("/teams/{teamID}/classloader", h.Download)
}

// Download handles POST /api/v1/client/teams/{teamID}/classloader.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		renderBadRequest(w, r)
		return
	}

	var req DownloadRequest
	if err := render.Bind(r, &req); err != nil {
		renderBadRequest(w, r)
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		renderBadRequest(w, r)
		return
	}
	customerID, err := parseOptionalUUID(req.CustomerID)
	if err != nil {
		renderBadRequest(w, r)
		return
	}

	dl := h.service.Download(ctx, distribution.DownloadRequest{
		TeamID:         teamID,
		LicenseKey:     req.LicenseKey,
		ProductID:      productID,
		SessionKeyBlob: req.SessionKey,
		HardwareID:     req.HardwareIdentifier,
		Version:        req.Version,
		Branch:         req.Branch,
		CustomerID:     customerID,
		IPAddress:      clientIP(r),
		CountryAlpha2:  r.Header.Get(h.geoCountryHeader),
	})

	if !dl.Outcome.Status.Valid() {
		if err := render.Render(w, r, newVerifyResponse(dl.Outcome, time.Now().UTC())); err != nil {
			h.logger.ErrorContext(ctx, "render download error response failed", "error", err.Error())
		}
		return
	}

	defer dl.Body.Close()
	downloadHeaders(w, dl.FileSize, dl.ProductName, dl.ReleaseStatus, dl.Version, dl.LatestVersion, dl.MainClass)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		// Mid-stream failures cannot change the status line; log and let
		// the client detect truncation.
		h.logger.WarnContext(ctx, "download stream interrupted", "error", err.Error())
	}
}
