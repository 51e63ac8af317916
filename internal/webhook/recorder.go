// Package webhook is this core's surface onto the webhook subsystem:
// record an event, let the delivery machinery (external to this core) pick
// it up later. Recording is fire-and-forget and never fails a request.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"keygate/internal/domain"
)

// Recorder persists webhook events.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRecorder creates a gorm-backed event recorder.
func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger.With(slog.String("component", "webhook"))}
}

// RecordEvent inserts a PENDING event row. Errors are logged and dropped.
func (r *Recorder) RecordEvent(ctx context.Context, teamID uuid.UUID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook payload marshal failed",
			"event_type", eventType, "error", err.Error())
		return
	}
	event := domain.WebhookEvent{
		ID:        uuid.New(),
		TeamID:    teamID,
		EventType: eventType,
		Payload:   raw,
		Status:    "PENDING",
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		r.logger.WarnContext(ctx, "webhook event insert failed",
			"event_type", eventType, "error", err.Error())
	}
}

// NopRecorder drops every event. Used when the webhook subsystem is not
// deployed.
type NopRecorder struct{}

// RecordEvent implements the recorder interface as a no-op.
func (NopRecorder) RecordEvent(context.Context, uuid.UUID, string, any) {}
