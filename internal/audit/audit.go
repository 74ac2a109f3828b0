// Package audit records the engine's authoritative decision log. Every
// selection, scoring, and transition decision is persisted with its item id
// and phase so downstream auditors can reconstruct an interview exactly
// instead of guessing from transcript prose.
package audit

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/util"
)

// Sink is the subset of the store the recorder writes through.
type Sink interface {
	AddAuditEvent(ev models.AuditEvent) error
}

// Recorder appends decision events to a sink. Recording failures are logged
// and swallowed: the audit log must never fail an interview turn.
type Recorder struct {
	sink Sink
}

// NewRecorder creates a recorder writing through the given sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record persists one decision event.
func (r *Recorder) Record(sessionID string, kind models.AuditEventKind, phase models.InterviewPhase, itemID, detail string) {
	if r == nil || r.sink == nil {
		return
	}
	ev := models.AuditEvent{
		ID:        util.GenerateEventID(),
		SessionID: sessionID,
		Kind:      kind,
		Phase:     phase,
		ItemID:    itemID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := r.sink.AddAuditEvent(ev); err != nil {
		slog.Error("Recorder.Record: failed to persist audit event",
			"error", err, "sessionID", sessionID, "kind", kind)
		return
	}
	slog.Debug("Recorder.Record: audit event persisted",
		"sessionID", sessionID, "kind", kind, "phase", phase, "itemID", itemID)
}
