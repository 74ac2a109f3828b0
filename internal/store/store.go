// Package store provides storage backends for ScreenPipe sessions, item
// responses, and audit events.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends. All operations are atomic with respect to a single
// session; UpdateSession additionally enforces an optimistic version check so
// concurrent writers to the same session cannot interleave.
package store

import (
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// Store is the persistence collaborator consumed by the engine and by
// downstream readers (report renderer, benchmarking layer).
type Store interface {
	// CreateSession persists a new session. Returns models.ErrSessionExists
	// if the conversation already owns one.
	CreateSession(sess models.Session) error

	// GetSession returns the session owned by the conversation, or
	// models.ErrSessionNotFound.
	GetSession(conversationID string) (*models.Session, error)

	// UpdateSession applies the patch if the stored version equals
	// expectedVersion, then increments the version. Returns
	// models.ErrVersionConflict otherwise.
	UpdateSession(conversationID string, patch models.SessionPatch, expectedVersion int64) error

	// CommitTurn atomically appends the transcript entries, applies the
	// session patch under the optimistic version check, and upserts the item
	// responses. The whole turn commits together or not at all: a version
	// conflict or backend failure leaves no partial state behind.
	CommitTurn(conversationID string, entries []models.TranscriptEntry, patch models.SessionPatch, responses []models.ItemResponse, expectedVersion int64) error

	// AppendTranscriptEntry appends one entry to the session transcript and
	// returns its message index.
	AppendTranscriptEntry(conversationID string, entry models.TranscriptEntry) (int, error)

	// UpsertItemResponse persists a response, overwriting any prior response
	// for the same (session, item) pair.
	UpsertItemResponse(resp models.ItemResponse) error

	// GetItemResponses returns all responses for a session.
	GetItemResponses(sessionID string) ([]models.ItemResponse, error)

	// AddAuditEvent appends one decision to the authoritative event log.
	AddAuditEvent(ev models.AuditEvent) error

	// GetAuditEvents returns a session's decision log in insertion order.
	GetAuditEvents(sessionID string) ([]models.AuditEvent, error)

	// ListActiveSessions returns every session with status active.
	ListActiveSessions() ([]models.Session, error)

	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (a file path for SQLite, a connection string
// for PostgreSQL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
