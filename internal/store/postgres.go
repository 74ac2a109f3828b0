// Package store provides storage backends for ScreenPipe.
//
// This file implements a PostgreSQL-backed store for sessions, item
// responses, and audit events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateSession persists a new session.
func (s *PostgresStore) CreateSession(sess models.Session) error {
	transcriptJSON, err := marshalJSON(sess.Transcript)
	if err != nil {
		return err
	}
	riskFlagsJSON, err := marshalJSON(sess.RiskFlags)
	if err != nil {
		return err
	}
	questionStateJSON, err := marshalJSON(sess.QuestionState)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO sessions (id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.ConversationID, sess.Status, transcriptJSON, riskFlagsJSON, questionStateJSON,
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrSessionExists
		}
		slog.Error("PostgresStore CreateSession failed", "error", err, "conversationID", sess.ConversationID)
		return fmt.Errorf("failed to insert session for %s: %w", sess.ConversationID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "conversationID", sess.ConversationID, "sessionID", sess.ID)
	return nil
}

// GetSession retrieves the session owned by the conversation.
func (s *PostgresStore) GetSession(conversationID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE conversation_id = $1`, conversationID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return sess, nil
}

// UpdateSession applies the patch under an optimistic version check.
func (s *PostgresStore) UpdateSession(conversationID string, patch models.SessionPatch, expectedVersion int64) error {
	sess, err := s.GetSession(conversationID)
	if err != nil {
		return err
	}
	if sess.Version != expectedVersion {
		slog.Warn("PostgresStore UpdateSession version conflict", "conversationID", conversationID,
			"expected", expectedVersion, "actual", sess.Version)
		return models.ErrVersionConflict
	}
	if err := validatePatch(patch); err != nil {
		return err
	}
	patch.Apply(sess)

	riskFlagsJSON, err := marshalJSON(sess.RiskFlags)
	if err != nil {
		return err
	}
	questionStateJSON, err := marshalJSON(sess.QuestionState)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE sessions SET status = $1, risk_flags = $2, question_state = $3, version = version + 1, updated_at = $4
		WHERE conversation_id = $5 AND version = $6`,
		sess.Status, riskFlagsJSON, questionStateJSON, time.Now(), conversationID, expectedVersion)
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update session for %s: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrVersionConflict
	}
	slog.Debug("PostgresStore UpdateSession succeeded", "conversationID", conversationID, "newVersion", expectedVersion+1)
	return nil
}

// CommitTurn appends entries, applies the patch, and upserts responses inside
// one database transaction, guarded by the optimistic version check.
func (s *PostgresStore) CommitTurn(conversationID string, entries []models.TranscriptEntry, patch models.SessionPatch, responses []models.ItemResponse, expectedVersion int64) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin turn commit: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE conversation_id = $1 FOR UPDATE`, conversationID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore CommitTurn read failed", "error", err, "conversationID", conversationID)
		return err
	}
	if sess.Version != expectedVersion {
		slog.Warn("PostgresStore CommitTurn version conflict", "conversationID", conversationID,
			"expected", expectedVersion, "actual", sess.Version)
		return models.ErrVersionConflict
	}

	sess.Transcript = append(sess.Transcript, entries...)
	patch.Apply(sess)

	transcriptJSON, err := marshalJSON(sess.Transcript)
	if err != nil {
		return err
	}
	riskFlagsJSON, err := marshalJSON(sess.RiskFlags)
	if err != nil {
		return err
	}
	questionStateJSON, err := marshalJSON(sess.QuestionState)
	if err != nil {
		return err
	}

	res, err := tx.Exec(`UPDATE sessions SET status = $1, transcript = $2, risk_flags = $3, question_state = $4, version = version + 1, updated_at = $5
		WHERE conversation_id = $6 AND version = $7`,
		sess.Status, transcriptJSON, riskFlagsJSON, questionStateJSON, time.Now(), conversationID, expectedVersion)
	if err != nil {
		slog.Error("PostgresStore CommitTurn write failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to commit turn for %s: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrVersionConflict
	}

	for _, resp := range responses {
		quotesJSON, err := marshalJSON(resp.EvidenceQuotes)
		if err != nil {
			return err
		}
		evidenceJSON, err := marshalJSON(resp.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO item_responses (session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, item_id) DO UPDATE SET
				score = EXCLUDED.score, ambiguity = EXCLUDED.ambiguity,
				evidence_quotes = EXCLUDED.evidence_quotes, evidence = EXCLUDED.evidence,
				confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at`,
			resp.SessionID, resp.ItemID, resp.Score, resp.Ambiguity, quotesJSON, evidenceJSON, resp.Confidence, resp.UpdatedAt); err != nil {
			slog.Error("PostgresStore CommitTurn response write failed", "error", err, "itemID", resp.ItemID)
			return fmt.Errorf("failed to commit response for item %s: %w", resp.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("PostgresStore CommitTurn succeeded", "conversationID", conversationID,
		"entries", len(entries), "responses", len(responses), "newVersion", expectedVersion+1)
	return nil
}

// AppendTranscriptEntry appends one entry and returns its message index.
func (s *PostgresStore) AppendTranscriptEntry(conversationID string, entry models.TranscriptEntry) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var transcriptJSON string
	err = tx.QueryRow(`SELECT transcript FROM sessions WHERE conversation_id = $1 FOR UPDATE`, conversationID).Scan(&transcriptJSON)
	if err == sql.ErrNoRows {
		return 0, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore AppendTranscriptEntry read failed", "error", err, "conversationID", conversationID)
		return 0, err
	}

	var transcript []models.TranscriptEntry
	if err := json.Unmarshal([]byte(transcriptJSON), &transcript); err != nil {
		return 0, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	transcript = append(transcript, entry)
	updated, err := marshalJSON(transcript)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`UPDATE sessions SET transcript = $1, updated_at = $2 WHERE conversation_id = $3`,
		updated, time.Now(), conversationID); err != nil {
		slog.Error("PostgresStore AppendTranscriptEntry write failed", "error", err, "conversationID", conversationID)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transcript append: %w", err)
	}
	return len(transcript) - 1, nil
}

// UpsertItemResponse persists a response, overwriting by (session, item).
func (s *PostgresStore) UpsertItemResponse(resp models.ItemResponse) error {
	quotesJSON, err := marshalJSON(resp.EvidenceQuotes)
	if err != nil {
		return err
	}
	evidenceJSON, err := marshalJSON(resp.Evidence)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO item_responses (session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, item_id) DO UPDATE SET
			score = EXCLUDED.score, ambiguity = EXCLUDED.ambiguity,
			evidence_quotes = EXCLUDED.evidence_quotes, evidence = EXCLUDED.evidence,
			confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at`,
		resp.SessionID, resp.ItemID, resp.Score, resp.Ambiguity, quotesJSON, evidenceJSON, resp.Confidence, resp.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore UpsertItemResponse failed", "error", err, "sessionID", resp.SessionID, "itemID", resp.ItemID)
		return fmt.Errorf("failed to upsert response for item %s: %w", resp.ItemID, err)
	}
	return nil
}

// GetItemResponses returns all responses for a session.
func (s *PostgresStore) GetItemResponses(sessionID string) ([]models.ItemResponse, error) {
	rows, err := s.db.Query(`SELECT session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at
		FROM item_responses WHERE session_id = $1 ORDER BY item_id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetItemResponses query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query item responses: %w", err)
	}
	defer rows.Close()

	var responses []models.ItemResponse
	for rows.Next() {
		resp, err := scanItemResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item response rows: %w", err)
	}
	return responses, nil
}

// AddAuditEvent appends one decision log entry.
func (s *PostgresStore) AddAuditEvent(ev models.AuditEvent) error {
	_, err := s.db.Exec(`INSERT INTO audit_events (id, session_id, kind, phase, item_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.SessionID, ev.Kind, ev.Phase, nilIfEmpty(ev.ItemID), nilIfEmpty(ev.Detail), ev.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddAuditEvent failed", "error", err, "sessionID", ev.SessionID, "kind", ev.Kind)
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// GetAuditEvents returns a session's decision log in insertion order.
func (s *PostgresStore) GetAuditEvents(sessionID string) ([]models.AuditEvent, error) {
	rows, err := s.db.Query(`SELECT id, session_id, kind, phase, item_id, detail, created_at
		FROM audit_events WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetAuditEvents query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit event rows: %w", err)
	}
	return events, nil
}

// ListActiveSessions returns every session with status active.
func (s *PostgresStore) ListActiveSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE status = $1`, models.SessionStatusActive)
	if err != nil {
		slog.Error("PostgresStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
