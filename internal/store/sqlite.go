// Package store provides storage backends for ScreenPipe.
//
// This file implements an SQLite-backed store for sessions, item responses,
// and audit events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateSession persists a new session.
func (s *SQLiteStore) CreateSession(sess models.Session) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ConversationID, sess.Status, transcriptJSON, riskFlagsJSON, questionStateJSON,
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Debug("SQLiteStore CreateSession duplicate", "conversationID", sess.ConversationID)
			return models.ErrSessionExists
		}
		slog.Error("SQLiteStore CreateSession failed", "error", err, "conversationID", sess.ConversationID)
		return fmt.Errorf("failed to insert session for %s: %w", sess.ConversationID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "conversationID", sess.ConversationID, "sessionID", sess.ID)
	return nil
}

// GetSession retrieves the session owned by the conversation.
func (s *SQLiteStore) GetSession(conversationID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE conversation_id = ?`, conversationID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "conversationID", conversationID)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return sess, nil
}

// UpdateSession applies the patch under an optimistic version check.
func (s *SQLiteStore) UpdateSession(conversationID string, patch models.SessionPatch, expectedVersion int64) error {
	sess, err := s.GetSession(conversationID)
	if err != nil {
		return err
	}
	if sess.Version != expectedVersion {
		slog.Warn("SQLiteStore UpdateSession version conflict", "conversationID", conversationID,
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

	res, err := s.db.Exec(`UPDATE sessions SET status = ?, risk_flags = ?, question_state = ?, version = version + 1, updated_at = ?
		WHERE conversation_id = ? AND version = ?`,
		sess.Status, riskFlagsJSON, questionStateJSON, time.Now(), conversationID, expectedVersion)
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update session for %s: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost the race between the read and the guarded write.
		return models.ErrVersionConflict
	}
	slog.Debug("SQLiteStore UpdateSession succeeded", "conversationID", conversationID, "newVersion", expectedVersion+1)
	return nil
}

// CommitTurn appends entries, applies the patch, and upserts responses inside
// one database transaction, guarded by the optimistic version check.
func (s *SQLiteStore) CommitTurn(conversationID string, entries []models.TranscriptEntry, patch models.SessionPatch, responses []models.ItemResponse, expectedVersion int64) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin turn commit: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE conversation_id = ?`, conversationID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore CommitTurn read failed", "error", err, "conversationID", conversationID)
		return err
	}
	if sess.Version != expectedVersion {
		slog.Warn("SQLiteStore CommitTurn version conflict", "conversationID", conversationID,
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

	res, err := tx.Exec(`UPDATE sessions SET status = ?, transcript = ?, risk_flags = ?, question_state = ?, version = version + 1, updated_at = ?
		WHERE conversation_id = ? AND version = ?`,
		sess.Status, transcriptJSON, riskFlagsJSON, questionStateJSON, time.Now(), conversationID, expectedVersion)
	if err != nil {
		slog.Error("SQLiteStore CommitTurn write failed", "error", err, "conversationID", conversationID)
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
		if _, err := tx.Exec(`INSERT OR REPLACE INTO item_responses (session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			resp.SessionID, resp.ItemID, resp.Score, resp.Ambiguity, quotesJSON, evidenceJSON, resp.Confidence, resp.UpdatedAt); err != nil {
			slog.Error("SQLiteStore CommitTurn response write failed", "error", err, "itemID", resp.ItemID)
			return fmt.Errorf("failed to commit response for item %s: %w", resp.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("SQLiteStore CommitTurn succeeded", "conversationID", conversationID,
		"entries", len(entries), "responses", len(responses), "newVersion", expectedVersion+1)
	return nil
}

// AppendTranscriptEntry appends one entry and returns its message index.
func (s *SQLiteStore) AppendTranscriptEntry(conversationID string, entry models.TranscriptEntry) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var transcriptJSON string
	err = tx.QueryRow(`SELECT transcript FROM sessions WHERE conversation_id = ?`, conversationID).Scan(&transcriptJSON)
	if err == sql.ErrNoRows {
		return 0, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore AppendTranscriptEntry read failed", "error", err, "conversationID", conversationID)
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

	if _, err := tx.Exec(`UPDATE sessions SET transcript = ?, updated_at = ? WHERE conversation_id = ?`,
		updated, time.Now(), conversationID); err != nil {
		slog.Error("SQLiteStore AppendTranscriptEntry write failed", "error", err, "conversationID", conversationID)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transcript append: %w", err)
	}
	index := len(transcript) - 1
	slog.Debug("SQLiteStore AppendTranscriptEntry succeeded", "conversationID", conversationID, "index", index)
	return index, nil
}

// UpsertItemResponse persists a response, overwriting by (session, item).
func (s *SQLiteStore) UpsertItemResponse(resp models.ItemResponse) error {
	quotesJSON, err := marshalJSON(resp.EvidenceQuotes)
	if err != nil {
		return err
	}
	evidenceJSON, err := marshalJSON(resp.Evidence)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO item_responses (session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.SessionID, resp.ItemID, resp.Score, resp.Ambiguity, quotesJSON, evidenceJSON, resp.Confidence, resp.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore UpsertItemResponse failed", "error", err, "sessionID", resp.SessionID, "itemID", resp.ItemID)
		return fmt.Errorf("failed to upsert response for item %s: %w", resp.ItemID, err)
	}
	slog.Debug("SQLiteStore UpsertItemResponse succeeded", "sessionID", resp.SessionID, "itemID", resp.ItemID)
	return nil
}

// GetItemResponses returns all responses for a session.
func (s *SQLiteStore) GetItemResponses(sessionID string) ([]models.ItemResponse, error) {
	rows, err := s.db.Query(`SELECT session_id, item_id, score, ambiguity, evidence_quotes, evidence, confidence, updated_at
		FROM item_responses WHERE session_id = ? ORDER BY item_id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetItemResponses query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query item responses: %w", err)
	}
	defer rows.Close()

	var responses []models.ItemResponse
	for rows.Next() {
		resp, err := scanItemResponse(rows)
		if err != nil {
			slog.Error("SQLiteStore GetItemResponses scan failed", "error", err)
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
func (s *SQLiteStore) AddAuditEvent(ev models.AuditEvent) error {
	_, err := s.db.Exec(`INSERT INTO audit_events (id, session_id, kind, phase, item_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Kind, ev.Phase, nilIfEmpty(ev.ItemID), nilIfEmpty(ev.Detail), ev.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddAuditEvent failed", "error", err, "sessionID", ev.SessionID, "kind", ev.Kind)
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// GetAuditEvents returns a session's decision log in insertion order.
func (s *SQLiteStore) GetAuditEvents(sessionID string) ([]models.AuditEvent, error) {
	rows, err := s.db.Query(`SELECT id, session_id, kind, phase, item_id, detail, created_at
		FROM audit_events WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetAuditEvents query failed", "error", err, "sessionID", sessionID)
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
func (s *SQLiteStore) ListActiveSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, status, transcript, risk_flags, question_state, version, created_at, updated_at
		FROM sessions WHERE status = ?`, models.SessionStatusActive)
	if err != nil {
		slog.Error("SQLiteStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			slog.Error("SQLiteStore ListActiveSessions scan failed", "error", err)
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// isUniqueViolation reports whether the error is a unique constraint failure
// from either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
