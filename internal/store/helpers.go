package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// touch refreshes the session's updated-at timestamp.
func touch(sess *models.Session) {
	sess.UpdatedAt = time.Now()
}

// validatePatch rejects patches carrying a status outside the known set
// before any of the patch is applied.
func validatePatch(patch models.SessionPatch) error {
	if patch.Status != nil && !models.IsValidSessionStatus(*patch.Status) {
		return fmt.Errorf("%w: %q", models.ErrInvalidStatus, *patch.Status)
	}
	return nil
}

// marshalJSON serializes v for a JSON text column.
func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal for storage: %w", err)
	}
	return string(data), nil
}

// scanSession scans one session row. Column order: id, conversation_id,
// status, transcript, risk_flags, question_state, version, created_at,
// updated_at.
func scanSession(scan func(dest ...interface{}) error) (*models.Session, error) {
	var sess models.Session
	var transcriptJSON, riskFlagsJSON, questionStateJSON string
	err := scan(
		&sess.ID, &sess.ConversationID, &sess.Status,
		&transcriptJSON, &riskFlagsJSON, &questionStateJSON,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(riskFlagsJSON), &sess.RiskFlags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk flags: %w", err)
	}
	if err := json.Unmarshal([]byte(questionStateJSON), &sess.QuestionState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question state: %w", err)
	}
	return &sess, nil
}

// scanItemResponse scans one item response row. Column order: session_id,
// item_id, score, ambiguity, evidence_quotes, evidence, confidence,
// updated_at.
func scanItemResponse(rows *sql.Rows) (models.ItemResponse, error) {
	var resp models.ItemResponse
	var quotesJSON, evidenceJSON sql.NullString
	var confidence sql.NullFloat64
	err := rows.Scan(
		&resp.SessionID, &resp.ItemID, &resp.Score, &resp.Ambiguity,
		&quotesJSON, &evidenceJSON, &confidence, &resp.UpdatedAt,
	)
	if err != nil {
		return resp, fmt.Errorf("scan item response failed: %w", err)
	}
	if quotesJSON.Valid && quotesJSON.String != "" {
		if err := json.Unmarshal([]byte(quotesJSON.String), &resp.EvidenceQuotes); err != nil {
			return resp, fmt.Errorf("failed to unmarshal evidence quotes: %w", err)
		}
	}
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		if err := json.Unmarshal([]byte(evidenceJSON.String), &resp.Evidence); err != nil {
			return resp, fmt.Errorf("failed to unmarshal evidence span: %w", err)
		}
	}
	if confidence.Valid {
		resp.Confidence = confidence.Float64
	}
	return resp, nil
}

// scanAuditEvent scans one audit event row. Column order: id, session_id,
// kind, phase, item_id, detail, created_at.
func scanAuditEvent(rows *sql.Rows) (models.AuditEvent, error) {
	var ev models.AuditEvent
	var itemID, detail sql.NullString
	err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Phase, &itemID, &detail, &ev.CreatedAt)
	if err != nil {
		return ev, fmt.Errorf("scan audit event failed: %w", err)
	}
	ev.ItemID = itemID.String
	ev.Detail = detail.String
	return ev, nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
