// Package models defines the core data structures for ScreenPipe.
//
// It includes types for interview sessions, transcript entries, item responses,
// evidence spans, and risk flags, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// SessionStatus represents the lifecycle status of an interview session.
type SessionStatus string

const (
	// SessionStatusActive indicates the interview is in progress.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted indicates all items were answered and the report phase was reached.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusTerminatedForSafety indicates the safety hard-stop fired.
	SessionStatusTerminatedForSafety SessionStatus = "terminated_for_safety"
)

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusTerminatedForSafety:
		return true
	default:
		return false
	}
}

// Role identifies who produced a transcript entry.
type Role string

const (
	// RolePatient marks a message written by the patient.
	RolePatient Role = "patient"
	// RoleInterviewer marks a message produced by the interviewer side.
	RoleInterviewer Role = "interviewer"
)

// TranscriptEntry is one message in a session's append-only transcript.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// InterviewPhase represents a phase of the interview state machine.
type InterviewPhase string

const (
	PhaseIntro      InterviewPhase = "INTRO"
	PhaseAskItem    InterviewPhase = "ASK_ITEM"
	PhaseScoreItem  InterviewPhase = "SCORE_ITEM"
	PhaseFollowUp   InterviewPhase = "FOLLOW_UP"
	PhaseReport     InterviewPhase = "REPORT"
	PhaseDone       InterviewPhase = "DONE"
	PhaseSafetyStop InterviewPhase = "SAFETY_STOP"
)

// IsTerminal reports whether no event can transition out of the phase.
func (p InterviewPhase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseSafetyStop
}

// QuestionState tracks interview progress for a session.
//
// Invariant: PendingItems and CompletedItems are disjoint and their union is
// always the full item id set from the registry, for the life of the session.
type QuestionState struct {
	PendingItems      []string       `json:"pending_items"`
	CompletedItems    []string       `json:"completed_items"`
	CurrentPhase      InterviewPhase `json:"current_phase"`
	CurrentItemID     string         `json:"current_item_id,omitempty"` // empty means none
	IsFollowUp        bool           `json:"is_follow_up"`
	FollowUpUsedItems []string       `json:"follow_up_used_items,omitempty"`
}

// Clone returns a deep copy of the question state.
func (qs QuestionState) Clone() QuestionState {
	out := qs
	out.PendingItems = append([]string(nil), qs.PendingItems...)
	out.CompletedItems = append([]string(nil), qs.CompletedItems...)
	out.FollowUpUsedItems = append([]string(nil), qs.FollowUpUsedItems...)
	return out
}

// HasUsedFollowUp reports whether the item has already consumed its one allowed follow-up.
func (qs QuestionState) HasUsedFollowUp(itemID string) bool {
	for _, id := range qs.FollowUpUsedItems {
		if id == itemID {
			return true
		}
	}
	return false
}

// IsPending reports whether the item has not been answered yet.
func (qs QuestionState) IsPending(itemID string) bool {
	for _, id := range qs.PendingItems {
		if id == itemID {
			return true
		}
	}
	return false
}

// RiskFlags holds the four independent risk booleans for a session.
//
// Invariant: monotonic. Once a flag is true within a session, no merge may
// reset it to false.
type RiskFlags struct {
	Suicidality      bool `json:"suicidality"`
	SelfHarmIdeation bool `json:"self_harm_ideation"`
	ViolenceRisk     bool `json:"violence_risk"`
	SubstanceUse     bool `json:"substance_use"`
}

// AnyCritical reports whether any flag that mandates a safety stop is set.
// SubstanceUse is a screening signal, not a critical flag.
func (f RiskFlags) AnyCritical() bool {
	return f.Suicidality || f.SelfHarmIdeation || f.ViolenceRisk
}

// EvidenceType classifies how an evidence span supports a score.
type EvidenceType string

const (
	// EvidenceDirectSpan cites a literal character range of a patient message.
	EvidenceDirectSpan EvidenceType = "direct_span"
	// EvidenceInferred marks evidence derived from the response without a locatable quote.
	EvidenceInferred EvidenceType = "inferred"
	// EvidenceNone marks a response with no supporting evidence recorded.
	EvidenceNone EvidenceType = "none"
)

// Evidence strength defaults per evidence type.
const (
	DirectSpanStrength = 0.9
	InferredStrength   = 0.5
)

// MaxEvidenceSpans is the maximum number of character spans kept per response.
const MaxEvidenceSpans = 3

// MaxEvidenceQuotes is the maximum number of raw quotes kept per response.
const MaxEvidenceQuotes = 3

// SpanRange is a half-open character range [Start, End) within a message text.
type SpanRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EvidenceSpan is the structured, bounds-checked evidence for one item response.
//
// Invariant: if Type is direct_span, every span satisfies
// 0 <= Start < End <= len(referenced message text) and the referenced
// transcript entry has role patient.
type EvidenceSpan struct {
	Type         EvidenceType `json:"type"`
	MessageIndex int          `json:"message_index"`
	Spans        []SpanRange  `json:"spans,omitempty"`
	Strength     float64      `json:"strength"`
	Summary      string       `json:"summary,omitempty"`
}

// Score and ambiguity bounds for item responses.
const (
	MinItemScore = 0
	MaxItemScore = 4
	MinAmbiguity = 1
	MaxAmbiguity = 10
)

// AmbiguityFollowUpThreshold is the ambiguity rating at or above which a
// follow-up is warranted.
const AmbiguityFollowUpThreshold = 7

// ScoreFollowUpThreshold is the item score at or above which a follow-up is
// warranted.
const ScoreFollowUpThreshold = 2

// ItemResponse is the scored answer for one screening item.
// One logical response exists per item per session; re-scoring overwrites.
type ItemResponse struct {
	SessionID      string       `json:"session_id"`
	ItemID         string       `json:"item_id"`
	Score          int          `json:"score"`     // 0..4 frequency scale
	Ambiguity      int          `json:"ambiguity"` // 1..10
	EvidenceQuotes []string     `json:"evidence_quotes,omitempty"`
	Evidence       EvidenceSpan `json:"evidence"`
	Confidence     float64      `json:"confidence,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Session is one interview conversation, owned exclusively by one conversation id.
type Session struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Status         SessionStatus     `json:"status"`
	Transcript     []TranscriptEntry `json:"transcript"`
	RiskFlags      RiskFlags         `json:"risk_flags"`
	QuestionState  QuestionState     `json:"question_state"`
	Version        int64             `json:"version"` // optimistic concurrency token
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	out.QuestionState = s.QuestionState.Clone()
	return out
}

// Urgency grades the severity of detected risk language.
type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ForcesStop reports whether the urgency level alone mandates termination.
func (u Urgency) ForcesStop() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

// SafetyClassification is the result of running a patient message through the
// safety classifier oracle.
type SafetyClassification struct {
	Safe      bool           `json:"safe"`
	RiskFlags RiskFlagsPatch `json:"risk_flags"`
	Urgency   Urgency        `json:"urgency"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ItemScore is the scoring oracle's output for a single item.
type ItemScore struct {
	ItemID         string   `json:"item_id"`
	Score          int      `json:"score"`
	Ambiguity      int      `json:"ambiguity"`
	EvidenceQuotes []string `json:"evidence_quotes,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// Validate checks the score and ambiguity bounds.
func (is ItemScore) Validate() error {
	if is.ItemID == "" {
		return ErrEmptyItemID
	}
	if is.Score < MinItemScore || is.Score > MaxItemScore {
		return ErrScoreOutOfRange
	}
	if is.Ambiguity < MinAmbiguity || is.Ambiguity > MaxAmbiguity {
		return ErrAmbiguityOutOfRange
	}
	return nil
}

// ScoreResult is the full scoring oracle output for one patient message.
type ScoreResult struct {
	PerItem        []ItemScore    `json:"per_item"`
	RiskFlagsPatch RiskFlagsPatch `json:"risk_flags_patch"`
}

// AuditEventKind labels an entry in the authoritative decision log.
type AuditEventKind string

const (
	AuditItemSelected         AuditEventKind = "item_selected"
	AuditItemScored           AuditEventKind = "item_scored"
	AuditFollowUpTriggered    AuditEventKind = "follow_up_triggered"
	AuditPhaseTransition      AuditEventKind = "phase_transition"
	AuditSafetyTriggered      AuditEventKind = "safety_triggered"
	AuditSafetyCheckDegraded  AuditEventKind = "safety_check_degraded"
	AuditSessionCreated       AuditEventKind = "session_created"
	AuditInterviewCompleted   AuditEventKind = "interview_completed"
)

// AuditEvent records one engine decision with enough context for downstream
// auditors to reconstruct the interview exactly, without transcript heuristics.
type AuditEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Kind      AuditEventKind `json:"kind"`
	Phase     InterviewPhase `json:"phase"`
	ItemID    string         `json:"item_id,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyItemID         = errors.New("item id cannot be empty")
	ErrUnknownItem         = errors.New("unknown item id")
	ErrScoreOutOfRange     = errors.New("score must be between 0 and 4")
	ErrAmbiguityOutOfRange = errors.New("ambiguity must be between 1 and 10")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already exists for conversation")
	ErrSessionTerminated   = errors.New("session is terminated for safety")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrVersionConflict     = errors.New("session version conflict")
	ErrInvalidTransition   = errors.New("transition attempted from terminal state")
	ErrOracleFailure       = errors.New("oracle call failed")
	ErrEmptyPatientText    = errors.New("patient text cannot be empty")
	ErrInvalidStatus       = errors.New("unknown session status")
)
