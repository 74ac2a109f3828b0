// Package engine coordinates interview sessions: it serializes turns per
// conversation, runs the safety protocol before any scoring, invokes the
// scoring oracle and orchestrator, commits the resulting state through the
// store, and emits the authoritative audit log.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/ScreenPipe/internal/audit"
	"github.com/BTreeMap/ScreenPipe/internal/evidence"
	"github.com/BTreeMap/ScreenPipe/internal/genai"
	"github.com/BTreeMap/ScreenPipe/internal/interview"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/registry"
	"github.com/BTreeMap/ScreenPipe/internal/safety"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

// Default engine configuration.
const (
	// DefaultContextWindow is the number of recent transcript entries handed
	// to the scoring oracle.
	DefaultContextWindow = 6
	// DefaultSessionCacheSize bounds the in-process LRU session cache.
	DefaultSessionCacheSize = 256
)

// IntroMessage opens every interview before the first item is asked.
const IntroMessage = "Hello, I'm here to ask you some questions about how you've been feeling " +
	"over the last two weeks. There are no right or wrong answers; please answer in your own words. " +
	"You can stop at any time.\n\nLet's begin."

// CompletionMessage closes an interview once every item has been answered.
const CompletionMessage = "That was the last question. Thank you for taking the time to answer " +
	"so openly. Your responses have been recorded and a summary report will be prepared."

// followUpTemplate asks the one permitted clarifying question for an item.
const followUpTemplate = "Thank you for sharing that. Could you tell me a little more — roughly " +
	"how often has this been happening, and how much does it affect your day-to-day?"

// Opts holds engine configuration options.
type Opts struct {
	ContextWindow    int
	SessionCacheSize int
}

// Option configures the engine.
type Option func(*Opts)

// WithContextWindow sets the number of recent transcript entries given to the scorer.
func WithContextWindow(n int) Option {
	return func(o *Opts) { o.ContextWindow = n }
}

// WithSessionCacheSize sets the LRU session cache capacity.
func WithSessionCacheSize(n int) Option {
	return func(o *Opts) { o.SessionCacheSize = n }
}

// TurnResult is the outcome of one engine operation, carrying everything the
// transport layer needs to answer the patient.
type TurnResult struct {
	SessionID       string                `json:"session_id"`
	Status          models.SessionStatus  `json:"status"`
	Phase           models.InterviewPhase `json:"phase"`
	Reply           string                `json:"reply"`
	CurrentItemID   string                `json:"current_item_id,omitempty"`
	SafetyTriggered bool                  `json:"safety_triggered,omitempty"`
	SafetyDegraded  bool                  `json:"safety_degraded,omitempty"`
}

// Engine is the interview session coordinator. Sessions are independent;
// turns within one session are strictly sequential, enforced by a
// per-conversation mutex on top of the store's optimistic version check.
type Engine struct {
	store        store.Store
	oracle       genai.ClientInterface
	protocol     *safety.Protocol
	orchestrator *interview.Orchestrator
	recorder     *audit.Recorder
	cache        *lru.Cache[string, models.Session]
	locks        sync.Map // conversation id -> *sync.Mutex
	window       int
}

// New creates an engine over the given store and oracle client.
func New(st store.Store, oracle genai.ClientInterface, opts ...Option) (*Engine, error) {
	cfg := Opts{ContextWindow: DefaultContextWindow, SessionCacheSize: DefaultSessionCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache, err := lru.New[string, models.Session](cfg.SessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	slog.Debug("Engine.New: engine created", "contextWindow", cfg.ContextWindow, "cacheSize", cfg.SessionCacheSize)
	return &Engine{
		store:        st,
		oracle:       oracle,
		protocol:     safety.NewProtocol(oracle),
		orchestrator: interview.NewOrchestrator(evidence.NewExtractor(nil)),
		recorder:     audit.NewRecorder(st),
		cache:        cache,
		window:       cfg.ContextWindow,
	}, nil
}

// StartInterview creates the session for a conversation and asks the first item.
func (e *Engine) StartInterview(ctx context.Context, conversationID string) (*TurnResult, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	mu := e.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	sess := models.Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Status:         models.SessionStatusActive,
		QuestionState: models.QuestionState{
			PendingItems: registry.AllItemIDs(),
			CurrentPhase: models.PhaseIntro,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(sess); err != nil {
		slog.Error("Engine.StartInterview: create session failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	e.recorder.Record(sess.ID, models.AuditSessionCreated, models.PhaseIntro, "", "")

	firstItem, ok := interview.SelectNextItem(sess.QuestionState.PendingItems, nil, nil)
	if !ok {
		return nil, fmt.Errorf("registry yielded no first item")
	}
	res := interview.Transition(sess.QuestionState, interview.Event{Type: interview.EventStartInterview, ItemID: firstItem})
	if res.Outcome != interview.OutcomeTransitioned {
		return nil, fmt.Errorf("%w: START_INTERVIEW ignored in phase %s", models.ErrInvalidTransition, sess.QuestionState.CurrentPhase)
	}

	if err := e.store.UpdateSession(conversationID, models.SessionPatch{QuestionState: &res.State}, sess.Version); err != nil {
		slog.Error("Engine.StartInterview: persist failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	reply := IntroMessage + "\n\n" + itemQuestion(firstItem)
	if _, err := e.store.AppendTranscriptEntry(conversationID, models.TranscriptEntry{
		Role: models.RoleInterviewer, Text: reply, Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}
	e.cache.Remove(conversationID)

	e.recorder.Record(sess.ID, models.AuditItemSelected, models.PhaseAskItem, firstItem, "first item")
	e.recorder.Record(sess.ID, models.AuditPhaseTransition, models.PhaseAskItem, firstItem, "INTRO -> ASK_ITEM")

	slog.Info("Engine.StartInterview: interview started", "conversationID", conversationID,
		"sessionID", sess.ID, "firstItem", firstItem)
	return &TurnResult{
		SessionID:     sess.ID,
		Status:        models.SessionStatusActive,
		Phase:         models.PhaseAskItem,
		Reply:         reply,
		CurrentItemID: firstItem,
	}, nil
}

// HandleMessage processes one inbound patient message: safety check first,
// then scoring, progress update, and next-question selection. The whole turn
// commits as one store transaction; a failure anywhere leaves the session
// exactly as it was, so the caller can resend the same message.
func (e *Engine) HandleMessage(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	if text == "" {
		return nil, models.ErrEmptyPatientText
	}
	mu := e.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.getSession(conversationID)
	if err != nil {
		return nil, err
	}

	// Safety protocol gates everything, including the short-circuit for
	// sessions already terminated.
	check := e.protocol.Check(ctx, *sess, text)
	if check.AlreadyTerminated {
		return &TurnResult{
			SessionID:       sess.ID,
			Status:          sess.Status,
			Phase:           models.PhaseSafetyStop,
			Reply:           check.Message,
			SafetyTriggered: true,
		}, nil
	}

	// The patient entry is committed together with the rest of the turn, so
	// a failed turn leaves no trace and the same message can be resent.
	patientEntry := models.TranscriptEntry{Role: models.RolePatient, Text: text, Timestamp: time.Now()}
	msgIndex := len(sess.Transcript)

	if check.Terminated {
		return e.commitSafetyStop(conversationID, sess, check, patientEntry)
	}
	if check.Degraded {
		e.recorder.Record(sess.ID, models.AuditSafetyCheckDegraded, sess.QuestionState.CurrentPhase, "",
			"classifier unavailable, continuing unclassified")
	}

	phase := sess.QuestionState.CurrentPhase
	if phase != models.PhaseAskItem && phase != models.PhaseFollowUp {
		slog.Warn("Engine.HandleMessage: message outside a question phase",
			"conversationID", conversationID, "phase", phase)
		return nil, fmt.Errorf("%w: no question pending in phase %s", models.ErrSessionNotActive, phase)
	}
	primaryItem := sess.QuestionState.CurrentItemID
	if primaryItem == "" {
		return nil, fmt.Errorf("%w: no current item in phase %s", models.ErrInvalidTransition, phase)
	}

	// Move to SCORE_ITEM in memory only; nothing is persisted until scoring
	// succeeds, so an oracle failure leaves the turn fully retryable.
	scored := interview.Transition(sess.QuestionState, interview.Event{Type: interview.EventPatientResponded})
	working := sess.Clone()
	working.QuestionState = scored.State

	result, err := e.oracle.ScoreItems(ctx, []string{primaryItem}, text, e.recentContext(working.Transcript))
	if err != nil {
		slog.Error("Engine.HandleMessage: scoring oracle failed", "error", err,
			"conversationID", conversationID, "itemID", primaryItem)
		return nil, fmt.Errorf("scoring failed for item %s: %w", primaryItem, err)
	}

	prior, err := e.priorScores(sess.ID)
	if err != nil {
		return nil, err
	}

	var additional []string
	for _, is := range result.PerItem {
		if is.ItemID != primaryItem {
			additional = append(additional, is.ItemID)
		}
	}

	now := time.Now()
	outcome, err := e.orchestrator.ApplyScores(working, interview.ScoringInput{
		PrimaryItemID:     primaryItem,
		AdditionalItemIDs: additional,
		PatientText:       text,
		MessageIndex:      msgIndex,
		Result:            result,
	}, prior, now)
	if err != nil {
		return nil, err
	}

	// Risk signals from a safe classification (e.g. substance use) still
	// accumulate on the session; the merge is monotonic.
	if check.Classification != nil {
		outcome.RiskFlags = outcome.RiskFlags.Merge(check.Classification.RiskFlags)
	}

	// Commit the whole turn as one unit: patient entry, responses, progress,
	// flags, phase. A store failure here leaves nothing behind.
	patch := models.SessionPatch{
		Status:        &outcome.Status,
		RiskFlags:     &outcome.RiskFlags,
		QuestionState: &outcome.QuestionState,
	}
	if err := e.store.CommitTurn(conversationID, []models.TranscriptEntry{patientEntry}, patch, outcome.Responses, sess.Version); err != nil {
		slog.Error("Engine.HandleMessage: commit failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	e.cache.Remove(conversationID)

	scores := prior
	for _, resp := range outcome.Responses {
		scores[resp.ItemID] = resp.Score
		e.recorder.Record(sess.ID, models.AuditItemScored, models.PhaseScoreItem, resp.ItemID,
			fmt.Sprintf("score=%d ambiguity=%d", resp.Score, resp.Ambiguity))
	}

	return e.respondForOutcome(conversationID, sess.ID, primaryItem, outcome, scores, check.Degraded)
}

// CompleteReport acknowledges that the downstream report renderer finished,
// moving a REPORT session to DONE.
func (e *Engine) CompleteReport(ctx context.Context, conversationID string) error {
	mu := e.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.getSession(conversationID)
	if err != nil {
		return err
	}
	res := interview.Transition(sess.QuestionState, interview.Event{Type: interview.EventReportComplete})
	if res.Outcome != interview.OutcomeTransitioned {
		return fmt.Errorf("%w: REPORT_COMPLETE ignored in phase %s", models.ErrInvalidTransition, sess.QuestionState.CurrentPhase)
	}
	if err := e.store.UpdateSession(conversationID, models.SessionPatch{QuestionState: &res.State}, sess.Version); err != nil {
		return err
	}
	e.cache.Remove(conversationID)
	e.recorder.Record(sess.ID, models.AuditPhaseTransition, models.PhaseDone, "", "REPORT -> DONE")
	slog.Info("Engine.CompleteReport: session done", "conversationID", conversationID, "sessionID", sess.ID)
	return nil
}

// GetSession returns the session for a conversation, via the LRU cache.
func (e *Engine) GetSession(conversationID string) (*models.Session, error) {
	return e.getSession(conversationID)
}

// GetItemResponses returns the session's item responses from the store.
func (e *Engine) GetItemResponses(sessionID string) ([]models.ItemResponse, error) {
	return e.store.GetItemResponses(sessionID)
}

// GetAuditEvents returns the session's authoritative decision log.
func (e *Engine) GetAuditEvents(sessionID string) ([]models.AuditEvent, error) {
	return e.store.GetAuditEvents(sessionID)
}

// ListActiveSessions returns every session still accepting patient messages.
func (e *Engine) ListActiveSessions() ([]models.Session, error) {
	return e.store.ListActiveSessions()
}

// EvidenceIntegrity computes the evidence trust signal for a conversation's
// session from its persisted responses and transcript.
func (e *Engine) EvidenceIntegrity(conversationID string) (*evidence.IntegrityReport, error) {
	sess, err := e.getSession(conversationID)
	if err != nil {
		return nil, err
	}
	responses, err := e.store.GetItemResponses(sess.ID)
	if err != nil {
		return nil, err
	}
	report := evidence.ScoreIntegrity(responses, sess.Transcript)
	return &report, nil
}

// commitSafetyStop applies a fresh safety trigger: merges the classifier's
// risk flags, transitions to SAFETY_STOP, and emits the escalation script.
// The patient entry, escalation entry, and terminal patch commit together.
func (e *Engine) commitSafetyStop(conversationID string, sess *models.Session, check safety.CheckResult, patientEntry models.TranscriptEntry) (*TurnResult, error) {
	res := interview.Transition(sess.QuestionState, interview.Event{Type: interview.EventSafetyTriggered})
	qs := res.State
	if res.Outcome == interview.OutcomeIgnored {
		// Phase outside the machine's safety states (e.g. INTRO); the
		// protocol still owns the terminal status.
		qs = sess.QuestionState.Clone()
		qs.CurrentPhase = models.PhaseSafetyStop
	}

	flags := sess.RiskFlags
	urgency := models.UrgencyNone
	if check.Classification != nil {
		flags = flags.Merge(check.Classification.RiskFlags)
		urgency = check.Classification.Urgency
	}
	status := models.SessionStatusTerminatedForSafety
	patch := models.SessionPatch{Status: &status, RiskFlags: &flags, QuestionState: &qs}
	entries := []models.TranscriptEntry{
		patientEntry,
		{Role: models.RoleInterviewer, Text: check.Message, Timestamp: time.Now()},
	}
	if err := e.store.CommitTurn(conversationID, entries, patch, nil, sess.Version); err != nil {
		slog.Error("Engine.commitSafetyStop: persist failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	e.cache.Remove(conversationID)
	e.recorder.Record(sess.ID, models.AuditSafetyTriggered, models.PhaseSafetyStop, sess.QuestionState.CurrentItemID,
		fmt.Sprintf("urgency=%s", urgency))

	slog.Warn("Engine.commitSafetyStop: session terminated for safety",
		"conversationID", conversationID, "sessionID", sess.ID, "urgency", urgency)
	return &TurnResult{
		SessionID:       sess.ID,
		Status:          status,
		Phase:           models.PhaseSafetyStop,
		Reply:           check.Message,
		SafetyTriggered: true,
	}, nil
}

// respondForOutcome appends the interviewer's next message and builds the turn result.
func (e *Engine) respondForOutcome(conversationID, sessionID, primaryItem string, outcome interview.ScoringOutcome, scores map[string]int, degraded bool) (*TurnResult, error) {
	result := &TurnResult{
		SessionID:      sessionID,
		Status:         outcome.Status,
		Phase:          outcome.NextPhase,
		SafetyDegraded: degraded,
	}

	switch outcome.NextPhase {
	case models.PhaseSafetyStop:
		result.Reply = safety.EscalationMessage
		result.SafetyTriggered = true
		e.recorder.Record(sessionID, models.AuditSafetyTriggered, models.PhaseSafetyStop, primaryItem,
			"critical risk flag from scoring patch")

	case models.PhaseReport:
		result.Reply = CompletionMessage
		e.recorder.Record(sessionID, models.AuditInterviewCompleted, models.PhaseReport, "",
			flaggedDomainsDetail(scores))
		e.recorder.Record(sessionID, models.AuditPhaseTransition, models.PhaseReport, "", "SCORE_ITEM -> REPORT")

	case models.PhaseFollowUp:
		result.Reply = followUpTemplate
		result.CurrentItemID = primaryItem
		e.recorder.Record(sessionID, models.AuditFollowUpTriggered, models.PhaseFollowUp, primaryItem, "")

	default: // ASK_ITEM
		result.Reply = itemQuestion(outcome.NextItemID)
		result.CurrentItemID = outcome.NextItemID
		e.recorder.Record(sessionID, models.AuditItemSelected, models.PhaseAskItem, outcome.NextItemID, "")
		e.recorder.Record(sessionID, models.AuditPhaseTransition, models.PhaseAskItem, outcome.NextItemID, "SCORE_ITEM -> ASK_ITEM")
	}

	if _, err := e.store.AppendTranscriptEntry(conversationID, models.TranscriptEntry{
		Role: models.RoleInterviewer, Text: result.Reply, Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}
	e.cache.Remove(conversationID)
	return result, nil
}

// getSession reads through the LRU cache.
func (e *Engine) getSession(conversationID string) (*models.Session, error) {
	if cached, ok := e.cache.Get(conversationID); ok {
		cloned := cached.Clone()
		return &cloned, nil
	}
	sess, err := e.store.GetSession(conversationID)
	if err != nil {
		return nil, err
	}
	e.cache.Add(conversationID, sess.Clone())
	return sess, nil
}

// priorScores maps already persisted item responses to their scores, for the selector.
func (e *Engine) priorScores(sessionID string) (map[string]int, error) {
	responses, err := e.store.GetItemResponses(sessionID)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(responses))
	for _, resp := range responses {
		scores[resp.ItemID] = resp.Score
	}
	return scores, nil
}

// recentContext returns the last window transcript entries.
func (e *Engine) recentContext(transcript []models.TranscriptEntry) []models.TranscriptEntry {
	if len(transcript) <= e.window {
		return append([]models.TranscriptEntry(nil), transcript...)
	}
	return append([]models.TranscriptEntry(nil), transcript[len(transcript)-e.window:]...)
}

// lockFor returns the per-conversation mutex, creating it on first use.
func (e *Engine) lockFor(conversationID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// itemQuestion returns the canonical question text for an item.
func itemQuestion(itemID string) string {
	if item, ok := registry.ItemByID(itemID); ok {
		return item.Text
	}
	return ""
}

// flaggedDomainsDetail summarizes the flagged domains for the completion
// audit event.
func flaggedDomainsDetail(scores map[string]int) string {
	flagged := registry.FlaggedDomains(scores)
	if len(flagged) == 0 {
		return "no domains flagged"
	}
	names := make([]string, 0, len(flagged))
	for _, d := range flagged {
		names = append(names, string(d))
	}
	return "flagged domains: " + strings.Join(names, ", ")
}
