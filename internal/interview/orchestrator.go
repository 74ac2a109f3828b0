package interview

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/evidence"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/registry"
)

// ScoringInput carries one turn's scoring oracle output into the orchestrator.
type ScoringInput struct {
	// PrimaryItemID is the item the current question asked about. Follow-up
	// eligibility is evaluated for this item only.
	PrimaryItemID string
	// AdditionalItemIDs are other items the response also addressed.
	AdditionalItemIDs []string
	// PatientText is the raw patient message that was scored.
	PatientText string
	// MessageIndex is the transcript index of the patient message.
	MessageIndex int
	// Result is the external scorer's per-item output plus risk-flags patch.
	Result models.ScoreResult
}

// ScoringOutcome is the complete, not-yet-persisted effect of one scoring
// turn. The caller commits all of it together or none of it.
type ScoringOutcome struct {
	Responses      []models.ItemResponse
	QuestionState  models.QuestionState
	RiskFlags      models.RiskFlags
	Status         models.SessionStatus
	NextPhase      models.InterviewPhase
	NextItemID     string
	ShouldFollowUp bool
}

// Orchestrator applies an external scorer's output to session state.
type Orchestrator struct {
	extractor *evidence.Extractor
}

// NewOrchestrator creates an orchestrator using the given evidence extractor.
// A nil extractor gets the default interviewer-text detector.
func NewOrchestrator(extractor *evidence.Extractor) *Orchestrator {
	if extractor == nil {
		extractor = evidence.NewExtractor(nil)
	}
	return &Orchestrator{extractor: extractor}
}

// ApplyScores validates the scoring input against the session, builds the
// item responses with extracted and validated evidence, moves scored items
// from pending to completed, merges the risk-flags patch monotonically, and
// decides the next phase with the strict priority order
// SAFETY_STOP > REPORT > FOLLOW_UP > ASK_ITEM.
//
// The function is pure with respect to the session: it never mutates its
// input, and it validates everything before computing any effect, so a
// returned error means no state changed anywhere.
func (o *Orchestrator) ApplyScores(sess models.Session, in ScoringInput, prior map[string]int, now time.Time) (ScoringOutcome, error) {
	if sess.QuestionState.CurrentPhase != models.PhaseScoreItem {
		return ScoringOutcome{}, fmt.Errorf("%w: scoring attempted in phase %s", models.ErrInvalidTransition, sess.QuestionState.CurrentPhase)
	}

	// Reject unknown item ids before any mutation.
	for _, id := range append([]string{in.PrimaryItemID}, in.AdditionalItemIDs...) {
		if !registry.IsKnownItem(id) {
			return ScoringOutcome{}, fmt.Errorf("%w: %q", models.ErrUnknownItem, id)
		}
	}
	for _, is := range in.Result.PerItem {
		if !registry.IsKnownItem(is.ItemID) {
			return ScoringOutcome{}, fmt.Errorf("%w: %q", models.ErrUnknownItem, is.ItemID)
		}
		if err := is.Validate(); err != nil {
			return ScoringOutcome{}, fmt.Errorf("item %s: %w", is.ItemID, err)
		}
	}

	qs := sess.QuestionState.Clone()
	scores := make(map[string]int, len(prior)+len(in.Result.PerItem))
	for id, s := range prior {
		scores[id] = s
	}

	var primaryScore *models.ItemScore
	responses := make([]models.ItemResponse, 0, len(in.Result.PerItem))
	for _, is := range in.Result.PerItem {
		ev := o.extractor.Extract(in.PatientText, is.EvidenceQuotes, in.MessageIndex, "")
		if vr := evidence.ValidateSpan(ev, in.PatientText); !vr.Valid {
			slog.Warn("Orchestrator.ApplyScores: downgrading invalid evidence span",
				"itemID", is.ItemID, "issues", vr.Issues)
			ev = evidence.Downgrade(ev)
		}

		quotes := is.EvidenceQuotes
		if len(quotes) > models.MaxEvidenceQuotes {
			quotes = quotes[:models.MaxEvidenceQuotes]
		}
		responses = append(responses, models.ItemResponse{
			SessionID:      sess.ID,
			ItemID:         is.ItemID,
			Score:          is.Score,
			Ambiguity:      is.Ambiguity,
			EvidenceQuotes: append([]string(nil), quotes...),
			Evidence:       ev,
			Confidence:     is.Confidence,
			UpdatedAt:      now,
		})

		qs = completeItem(qs, is.ItemID)
		scores[is.ItemID] = is.Score
		if is.ItemID == in.PrimaryItemID {
			copied := is
			primaryScore = &copied
		}
	}

	flags := sess.RiskFlags.Merge(in.Result.RiskFlagsPatch)

	shouldFollowUp := false
	if primaryScore != nil && !qs.HasUsedFollowUp(in.PrimaryItemID) {
		shouldFollowUp = primaryScore.Ambiguity >= models.AmbiguityFollowUpThreshold ||
			primaryScore.Score >= models.ScoreFollowUpThreshold
	}

	outcome := ScoringOutcome{
		Responses:      responses,
		RiskFlags:      flags,
		Status:         sess.Status,
		ShouldFollowUp: shouldFollowUp,
	}

	// Next phase, strict priority order.
	switch {
	case in.Result.RiskFlagsPatch.IntroducesCritical(sess.RiskFlags):
		res := Transition(qs, Event{Type: EventSafetyTriggered})
		outcome.QuestionState = res.State
		outcome.NextPhase = models.PhaseSafetyStop
		outcome.Status = models.SessionStatusTerminatedForSafety

	case len(qs.PendingItems) == 0:
		res := Transition(qs, Event{Type: EventAllItemsComplete})
		outcome.QuestionState = res.State
		outcome.NextPhase = models.PhaseReport
		outcome.Status = models.SessionStatusCompleted

	case shouldFollowUp:
		res := Transition(qs, Event{Type: EventTriggerFollowUp})
		outcome.QuestionState = res.State
		outcome.NextPhase = models.PhaseFollowUp

	default:
		nextID, ok := SelectNextItem(qs.PendingItems, qs.CompletedItems, scores)
		if !ok {
			// Pending non-empty yet nothing selectable would be a registry bug.
			return ScoringOutcome{}, fmt.Errorf("selector returned no item with %d pending", len(qs.PendingItems))
		}
		res := Transition(qs, Event{Type: EventMoveToNextItem, ItemID: nextID})
		outcome.QuestionState = res.State
		outcome.NextPhase = models.PhaseAskItem
		outcome.NextItemID = nextID
	}

	slog.Debug("Orchestrator.ApplyScores: turn computed",
		"primaryItem", in.PrimaryItemID,
		"scoredItems", len(responses),
		"nextPhase", outcome.NextPhase,
		"shouldFollowUp", shouldFollowUp,
		"pendingLeft", len(outcome.QuestionState.PendingItems))
	return outcome, nil
}

// completeItem moves the item from pending to completed, preserving the
// disjoint-and-exhaustive invariant. Re-scoring an already completed item
// leaves the sets untouched.
func completeItem(qs models.QuestionState, itemID string) models.QuestionState {
	if !qs.IsPending(itemID) {
		return qs
	}
	next := qs.Clone()
	pending := next.PendingItems[:0]
	for _, id := range next.PendingItems {
		if id != itemID {
			pending = append(pending, id)
		}
	}
	next.PendingItems = pending
	next.CompletedItems = append(next.CompletedItems, itemID)
	return next
}
