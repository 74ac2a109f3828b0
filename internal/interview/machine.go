// Package interview implements the interview session core: the state machine
// over interview phases, the adaptive item selector, and the scoring
// orchestrator. Everything in this package is pure and synchronous; all I/O
// belongs to the engine and store layers.
package interview

import "github.com/BTreeMap/ScreenPipe/internal/models"

// EventType identifies an input to the state machine.
type EventType string

const (
	EventStartInterview   EventType = "START_INTERVIEW"
	EventPatientResponded EventType = "PATIENT_RESPONDED"
	EventTriggerFollowUp  EventType = "TRIGGER_FOLLOW_UP"
	EventMoveToNextItem   EventType = "MOVE_TO_NEXT_ITEM"
	EventAllItemsComplete EventType = "ALL_ITEMS_COMPLETE"
	EventSafetyTriggered  EventType = "SAFETY_TRIGGERED"
	EventReportComplete   EventType = "REPORT_COMPLETE"
)

// Event is one state machine input. ItemID is consulted only by events that
// enter ASK_ITEM.
type Event struct {
	Type   EventType
	ItemID string
}

// Outcome tags a transition result so callers and logs never have to compare
// contexts to discover whether anything happened.
type Outcome string

const (
	// OutcomeTransitioned means the event was valid and produced a new context.
	OutcomeTransitioned Outcome = "transitioned"
	// OutcomeIgnored means the event was not valid in the current phase and
	// the context is unchanged.
	OutcomeIgnored Outcome = "ignored"
)

// Result is the tagged output of Transition.
type Result struct {
	State   models.QuestionState
	Outcome Outcome
}

// Transition is the authoritative transition function over interview phases.
//
// It is total and pure: for any (phase, event) pair it either returns a new
// context or returns the input unchanged tagged Ignored. It never errors on
// an unexpected event. DONE and SAFETY_STOP are terminal: no event leaves
// them. SAFETY_TRIGGERED is accepted from ASK_ITEM, SCORE_ITEM, and FOLLOW_UP.
//
// Entering FOLLOW_UP records the current item into FollowUpUsedItems so the
// item can never be offered a second follow-up. Entering ASK_ITEM or REPORT
// updates CurrentItemID. No transition ever touches PendingItems or
// CompletedItems; progress mutation is the scoring orchestrator's job.
func Transition(qs models.QuestionState, ev Event) Result {
	if qs.CurrentPhase.IsTerminal() {
		return ignored(qs)
	}

	// Safety always wins over any other pending transition for the turn;
	// callers check it first.
	if ev.Type == EventSafetyTriggered {
		switch qs.CurrentPhase {
		case models.PhaseAskItem, models.PhaseScoreItem, models.PhaseFollowUp:
			next := qs.Clone()
			next.CurrentPhase = models.PhaseSafetyStop
			return transitioned(next)
		default:
			return ignored(qs)
		}
	}

	switch qs.CurrentPhase {
	case models.PhaseIntro:
		if ev.Type == EventStartInterview {
			return transitioned(enterAskItem(qs, ev.ItemID))
		}

	case models.PhaseAskItem:
		if ev.Type == EventPatientResponded {
			next := qs.Clone()
			next.CurrentPhase = models.PhaseScoreItem
			return transitioned(next)
		}

	case models.PhaseScoreItem:
		switch ev.Type {
		case EventTriggerFollowUp:
			return transitioned(enterFollowUp(qs))
		case EventMoveToNextItem:
			return transitioned(enterAskItem(qs, ev.ItemID))
		case EventAllItemsComplete:
			return transitioned(enterReport(qs))
		}

	case models.PhaseFollowUp:
		switch ev.Type {
		case EventPatientResponded:
			next := qs.Clone()
			next.CurrentPhase = models.PhaseScoreItem
			return transitioned(next)
		case EventMoveToNextItem:
			return transitioned(enterAskItem(qs, ev.ItemID))
		case EventAllItemsComplete:
			return transitioned(enterReport(qs))
		}

	case models.PhaseReport:
		if ev.Type == EventReportComplete {
			next := qs.Clone()
			next.CurrentPhase = models.PhaseDone
			return transitioned(next)
		}
	}

	return ignored(qs)
}

func enterAskItem(qs models.QuestionState, itemID string) models.QuestionState {
	next := qs.Clone()
	next.CurrentPhase = models.PhaseAskItem
	next.CurrentItemID = itemID
	next.IsFollowUp = false
	return next
}

func enterFollowUp(qs models.QuestionState) models.QuestionState {
	next := qs.Clone()
	next.CurrentPhase = models.PhaseFollowUp
	next.IsFollowUp = true
	if next.CurrentItemID != "" && !next.HasUsedFollowUp(next.CurrentItemID) {
		next.FollowUpUsedItems = append(next.FollowUpUsedItems, next.CurrentItemID)
	}
	return next
}

func enterReport(qs models.QuestionState) models.QuestionState {
	next := qs.Clone()
	next.CurrentPhase = models.PhaseReport
	next.CurrentItemID = ""
	next.IsFollowUp = false
	return next
}

func transitioned(qs models.QuestionState) Result {
	return Result{State: qs, Outcome: OutcomeTransitioned}
}

func ignored(qs models.QuestionState) Result {
	return Result{State: qs, Outcome: OutcomeIgnored}
}
