// Package safety implements the hard-stop protocol that gates every inbound
// patient message before any scoring or selection logic runs.
package safety

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// EscalationMessage is the fixed script produced once a session terminates
// for safety. It is the only output a terminated session may produce.
const EscalationMessage = "Thank you for telling me. I have to pause the screening here, because your " +
	"safety comes first. Please reach out for support right now: call or text 988 " +
	"(Suicide & Crisis Lifeline, available 24/7), or text HOME to 741741 (Crisis Text Line). " +
	"If you are in immediate danger, call 911 or go to the nearest emergency room. " +
	"You deserve support, and these people are there to help."

// Classifier is the pluggable natural-language risk detector.
type Classifier interface {
	ClassifySafety(ctx context.Context, patientText string) (models.SafetyClassification, error)
}

// CheckResult is the outcome of running one inbound message through the protocol.
type CheckResult struct {
	// Proceed is true when scoring and selection may run for this turn.
	Proceed bool
	// Terminated is true when the session is (or just became) safety-stopped.
	Terminated bool
	// AlreadyTerminated distinguishes a short-circuit re-emission from a
	// fresh trigger; the classifier is not consulted when it is set.
	AlreadyTerminated bool
	// Degraded is true when the classifier failed and the check fell open
	// toward caution: the turn continues, flagged for the audit log.
	Degraded bool
	// Classification is the classifier output when one was obtained.
	Classification *models.SafetyClassification
	// Message is the fixed escalation script when Terminated is set.
	Message string
}

// Protocol enforces the safety contract over the interview state machine.
type Protocol struct {
	classifier Classifier
}

// NewProtocol creates a safety protocol using the given classifier.
func NewProtocol(classifier Classifier) *Protocol {
	return &Protocol{classifier: classifier}
}

// Check classifies one inbound patient message for risk. It must run, and its
// result must be committed, before any scoring begins.
//
// A session already in SAFETY_STOP short-circuits: the escalation script is
// re-emitted without reclassifying. Urgency high or critical forces unsafe.
// Unsafe is an immediate, irrevocable termination regardless of phase. A
// classifier failure fails open toward caution but not toward termination:
// the message is treated as safe-to-continue and the degraded check is
// logged; the check is never silently skipped and never crashes the session.
func (p *Protocol) Check(ctx context.Context, sess models.Session, patientText string) CheckResult {
	if sess.Status == models.SessionStatusTerminatedForSafety ||
		sess.QuestionState.CurrentPhase == models.PhaseSafetyStop {
		slog.Info("SafetyProtocol.Check: session already terminated, re-emitting escalation",
			"sessionID", sess.ID)
		return CheckResult{
			Terminated:        true,
			AlreadyTerminated: true,
			Message:           EscalationMessage,
		}
	}

	classification, err := p.classifier.ClassifySafety(ctx, patientText)
	if err != nil {
		slog.Error("SafetyProtocol.Check: classifier failed, continuing with degraded check",
			"error", err, "sessionID", sess.ID)
		return CheckResult{Proceed: true, Degraded: true}
	}

	if classification.Urgency.ForcesStop() {
		classification.Safe = false
	}

	if !classification.Safe {
		slog.Warn("SafetyProtocol.Check: risk language detected, terminating session",
			"sessionID", sess.ID, "urgency", classification.Urgency)
		return CheckResult{
			Terminated:     true,
			Classification: &classification,
			Message:        EscalationMessage,
		}
	}

	slog.Debug("SafetyProtocol.Check: message classified safe",
		"sessionID", sess.ID, "urgency", classification.Urgency)
	return CheckResult{Proceed: true, Classification: &classification}
}
