package safety

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

type stubClassifier struct {
	result models.SafetyClassification
	err    error
	calls  int
}

func (s *stubClassifier) ClassifySafety(ctx context.Context, patientText string) (models.SafetyClassification, error) {
	s.calls++
	return s.result, s.err
}

func activeSession(phase models.InterviewPhase) models.Session {
	return models.Session{
		ID:     "sess-1",
		Status: models.SessionStatusActive,
		QuestionState: models.QuestionState{
			CurrentPhase:  phase,
			CurrentItemID: "D1",
		},
	}
}

func TestCheckSafeMessageProceeds(t *testing.T) {
	cls := &stubClassifier{result: models.SafetyClassification{Safe: true, Urgency: models.UrgencyNone}}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseAskItem), "I slept fine")
	if !res.Proceed {
		t.Error("safe message did not proceed")
	}
	if res.Terminated || res.Degraded {
		t.Errorf("unexpected flags: terminated=%v degraded=%v", res.Terminated, res.Degraded)
	}
	if res.Classification == nil {
		t.Error("classification not carried through")
	}
}

func TestCheckUnsafeMessageTerminates(t *testing.T) {
	cls := &stubClassifier{result: models.SafetyClassification{
		Safe:      false,
		Urgency:   models.UrgencyCritical,
		RiskFlags: models.RiskFlagsPatch{Suicidality: models.BoolPtr(true)},
	}}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseAskItem), "I want to end it")
	if !res.Terminated {
		t.Fatal("unsafe message did not terminate")
	}
	if res.Proceed {
		t.Error("terminated check still allowed proceed")
	}
	if res.Message != EscalationMessage {
		t.Error("escalation script not emitted")
	}
}

func TestCheckHighUrgencyForcesStop(t *testing.T) {
	// The classifier said safe but with high urgency; urgency wins.
	cls := &stubClassifier{result: models.SafetyClassification{Safe: true, Urgency: models.UrgencyHigh}}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseFollowUp), "it is getting worse fast")
	if !res.Terminated {
		t.Error("high urgency did not force a stop")
	}
	if res.Classification == nil || res.Classification.Safe {
		t.Error("classification not overridden to unsafe")
	}
}

func TestCheckMediumUrgencyDoesNotForceStop(t *testing.T) {
	cls := &stubClassifier{result: models.SafetyClassification{Safe: true, Urgency: models.UrgencyMedium}}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseAskItem), "some rough days")
	if res.Terminated {
		t.Error("medium urgency forced a stop")
	}
}

func TestCheckClassifierFailureDegrades(t *testing.T) {
	cls := &stubClassifier{err: errors.New("upstream timeout")}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseAskItem), "hello")
	if !res.Proceed {
		t.Error("degraded check blocked the turn")
	}
	if !res.Degraded {
		t.Error("degraded flag not set")
	}
	if res.Terminated {
		t.Error("classifier failure must not terminate the session")
	}
}

func TestCheckTerminatedSessionShortCircuits(t *testing.T) {
	cls := &stubClassifier{result: models.SafetyClassification{Safe: true}}
	p := NewProtocol(cls)

	sess := activeSession(models.PhaseSafetyStop)
	sess.Status = models.SessionStatusTerminatedForSafety

	res := p.Check(context.Background(), sess, "are you still there?")
	if !res.Terminated || !res.AlreadyTerminated {
		t.Fatalf("short-circuit flags wrong: %+v", res)
	}
	if res.Message != EscalationMessage {
		t.Error("escalation script not re-emitted")
	}
	if cls.calls != 0 {
		t.Errorf("classifier consulted %d times on a terminated session, want 0", cls.calls)
	}
}

func TestCheckSafetyStopPhaseAloneShortCircuits(t *testing.T) {
	cls := &stubClassifier{result: models.SafetyClassification{Safe: true}}
	p := NewProtocol(cls)

	res := p.Check(context.Background(), activeSession(models.PhaseSafetyStop), "hello")
	if !res.AlreadyTerminated {
		t.Error("SAFETY_STOP phase did not short-circuit")
	}
	if cls.calls != 0 {
		t.Error("classifier consulted despite SAFETY_STOP phase")
	}
}

func TestEscalationScriptContents(t *testing.T) {
	for _, want := range []string{"988", "741741", "911"} {
		if !strings.Contains(EscalationMessage, want) {
			t.Errorf("escalation script missing %q", want)
		}
	}
}
