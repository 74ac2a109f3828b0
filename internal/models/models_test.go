package models

import (
	"errors"
	"testing"
)

func TestRiskFlagsMergeIsMonotonic(t *testing.T) {
	flags := RiskFlags{Suicidality: true}

	// A false pointer must never clear a set flag.
	merged := flags.Merge(RiskFlagsPatch{Suicidality: BoolPtr(false)})
	if !merged.Suicidality {
		t.Error("false patch cleared a set flag")
	}

	merged = flags.Merge(RiskFlagsPatch{SubstanceUse: BoolPtr(true)})
	if !merged.Suicidality || !merged.SubstanceUse {
		t.Errorf("merge lost flags: %+v", merged)
	}

	// Nil fields are no-ops.
	merged = flags.Merge(RiskFlagsPatch{})
	if merged != flags {
		t.Errorf("empty patch changed flags: %+v", merged)
	}
}

func TestRiskFlagsPatchIsZero(t *testing.T) {
	if !(RiskFlagsPatch{}).IsZero() {
		t.Error("empty patch not zero")
	}
	if (RiskFlagsPatch{ViolenceRisk: BoolPtr(false)}).IsZero() {
		t.Error("patch with a pointer reported zero")
	}
}

func TestIntroducesCritical(t *testing.T) {
	cases := []struct {
		name     string
		patch    RiskFlagsPatch
		existing RiskFlags
		want     bool
	}{
		{"new suicidality", RiskFlagsPatch{Suicidality: BoolPtr(true)}, RiskFlags{}, true},
		{"new self-harm", RiskFlagsPatch{SelfHarmIdeation: BoolPtr(true)}, RiskFlags{}, true},
		{"new violence", RiskFlagsPatch{ViolenceRisk: BoolPtr(true)}, RiskFlags{}, true},
		{"already set", RiskFlagsPatch{Suicidality: BoolPtr(true)}, RiskFlags{Suicidality: true}, false},
		{"substance use is not critical", RiskFlagsPatch{SubstanceUse: BoolPtr(true)}, RiskFlags{}, false},
		{"false pointer", RiskFlagsPatch{Suicidality: BoolPtr(false)}, RiskFlags{}, false},
		{"empty patch", RiskFlagsPatch{}, RiskFlags{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.patch.IntroducesCritical(tc.existing); got != tc.want {
				t.Errorf("IntroducesCritical = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAnyCritical(t *testing.T) {
	if (RiskFlags{}).AnyCritical() {
		t.Error("empty flags reported critical")
	}
	if (RiskFlags{SubstanceUse: true}).AnyCritical() {
		t.Error("substance use alone reported critical")
	}
	if !(RiskFlags{SelfHarmIdeation: true}).AnyCritical() {
		t.Error("self-harm ideation not reported critical")
	}
}

func TestSessionPatchApply(t *testing.T) {
	sess := Session{
		Status:    SessionStatusActive,
		RiskFlags: RiskFlags{Suicidality: true},
		QuestionState: QuestionState{
			CurrentPhase: PhaseAskItem,
			PendingItems: []string{"D1"},
		},
	}

	status := SessionStatusTerminatedForSafety
	qs := QuestionState{CurrentPhase: PhaseSafetyStop}
	patch := SessionPatch{
		Status: &status,
		// The replacement flags omit suicidality; monotonicity must keep it.
		RiskFlags:     &RiskFlags{ViolenceRisk: true},
		QuestionState: &qs,
	}
	patch.Apply(&sess)

	if sess.Status != SessionStatusTerminatedForSafety {
		t.Errorf("Status = %s", sess.Status)
	}
	if !sess.RiskFlags.Suicidality || !sess.RiskFlags.ViolenceRisk {
		t.Errorf("flags = %+v, want suicidality and violence both set", sess.RiskFlags)
	}
	if sess.QuestionState.CurrentPhase != PhaseSafetyStop {
		t.Errorf("phase = %s", sess.QuestionState.CurrentPhase)
	}
}

func TestSessionPatchApplyNilFields(t *testing.T) {
	sess := Session{Status: SessionStatusActive, QuestionState: QuestionState{CurrentPhase: PhaseAskItem}}
	(SessionPatch{}).Apply(&sess)
	if sess.Status != SessionStatusActive || sess.QuestionState.CurrentPhase != PhaseAskItem {
		t.Error("empty patch modified the session")
	}
}

func TestQuestionStateClone(t *testing.T) {
	qs := QuestionState{
		PendingItems:      []string{"D1", "D2"},
		CompletedItems:    []string{"A1"},
		FollowUpUsedItems: []string{"A1"},
		CurrentPhase:      PhaseAskItem,
	}
	clone := qs.Clone()
	clone.PendingItems[0] = "mutated"
	clone.CompletedItems[0] = "mutated"

	if qs.PendingItems[0] != "D1" || qs.CompletedItems[0] != "A1" {
		t.Error("Clone shares slice storage with the original")
	}
}

func TestSessionClone(t *testing.T) {
	sess := Session{
		ID:         "s1",
		Transcript: []TranscriptEntry{{Role: RolePatient, Text: "hi"}},
		QuestionState: QuestionState{
			PendingItems: []string{"D1"},
		},
	}
	clone := sess.Clone()
	clone.Transcript[0].Text = "mutated"
	clone.QuestionState.PendingItems[0] = "mutated"

	if sess.Transcript[0].Text != "hi" {
		t.Error("Clone shares transcript storage")
	}
	if sess.QuestionState.PendingItems[0] != "D1" {
		t.Error("Clone shares question state storage")
	}
}

func TestItemScoreValidate(t *testing.T) {
	valid := ItemScore{ItemID: "D1", Score: 2, Ambiguity: 5}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid score rejected: %v", err)
	}

	cases := []struct {
		name  string
		score ItemScore
		want  error
	}{
		{"empty id", ItemScore{Score: 1, Ambiguity: 1}, ErrEmptyItemID},
		{"score too high", ItemScore{ItemID: "D1", Score: 5, Ambiguity: 1}, ErrScoreOutOfRange},
		{"score negative", ItemScore{ItemID: "D1", Score: -1, Ambiguity: 1}, ErrScoreOutOfRange},
		{"ambiguity low", ItemScore{ItemID: "D1", Score: 1, Ambiguity: 0}, ErrAmbiguityOutOfRange},
		{"ambiguity high", ItemScore{ItemID: "D1", Score: 1, Ambiguity: 11}, ErrAmbiguityOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.score.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUrgencyForcesStop(t *testing.T) {
	forcing := []Urgency{UrgencyHigh, UrgencyCritical}
	for _, u := range forcing {
		if !u.ForcesStop() {
			t.Errorf("%s.ForcesStop() = false, want true", u)
		}
	}
	for _, u := range []Urgency{UrgencyNone, UrgencyLow, UrgencyMedium} {
		if u.ForcesStop() {
			t.Errorf("%s.ForcesStop() = true, want false", u)
		}
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	for _, p := range []InterviewPhase{PhaseDone, PhaseSafetyStop} {
		if !p.IsTerminal() {
			t.Errorf("%s not terminal", p)
		}
	}
	for _, p := range []InterviewPhase{PhaseIntro, PhaseAskItem, PhaseScoreItem, PhaseFollowUp, PhaseReport} {
		if p.IsTerminal() {
			t.Errorf("%s reported terminal", p)
		}
	}
}
