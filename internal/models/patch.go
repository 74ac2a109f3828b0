// Package models defines partial-update structures with explicit per-field
// merge semantics for ScreenPipe sessions.
package models

// RiskFlagsPatch is a partial risk-flag update. Nil fields leave the existing
// value untouched; merging is OR-only so a set flag can never be cleared.
type RiskFlagsPatch struct {
	Suicidality      *bool `json:"suicidality,omitempty"`
	SelfHarmIdeation *bool `json:"self_harm_ideation,omitempty"`
	ViolenceRisk     *bool `json:"violence_risk,omitempty"`
	SubstanceUse     *bool `json:"substance_use,omitempty"`
}

// IsZero reports whether the patch carries no updates at all.
func (p RiskFlagsPatch) IsZero() bool {
	return p.Suicidality == nil && p.SelfHarmIdeation == nil &&
		p.ViolenceRisk == nil && p.SubstanceUse == nil
}

// Merge applies the patch to existing flags with OR semantics. A patch field
// set to false is a no-op: flags are monotonic within a session.
func (f RiskFlags) Merge(p RiskFlagsPatch) RiskFlags {
	out := f
	if p.Suicidality != nil && *p.Suicidality {
		out.Suicidality = true
	}
	if p.SelfHarmIdeation != nil && *p.SelfHarmIdeation {
		out.SelfHarmIdeation = true
	}
	if p.ViolenceRisk != nil && *p.ViolenceRisk {
		out.ViolenceRisk = true
	}
	if p.SubstanceUse != nil && *p.SubstanceUse {
		out.SubstanceUse = true
	}
	return out
}

// IntroducesCritical reports whether applying the patch would set a critical
// flag (suicidality, self-harm ideation, or violence risk) that is currently
// false on the existing flags.
func (p RiskFlagsPatch) IntroducesCritical(existing RiskFlags) bool {
	if p.Suicidality != nil && *p.Suicidality && !existing.Suicidality {
		return true
	}
	if p.SelfHarmIdeation != nil && *p.SelfHarmIdeation && !existing.SelfHarmIdeation {
		return true
	}
	if p.ViolenceRisk != nil && *p.ViolenceRisk && !existing.ViolenceRisk {
		return true
	}
	return false
}

// SessionPatch is a partial session update applied by the store. Nil fields
// leave the stored value untouched. RiskFlags in a patch are whole-struct
// replacements that the caller has already merged monotonically.
type SessionPatch struct {
	Status        *SessionStatus `json:"status,omitempty"`
	RiskFlags     *RiskFlags     `json:"risk_flags,omitempty"`
	QuestionState *QuestionState `json:"question_state,omitempty"`
}

// Apply merges the patch into the session in place, field by field.
func (p SessionPatch) Apply(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.RiskFlags != nil {
		// Enforce monotonicity even on whole-struct replacement.
		s.RiskFlags = s.RiskFlags.Merge(RiskFlagsPatch{
			Suicidality:      &p.RiskFlags.Suicidality,
			SelfHarmIdeation: &p.RiskFlags.SelfHarmIdeation,
			ViolenceRisk:     &p.RiskFlags.ViolenceRisk,
			SubstanceUse:     &p.RiskFlags.SubstanceUse,
		})
	}
	if p.QuestionState != nil {
		s.QuestionState = p.QuestionState.Clone()
	}
}

// BoolPtr returns a pointer to b, for building patches inline.
func BoolPtr(b bool) *bool {
	return &b
}
