package evidence

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// ValidationResult reports whether an evidence span is provably in-bounds.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// ValidateSpan checks a direct_span's character ranges against the patient
// text it claims to reference. Inferred and none evidence is always valid.
func ValidateSpan(ev models.EvidenceSpan, patientText string) ValidationResult {
	if ev.Type != models.EvidenceDirectSpan {
		return ValidationResult{Valid: true}
	}

	var issues []string
	for i, span := range ev.Spans {
		if span.Start < 0 {
			issues = append(issues, fmt.Sprintf("span %d: start %d is negative", i, span.Start))
		}
		if span.End > len(patientText) {
			issues = append(issues, fmt.Sprintf("span %d: end %d exceeds text length %d", i, span.End, len(patientText)))
		}
		if span.Start >= span.End {
			issues = append(issues, fmt.Sprintf("span %d: start %d is not before end %d", i, span.Start, span.End))
		}
	}
	if len(ev.Spans) == 0 {
		issues = append(issues, "direct_span evidence has no spans")
	}
	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// Downgrade converts evidence that failed validation to inferred with default
// strength. The system never persists an evidence span it cannot prove is
// in-bounds.
func Downgrade(ev models.EvidenceSpan) models.EvidenceSpan {
	out := ev
	out.Type = models.EvidenceInferred
	out.Strength = models.InferredStrength
	out.Spans = nil
	if out.Summary == "" {
		out.Summary = InferredSummaryPlaceholder
	}
	return out
}

// ItemIntegrity is the per-response detail line of an integrity report.
type ItemIntegrity struct {
	ItemID       string              `json:"item_id"`
	EvidenceType models.EvidenceType `json:"evidence_type"`
	Valid        bool                `json:"valid"`
	Leak         bool                `json:"leak"`
}

// IntegrityReport is the aggregate evidence trust signal for a session.
// Score = (validDirectSpans*1.0 + inferredItems*0.5) / totalItems.
type IntegrityReport struct {
	Score            float64         `json:"score"`
	TotalItems       int             `json:"total_items"`
	ValidDirectSpans int             `json:"valid_direct_spans"`
	InferredItems    int             `json:"inferred_items"`
	NoneItems        int             `json:"none_items"`
	LeakCount        int             `json:"leak_count"`
	Details          []ItemIntegrity `json:"details"`
	Issues           []string        `json:"issues,omitempty"`
}

// ScoreIntegrity classifies every response's evidence and verifies that
// direct evidence points at an existing, bounds-valid, patient-role
// transcript message. A span pointing at an interviewer message is a leak
// and is flagged, never silently accepted.
func ScoreIntegrity(responses []models.ItemResponse, transcript []models.TranscriptEntry) IntegrityReport {
	report := IntegrityReport{TotalItems: len(responses)}

	for _, resp := range responses {
		detail := ItemIntegrity{ItemID: resp.ItemID, EvidenceType: resp.Evidence.Type}

		switch resp.Evidence.Type {
		case models.EvidenceInferred:
			report.InferredItems++
			detail.Valid = true

		case models.EvidenceDirectSpan:
			idx := resp.Evidence.MessageIndex
			if idx < 0 || idx >= len(transcript) {
				report.Issues = append(report.Issues,
					fmt.Sprintf("item %s: evidence references missing transcript message %d", resp.ItemID, idx))
				break
			}
			entry := transcript[idx]
			if entry.Role != models.RolePatient {
				detail.Leak = true
				report.LeakCount++
				report.Issues = append(report.Issues,
					fmt.Sprintf("item %s: evidence leak, span references %s message %d", resp.ItemID, entry.Role, idx))
				slog.Warn("ScoreIntegrity: evidence leak detected", "itemID", resp.ItemID, "messageIndex", idx, "role", entry.Role)
				break
			}
			vr := ValidateSpan(resp.Evidence, entry.Text)
			if !vr.Valid {
				for _, issue := range vr.Issues {
					report.Issues = append(report.Issues, fmt.Sprintf("item %s: %s", resp.ItemID, issue))
				}
				break
			}
			detail.Valid = true
			report.ValidDirectSpans++

		default:
			report.NoneItems++
			detail.Valid = true
		}

		report.Details = append(report.Details, detail)
	}

	if report.TotalItems > 0 {
		report.Score = (float64(report.ValidDirectSpans) + float64(report.InferredItems)*models.InferredStrength) / float64(report.TotalItems)
	}
	return report
}
