// Package evidence turns raw candidate quotes from the scoring oracle into
// structured, bounds-checked evidence spans and scores the aggregate evidence
// integrity of a session.
package evidence

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// InferredSummaryPlaceholder is emitted when no span survives and the caller
// supplied no summary.
const InferredSummaryPlaceholder = "(inferred from response pattern)"

// minQuoteLength is the shortest candidate quote worth locating.
const minQuoteLength = 3

// InterviewerTextDetector decides whether a candidate quote looks like
// interviewer speech rather than patient speech. It is pluggable so the
// heuristic can be swapped without touching the extractor's merge/dedup logic.
type InterviewerTextDetector interface {
	LooksLikeInterviewerText(s string) bool
}

// interrogativeOpening matches question openers typical of interviewer prompts.
var interrogativeOpening = regexp.MustCompile(`(?i)^(have you|do you|did you|are you|were you|would you|could you|can you|how often|how much|how many|how long|what about|when did|is there|tell me)\b`)

// roleLabelPrefix strips a leading role label such as "Patient:" from a quote.
var roleLabelPrefix = regexp.MustCompile(`(?i)^(patient|interviewer|user|assistant)\s*:\s*`)

// DefaultDetector is the stock interviewer-speech heuristic: any question
// mark, or an interrogative opening.
type DefaultDetector struct{}

// LooksLikeInterviewerText reports whether s reads like the asker's own words.
func (DefaultDetector) LooksLikeInterviewerText(s string) bool {
	if strings.Contains(s, "?") {
		return true
	}
	return interrogativeOpening.MatchString(strings.TrimSpace(s))
}

// Extractor locates candidate quotes inside patient text and assembles an
// evidence span.
type Extractor struct {
	detector InterviewerTextDetector
}

// NewExtractor creates an extractor with the given detector. A nil detector
// falls back to DefaultDetector.
func NewExtractor(detector InterviewerTextDetector) *Extractor {
	if detector == nil {
		detector = DefaultDetector{}
	}
	return &Extractor{detector: detector}
}

// Extract turns raw candidate quotes into a structured EvidenceSpan for the
// transcript message at messageIndex.
//
// Quotes are normalized (surrounding quote marks and leading role labels
// stripped, whitespace trimmed) and discarded when shorter than three
// characters or when they look like interviewer speech. Evidence must never
// be attributed to the asker's own words. Surviving quotes are located
// case-insensitively inside patientText; resulting spans are sorted, merged
// when overlapping or adjacent, and capped at three. If any span survives the
// evidence is direct_span with strength 0.9, otherwise inferred with 0.5.
func (e *Extractor) Extract(patientText string, candidateQuotes []string, messageIndex int, summary string) models.EvidenceSpan {
	var spans []models.SpanRange
	lowerText := strings.ToLower(patientText)

	for _, raw := range candidateQuotes {
		quote := normalizeQuote(raw)
		if len(quote) < minQuoteLength {
			continue
		}
		if e.detector.LooksLikeInterviewerText(quote) {
			slog.Debug("Extractor.Extract: discarding interviewer-like quote", "quote", quote)
			continue
		}
		start := strings.Index(lowerText, strings.ToLower(quote))
		if start < 0 {
			continue
		}
		spans = append(spans, models.SpanRange{Start: start, End: start + len(quote)})
	}

	spans = mergeSpans(spans)
	if len(spans) > models.MaxEvidenceSpans {
		spans = spans[:models.MaxEvidenceSpans]
	}

	ev := models.EvidenceSpan{
		MessageIndex: messageIndex,
		Spans:        spans,
		Summary:      summary,
	}
	if len(spans) > 0 {
		ev.Type = models.EvidenceDirectSpan
		ev.Strength = models.DirectSpanStrength
		if ev.Summary == "" {
			ev.Summary = synthesizeSummary(patientText, spans[0])
		}
	} else {
		ev.Type = models.EvidenceInferred
		ev.Strength = models.InferredStrength
		if ev.Summary == "" {
			ev.Summary = InferredSummaryPlaceholder
		}
	}
	return ev
}

// normalizeQuote strips surrounding quote marks and any leading role label,
// then trims whitespace.
func normalizeQuote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”‘’")
	s = roleLabelPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// mergeSpans sorts spans by start offset and merges any that overlap or are
// adjacent into one.
func mergeSpans(spans []models.SpanRange) []models.SpanRange {
	if len(spans) <= 1 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	merged := []models.SpanRange{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// synthesizeSummary builds a human-readable summary from the first span.
func synthesizeSummary(patientText string, span models.SpanRange) string {
	if span.Start < 0 || span.End > len(patientText) || span.Start >= span.End {
		return InferredSummaryPlaceholder
	}
	return fmt.Sprintf("patient said: %q", patientText[span.Start:span.End])
}
