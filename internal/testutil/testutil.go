// Package testutil provides common test utilities and helpers for ScreenPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// MockOracle is a test double for the GenAI scoring and safety oracles.
// Function fields override per-call behavior; nil fields use benign defaults
// (safe classification, score 0 with minimal ambiguity for every item).
type MockOracle struct {
	ClassifySafetyFn func(ctx context.Context, patientText string) (models.SafetyClassification, error)
	ScoreItemsFn     func(ctx context.Context, itemIDs []string, patientText string, recentContext []models.TranscriptEntry) (models.ScoreResult, error)

	// Call counters for asserting oracle usage.
	ClassifyCalls int
	ScoreCalls    int
}

// ClassifySafety implements the safety classifier oracle.
func (m *MockOracle) ClassifySafety(ctx context.Context, patientText string) (models.SafetyClassification, error) {
	m.ClassifyCalls++
	if m.ClassifySafetyFn != nil {
		return m.ClassifySafetyFn(ctx, patientText)
	}
	return models.SafetyClassification{Safe: true, Urgency: models.UrgencyNone}, nil
}

// ScoreItems implements the scoring oracle.
func (m *MockOracle) ScoreItems(ctx context.Context, itemIDs []string, patientText string, recentContext []models.TranscriptEntry) (models.ScoreResult, error) {
	m.ScoreCalls++
	if m.ScoreItemsFn != nil {
		return m.ScoreItemsFn(ctx, itemIDs, patientText, recentContext)
	}
	result := models.ScoreResult{}
	for _, id := range itemIDs {
		result.PerItem = append(result.PerItem, models.ItemScore{ItemID: id, Score: 0, Ambiguity: 1})
	}
	return result, nil
}

// UnsafeClassification builds a classifier result that terminates a session.
func UnsafeClassification(urgency models.Urgency) models.SafetyClassification {
	return models.SafetyClassification{
		Safe:      false,
		Urgency:   urgency,
		RiskFlags: models.RiskFlagsPatch{Suicidality: models.BoolPtr(true)},
	}
}

// FixedScore builds a scoring function that returns the same score and
// ambiguity for every requested item, quoting the full patient text.
func FixedScore(score, ambiguity int) func(context.Context, []string, string, []models.TranscriptEntry) (models.ScoreResult, error) {
	return func(_ context.Context, itemIDs []string, patientText string, _ []models.TranscriptEntry) (models.ScoreResult, error) {
		result := models.ScoreResult{}
		for _, id := range itemIDs {
			result.PerItem = append(result.PerItem, models.ItemScore{
				ItemID:         id,
				Score:          score,
				Ambiguity:      ambiguity,
				EvidenceQuotes: []string{patientText},
			})
		}
		return result, nil
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
