package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	content string
	err     error
	lastReq openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastReq = params
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func TestParseSafetyPayload(t *testing.T) {
	content := `{"safe": false, "urgency": "critical",
		"risk_flags": {"suicidality": true, "self_harm_ideation": false, "violence_risk": false, "substance_use": false},
		"reasoning": "explicit ideation"}`

	c, err := ParseSafetyPayload(content)
	if err != nil {
		t.Fatalf("ParseSafetyPayload failed: %v", err)
	}
	if c.Safe {
		t.Error("Safe = true, want false")
	}
	if c.Urgency != models.UrgencyCritical {
		t.Errorf("Urgency = %s, want critical", c.Urgency)
	}
	if c.RiskFlags.Suicidality == nil || !*c.RiskFlags.Suicidality {
		t.Error("suicidality flag not carried into patch")
	}
	if c.RiskFlags.ViolenceRisk != nil {
		t.Error("false wire flag produced a patch entry")
	}
}

func TestParseSafetyPayloadDefaultsUrgency(t *testing.T) {
	c, err := ParseSafetyPayload(`{"safe": true}`)
	if err != nil {
		t.Fatalf("ParseSafetyPayload failed: %v", err)
	}
	if c.Urgency != models.UrgencyNone {
		t.Errorf("Urgency = %s, want none for empty field", c.Urgency)
	}
}

func TestParseSafetyPayloadRejectsBadInput(t *testing.T) {
	if _, err := ParseSafetyPayload(`not json`); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := ParseSafetyPayload(`{"safe": true, "urgency": "apocalyptic"}`); err == nil {
		t.Error("unknown urgency accepted")
	}
}

func TestParseScorePayload(t *testing.T) {
	content := `{"per_item": [
		{"item_id": "D1", "score": 3, "ambiguity": 2, "evidence_quotes": ["feeling down"], "confidence": 0.8},
		{"item_id": "SL1", "score": 1, "ambiguity": 4}
	], "risk_flags": {"substance_use": true}}`

	result, err := ParseScorePayload(content)
	if err != nil {
		t.Fatalf("ParseScorePayload failed: %v", err)
	}
	if len(result.PerItem) != 2 {
		t.Fatalf("got %d items, want 2", len(result.PerItem))
	}
	if result.PerItem[0].ItemID != "D1" || result.PerItem[0].Score != 3 {
		t.Errorf("first item = %+v", result.PerItem[0])
	}
	if result.RiskFlagsPatch.SubstanceUse == nil || !*result.RiskFlagsPatch.SubstanceUse {
		t.Error("substance_use flag not carried into patch")
	}
}

func TestParseScorePayloadValidatesBounds(t *testing.T) {
	cases := []string{
		`{"per_item": [{"item_id": "D1", "score": 5, "ambiguity": 2}]}`,
		`{"per_item": [{"item_id": "D1", "score": -1, "ambiguity": 2}]}`,
		`{"per_item": [{"item_id": "D1", "score": 2, "ambiguity": 0}]}`,
		`{"per_item": [{"item_id": "D1", "score": 2, "ambiguity": 11}]}`,
		`{"per_item": [{"item_id": "", "score": 2, "ambiguity": 2}]}`,
	}
	for _, content := range cases {
		if _, err := ParseScorePayload(content); err == nil {
			t.Errorf("payload accepted: %s", content)
		}
	}
}

func TestClassifySafetyThroughChat(t *testing.T) {
	mock := &mockChatService{content: `{"safe": true, "urgency": "low"}`}
	client := &Client{chat: mock, model: DefaultModel}

	c, err := client.ClassifySafety(context.Background(), "I slept badly")
	if err != nil {
		t.Fatalf("ClassifySafety failed: %v", err)
	}
	if !c.Safe || c.Urgency != models.UrgencyLow {
		t.Errorf("classification = %+v", c)
	}
	if len(mock.lastReq.Messages) != 2 {
		t.Errorf("got %d messages, want system+user", len(mock.lastReq.Messages))
	}
}

func TestClassifySafetyWrapsOracleFailure(t *testing.T) {
	mock := &mockChatService{err: errors.New("rate limited")}
	client := &Client{chat: mock, model: DefaultModel}

	_, err := client.ClassifySafety(context.Background(), "hello")
	if !errors.Is(err, models.ErrOracleFailure) {
		t.Errorf("error = %v, want wrapped ErrOracleFailure", err)
	}
}

func TestScoreItemsThroughChat(t *testing.T) {
	mock := &mockChatService{content: `{"per_item": [{"item_id": "D1", "score": 2, "ambiguity": 3, "evidence_quotes": ["down a lot"]}]}`}
	client := &Client{chat: mock, model: DefaultModel}

	result, err := client.ScoreItems(context.Background(), []string{"D1"}, "down a lot lately", []models.TranscriptEntry{
		{Role: models.RoleInterviewer, Text: "How have you been feeling?"},
	})
	if err != nil {
		t.Fatalf("ScoreItems failed: %v", err)
	}
	if len(result.PerItem) != 1 || result.PerItem[0].Score != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestScoreItemsRejectsUnparseablePayload(t *testing.T) {
	mock := &mockChatService{content: `oops`}
	client := &Client{chat: mock, model: DefaultModel}

	_, err := client.ScoreItems(context.Background(), []string{"D1"}, "hello", nil)
	if !errors.Is(err, models.ErrOracleFailure) {
		t.Errorf("error = %v, want wrapped ErrOracleFailure", err)
	}
}

func TestScoringSystemPromptListsItems(t *testing.T) {
	prompt := scoringSystemPrompt([]string{"D1", "SI1"})
	for _, id := range []string{"D1", "SI1"} {
		if !strings.Contains(prompt, id) {
			t.Errorf("prompt missing item %s", id)
		}
	}
}

func TestBuildScoringPromptIncludesContext(t *testing.T) {
	prompt := buildScoringPrompt([]string{"D1"}, "not great", []models.TranscriptEntry{
		{Role: models.RoleInterviewer, Text: "How are you?"},
		{Role: models.RolePatient, Text: "okay I guess"},
	})
	if !strings.Contains(prompt, "Recent conversation") {
		t.Error("prompt missing recent-context block")
	}
	if !strings.Contains(prompt, "okay I guess") {
		t.Error("prompt missing prior patient message")
	}
	if !strings.Contains(prompt, "not great") {
		t.Error("prompt missing current patient message")
	}
}
