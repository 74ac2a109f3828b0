// Package genai provides the natural-language oracles for ScreenPipe using
// the OpenAI API: the safety classifier and the item scorer. Both return
// strict JSON which is parsed into the core model types; the engine never
// invents scores or risk flags itself.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/registry"
)

// DefaultModel is the chat model used for both oracles.
var DefaultModel = openai.ChatModelGPT4oMini

// ClientInterface defines the oracle operations consumed by the engine. It is
// satisfied by Client and by test mocks.
type ClientInterface interface {
	// ClassifySafety runs the risk detector over one patient message.
	ClassifySafety(ctx context.Context, patientText string) (models.SafetyClassification, error)
	// ScoreItems maps a patient message onto 0-4 scores for the given items,
	// with ambiguity ratings, candidate evidence quotes, and a risk patch.
	ScoreItems(ctx context.Context, itemIDs []string, patientText string, recentContext []models.TranscriptEntry) (models.ScoreResult, error)
}

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI ChatCompletion service for both oracle roles.
type Client struct {
	chat  chatService
	model string
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

const safetySystemPrompt = `You are a clinical safety classifier for a mental health screening interview.
Classify the patient's message for risk language. Respond with strict JSON only:
{"safe": bool, "urgency": "none"|"low"|"medium"|"high"|"critical",
 "risk_flags": {"suicidality": bool, "self_harm_ideation": bool, "violence_risk": bool, "substance_use": bool},
 "reasoning": "one sentence"}
Mark safe=false whenever the message contains suicidal ideation, self-harm intent,
or threats of violence. When in doubt between two urgency levels, pick the higher one.`

// ClassifySafety implements the safety classifier oracle.
func (c *Client) ClassifySafety(ctx context.Context, patientText string) (models.SafetyClassification, error) {
	slog.Debug("GenAI.ClassifySafety: invoking classifier", "textLength", len(patientText))
	content, err := c.completeJSON(ctx, safetySystemPrompt, "Patient message:\n"+patientText)
	if err != nil {
		return models.SafetyClassification{}, fmt.Errorf("%w: safety classifier: %v", models.ErrOracleFailure, err)
	}
	classification, err := ParseSafetyPayload(content)
	if err != nil {
		return models.SafetyClassification{}, fmt.Errorf("%w: safety classifier: %v", models.ErrOracleFailure, err)
	}
	slog.Debug("GenAI.ClassifySafety: classified", "safe", classification.Safe, "urgency", classification.Urgency)
	return classification, nil
}

// ScoreItems implements the scoring oracle.
func (c *Client) ScoreItems(ctx context.Context, itemIDs []string, patientText string, recentContext []models.TranscriptEntry) (models.ScoreResult, error) {
	slog.Debug("GenAI.ScoreItems: invoking scorer", "items", itemIDs, "textLength", len(patientText))
	userPrompt := buildScoringPrompt(itemIDs, patientText, recentContext)
	content, err := c.completeJSON(ctx, scoringSystemPrompt(itemIDs), userPrompt)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: scoring oracle: %v", models.ErrOracleFailure, err)
	}
	result, err := ParseScorePayload(content)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("%w: scoring oracle: %v", models.ErrOracleFailure, err)
	}
	slog.Debug("GenAI.ScoreItems: scored", "perItemCount", len(result.PerItem))
	return result, nil
}

// completeJSON runs one JSON-object chat completion and returns the content.
func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// scoringSystemPrompt lists the items under consideration with their canonical text.
func scoringSystemPrompt(itemIDs []string) string {
	var b strings.Builder
	b.WriteString(`You are a clinical screening scorer. Map the patient's answer onto a 0-4 frequency scale
(0=not at all, 1=rarely, 2=several days, 3=more than half the days, 4=nearly every day)
for each item below, with an ambiguity rating 1-10 (10 = the answer barely maps to a score).
Quote the patient's own words as evidence; never quote the interviewer.
Respond with strict JSON only:
{"per_item": [{"item_id": "...", "score": 0-4, "ambiguity": 1-10,
  "evidence_quotes": ["..."], "confidence": 0.0-1.0, "reasoning": "..."}],
 "risk_flags": {"suicidality": bool, "self_harm_ideation": bool, "violence_risk": bool, "substance_use": bool}}

Items:
`)
	for _, id := range itemIDs {
		if item, ok := registry.ItemByID(id); ok {
			fmt.Fprintf(&b, "- %s (%s): %s\n", item.ID, item.Domain, item.Text)
		}
	}
	return b.String()
}

// buildScoringPrompt assembles the user prompt with a recent-context window.
func buildScoringPrompt(itemIDs []string, patientText string, recentContext []models.TranscriptEntry) string {
	var b strings.Builder
	if len(recentContext) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, entry := range recentContext {
			fmt.Fprintf(&b, "%s: %s\n", entry.Role, entry.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Score items %s based on this patient message:\n%s", strings.Join(itemIDs, ", "), patientText)
	return b.String()
}

// safetyPayload is the wire shape of the safety classifier's JSON reply.
type safetyPayload struct {
	Safe      bool             `json:"safe"`
	Urgency   string           `json:"urgency"`
	RiskFlags riskFlagsPayload `json:"risk_flags"`
	Reasoning string           `json:"reasoning"`
}

// riskFlagsPayload is the wire shape of a risk-flags object.
type riskFlagsPayload struct {
	Suicidality      bool `json:"suicidality"`
	SelfHarmIdeation bool `json:"self_harm_ideation"`
	ViolenceRisk     bool `json:"violence_risk"`
	SubstanceUse     bool `json:"substance_use"`
}

// toPatch converts wire booleans into an explicit patch. Only true values are
// carried; the merge is monotonic either way.
func (p riskFlagsPayload) toPatch() models.RiskFlagsPatch {
	var patch models.RiskFlagsPatch
	if p.Suicidality {
		patch.Suicidality = models.BoolPtr(true)
	}
	if p.SelfHarmIdeation {
		patch.SelfHarmIdeation = models.BoolPtr(true)
	}
	if p.ViolenceRisk {
		patch.ViolenceRisk = models.BoolPtr(true)
	}
	if p.SubstanceUse {
		patch.SubstanceUse = models.BoolPtr(true)
	}
	return patch
}

// scorePayload is the wire shape of the scoring oracle's JSON reply.
type scorePayload struct {
	PerItem []struct {
		ItemID         string   `json:"item_id"`
		Score          int      `json:"score"`
		Ambiguity      int      `json:"ambiguity"`
		EvidenceQuotes []string `json:"evidence_quotes"`
		Confidence     float64  `json:"confidence"`
		Reasoning      string   `json:"reasoning"`
	} `json:"per_item"`
	RiskFlags riskFlagsPayload `json:"risk_flags"`
}

// ParseSafetyPayload parses the classifier's JSON reply into a classification.
func ParseSafetyPayload(content string) (models.SafetyClassification, error) {
	var payload safetyPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return models.SafetyClassification{}, fmt.Errorf("failed to parse safety payload: %w", err)
	}
	urgency := models.Urgency(payload.Urgency)
	switch urgency {
	case models.UrgencyNone, models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh, models.UrgencyCritical:
	case "":
		urgency = models.UrgencyNone
	default:
		return models.SafetyClassification{}, fmt.Errorf("unknown urgency %q", payload.Urgency)
	}
	return models.SafetyClassification{
		Safe:      payload.Safe,
		Urgency:   urgency,
		RiskFlags: payload.RiskFlags.toPatch(),
		Reasoning: payload.Reasoning,
	}, nil
}

// ParseScorePayload parses the scorer's JSON reply into a score result.
func ParseScorePayload(content string) (models.ScoreResult, error) {
	var payload scorePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return models.ScoreResult{}, fmt.Errorf("failed to parse score payload: %w", err)
	}
	result := models.ScoreResult{RiskFlagsPatch: payload.RiskFlags.toPatch()}
	for _, item := range payload.PerItem {
		is := models.ItemScore{
			ItemID:         item.ItemID,
			Score:          item.Score,
			Ambiguity:      item.Ambiguity,
			EvidenceQuotes: item.EvidenceQuotes,
			Confidence:     item.Confidence,
			Reasoning:      item.Reasoning,
		}
		if err := is.Validate(); err != nil {
			return models.ScoreResult{}, fmt.Errorf("item %s: %w", item.ItemID, err)
		}
		result.PerItem = append(result.PerItem, is)
	}
	return result, nil
}
