package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/casetutor/casetutor/internal/model"
)

// MaxStageScore is the highest score the oracle may award for one stage.
const MaxStageScore = 3

// Feedback is the oracle's structured assessment of one stage answer.
type Feedback struct {
	Feedback      string `json:"feedback"`
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// Oracle evaluates a student's answer to one stage of a clinical case.
type Oracle interface {
	Evaluate(ctx context.Context, c model.ClinicalCase, stageIndex int, studentResponse string) (*Feedback, error)
}

// ErrMalformedResponse marks an oracle reply that could not be parsed into
// the required shape. It is a hard, retryable failure: a malformed reply is
// never silently defaulted to a score, since that would corrupt the session
// total without the student's knowledge.
var ErrMalformedResponse = errors.New("oracle returned a malformed response")

const defaultTimeout = 60 * time.Second

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new oracle client. timeout bounds each Evaluate call; zero
// selects the default.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Ping performs a minimal completion to verify the endpoint and key work.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("oracle health check: %w", err)
	}
	return nil
}

// Evaluate sends the case context and the student's answer to the oracle and
// returns its structured feedback. The request context only ever contains
// stage content up to and including stageIndex; later stages are never
// revealed to the model.
func (c *Client) Evaluate(ctx context.Context, cs model.ClinicalCase, stageIndex int, studentResponse string) (*Feedback, error) {
	if stageIndex < 0 || stageIndex >= len(cs.Stages) {
		return nil, fmt.Errorf("stage index %d out of range for case %s", stageIndex, cs.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(cs)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(cs, stageIndex, studentResponse)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("oracle response", "case_id", cs.ID, "stage", stageIndex, "raw", raw)

	return parseFeedback(raw)
}

// parseFeedback validates the oracle's reply against the output contract:
// a JSON object with a feedback text and an integer score in [0,3],
// optionally wrapped in code fences.
func parseFeedback(raw string) (*Feedback, error) {
	cleaned := stripCodeFence(raw)

	var wire struct {
		Feedback      string   `json:"feedback"`
		Score         *float64 `json:"score"`
		Justification string   `json:"justification"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(wire.Feedback) == "" {
		return nil, fmt.Errorf("%w: missing feedback field", ErrMalformedResponse)
	}
	if wire.Score == nil {
		return nil, fmt.Errorf("%w: missing score field", ErrMalformedResponse)
	}
	score := *wire.Score
	if score != math.Trunc(score) || score < 0 || score > MaxStageScore {
		return nil, fmt.Errorf("%w: score %v outside integer range [0,%d]", ErrMalformedResponse, score, MaxStageScore)
	}

	return &Feedback{
		Feedback:      wire.Feedback,
		Score:         int(score),
		Justification: wire.Justification,
	}, nil
}

// stripCodeFence removes a wrapping Markdown code fence (``` or ```json)
// before structural parsing.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildSystemPrompt(cs model.ClinicalCase) string {
	var sb strings.Builder
	sb.WriteString("You are an experienced ophthalmology professor guiding a staged clinical case discussion.\n")
	sb.WriteString("Evaluate the medical student's answer for the case: " + cs.Title + " (theme: " + cs.Theme + ").\n\n")
	sb.WriteString("Evaluation rules:\n")
	sb.WriteString("1. Give constructive feedback in Markdown.\n")
	sb.WriteString(fmt.Sprintf("2. Assign an integer score from 0 to %d based on technical accuracy.\n", MaxStageScore))
	sb.WriteString("3. Be rigorous with medical terminology.\n")
	sb.WriteString("4. Respond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"feedback": "<markdown feedback>", "score": <0..3>, "justification": "<why this score>"}`)
	sb.WriteString("\n")
	return sb.String()
}

// buildUserPrompt assembles the case context revealed so far. Stage content
// beyond stageIndex must never appear here.
func buildUserPrompt(cs model.ClinicalCase, stageIndex int, studentResponse string) string {
	var sb strings.Builder
	sb.WriteString("Case history so far:\n")
	for i := 0; i <= stageIndex; i++ {
		sb.WriteString(fmt.Sprintf("Stage %d: %s\n", i+1, cs.Stages[i].Content))
	}
	sb.WriteString("\nQuestion asked: " + cs.Stages[stageIndex].Question + "\n")
	sb.WriteString("Student's answer: " + studentResponse + "\n")
	return sb.String()
}
