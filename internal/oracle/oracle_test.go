package oracle

import (
	"errors"
	"strings"
	"testing"

	"github.com/casetutor/casetutor/internal/model"
)

func testCase() model.ClinicalCase {
	stages := make([]model.CaseStage, model.StageCount)
	for i := range stages {
		stages[i] = model.CaseStage{
			Index:    i,
			Title:    "Stage",
			Content:  "vignette-" + string(rune('A'+i)),
			Question: "question-" + string(rune('A'+i)),
		}
	}
	return model.ClinicalCase{
		ID:     "c1",
		Title:  "Acute angle closure",
		Theme:  "Glaucoma",
		Stages: stages,
	}
}

func TestBuildUserPromptRevealsOnlyAnsweredStages(t *testing.T) {
	cs := testCase()

	prompt := buildUserPrompt(cs, 2, "my answer")

	for i := 0; i <= 2; i++ {
		if !strings.Contains(prompt, cs.Stages[i].Content) {
			t.Errorf("prompt should contain stage %d content", i)
		}
	}
	for i := 3; i < len(cs.Stages); i++ {
		if strings.Contains(prompt, cs.Stages[i].Content) {
			t.Errorf("prompt must not leak stage %d content", i)
		}
		if strings.Contains(prompt, cs.Stages[i].Question) {
			t.Errorf("prompt must not leak stage %d question", i)
		}
	}
	if !strings.Contains(prompt, cs.Stages[2].Question) {
		t.Error("prompt should contain the current stage question")
	}
	if !strings.Contains(prompt, "my answer") {
		t.Error("prompt should contain the student's answer")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	cs := testCase()
	prompt := buildSystemPrompt(cs)
	if !strings.Contains(prompt, cs.Title) {
		t.Error("system prompt should contain the case title")
	}
	if !strings.Contains(prompt, cs.Theme) {
		t.Error("system prompt should contain the case theme")
	}
	if !strings.Contains(prompt, `"justification"`) {
		t.Error("system prompt should describe the expected JSON shape")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced json tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  \n```json\n{\"a\":1}\n```\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Errorf("stripCodeFence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFeedback(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fb, err := parseFeedback(`{"feedback":"Good reasoning.","score":2,"justification":"Mostly correct."}`)
		if err != nil {
			t.Fatalf("parseFeedback: %v", err)
		}
		if fb.Score != 2 {
			t.Errorf("expected score 2, got %d", fb.Score)
		}
		if fb.Feedback != "Good reasoning." {
			t.Errorf("unexpected feedback %q", fb.Feedback)
		}
		if fb.Justification != "Mostly correct." {
			t.Errorf("unexpected justification %q", fb.Justification)
		}
	})

	t.Run("fenced JSON is tolerated", func(t *testing.T) {
		fb, err := parseFeedback("```json\n{\"feedback\":\"ok\",\"score\":3,\"justification\":\"complete\"}\n```")
		if err != nil {
			t.Fatalf("parseFeedback: %v", err)
		}
		if fb.Score != 3 {
			t.Errorf("expected score 3, got %d", fb.Score)
		}
	})

	t.Run("integral float score is tolerated", func(t *testing.T) {
		fb, err := parseFeedback(`{"feedback":"ok","score":2.0,"justification":"x"}`)
		if err != nil {
			t.Fatalf("parseFeedback: %v", err)
		}
		if fb.Score != 2 {
			t.Errorf("expected score 2, got %d", fb.Score)
		}
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"not JSON", "the student did well, score three"},
		{"missing score", `{"feedback":"ok","justification":"x"}`},
		{"missing feedback", `{"score":2,"justification":"x"}`},
		{"fractional score", `{"feedback":"ok","score":2.5,"justification":"x"}`},
		{"score too high", `{"feedback":"ok","score":4,"justification":"x"}`},
		{"negative score", `{"feedback":"ok","score":-1,"justification":"x"}`},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFeedback(tt.raw)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}
