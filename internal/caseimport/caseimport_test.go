package caseimport

import (
	"strings"
	"testing"

	"github.com/casetutor/casetutor/internal/model"
)

const sampleBlock = `TITULO: Sudden painless vision loss
TEMA: Retina
DIFICULDADE: Difícil
E1C: A 68-year-old man reports sudden painless loss of vision in the right eye on waking.
E1Q: What are the main diagnostic hypotheses?
E2C: Visual acuity is hand motion OD, 20/25 OS. There is a right relative afferent pupillary defect.
E2Q: How does the RAPD narrow the differential?
E3C: Fundoscopy shows diffuse retinal whitening with a cherry-red spot at the macula.
E3Q: What is the diagnosis and what immediate measures are indicated?
E4C: The patient mentions an episode of transient vision loss a week earlier, lasting minutes.
E4Q: What systemic workup does this history demand?
E5C: Carotid Doppler reveals 80% stenosis of the right internal carotid artery.
E5Q: Outline the long-term management and prognosis for vision.
`

func validTextBank() string {
	second := strings.ReplaceAll(sampleBlock, "Sudden painless vision loss", "Progressive visual field loss")
	second = strings.ReplaceAll(second, "DIFICULDADE: Difícil", "DIFICULDADE: Fácil")
	return sampleBlock + "\n===\n" + second
}

func TestParseStructuredText(t *testing.T) {
	cases, err := ParseStructuredText(validTextBank())
	if err != nil {
		t.Fatalf("ParseStructuredText: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}

	c := cases[0]
	if c.Title != "Sudden painless vision loss" {
		t.Errorf("title: got %q", c.Title)
	}
	if c.Theme != "Retina" {
		t.Errorf("theme: got %q", c.Theme)
	}
	if c.Difficulty != model.DifficultyHard {
		t.Errorf("difficulty: got %q", c.Difficulty)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Error("expected id and createdAt to be assigned")
	}
	if len(c.Stages) != model.StageCount {
		t.Fatalf("expected %d stages, got %d", model.StageCount, len(c.Stages))
	}
	if !strings.Contains(c.Stages[2].Content, "cherry-red spot") {
		t.Errorf("stage 3 content: got %q", c.Stages[2].Content)
	}
	if !strings.HasPrefix(c.Stages[4].Question, "Outline") {
		t.Errorf("stage 5 question: got %q", c.Stages[4].Question)
	}

	if cases[1].Difficulty != model.DifficultyEasy {
		t.Errorf("second case difficulty: got %q", cases[1].Difficulty)
	}
}

func TestParseStructuredTextDefaults(t *testing.T) {
	text := strings.ReplaceAll(sampleBlock, "TEMA: Retina\n", "")
	text = strings.ReplaceAll(text, "DIFICULDADE: Difícil\n", "")

	cases, err := ParseStructuredText(text)
	if err != nil {
		t.Fatalf("ParseStructuredText: %v", err)
	}
	if cases[0].Theme != "General" {
		t.Errorf("expected default theme, got %q", cases[0].Theme)
	}
	if cases[0].Difficulty != model.DifficultyMedium {
		t.Errorf("expected default difficulty, got %q", cases[0].Difficulty)
	}
}

func TestParseStructuredTextEmpty(t *testing.T) {
	if _, err := ParseStructuredText("   \n\n  "); err == nil {
		t.Error("expected an error for empty input")
	}
}

func TestNormalizeDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want model.Difficulty
	}{
		{"Fácil", model.DifficultyEasy},
		{"facil", model.DifficultyEasy},
		{"easy", model.DifficultyEasy},
		{"Médio", model.DifficultyMedium},
		{"medium", model.DifficultyMedium},
		{"Difícil", model.DifficultyHard},
		{"HARD", model.DifficultyHard},
		{"", model.DifficultyMedium},
		{"unknown", model.DifficultyMedium},
	}
	for _, tt := range tests {
		if got := normalizeDifficulty(tt.in); got != tt.want {
			t.Errorf("normalizeDifficulty(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`[{
		"id": "case-json-1",
		"title": "Gradual peripheral field loss",
		"theme": "Glaucoma",
		"difficulty": "medium",
		"stages": [
			{"index": 0, "title": "Stage 1", "content": "c1", "question": "q1"},
			{"index": 1, "title": "Stage 2", "content": "c2", "question": "q2"},
			{"index": 2, "title": "Stage 3", "content": "c3", "question": "q3"},
			{"index": 3, "title": "Stage 4", "content": "c4", "question": "q4"},
			{"index": 4, "title": "Stage 5", "content": "c5", "question": "q5"}
		]
	}]`)

	cases, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}
	if cases[0].ID != "case-json-1" {
		t.Errorf("expected the provided id to be kept, got %q", cases[0].ID)
	}
	if err := Validate(cases[0]); err != nil {
		t.Errorf("parsed case should validate: %v", err)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	if _, err := ParseJSON([]byte("not json")); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	base := func() model.ClinicalCase {
		cases, err := ParseStructuredText(sampleBlock)
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
		return cases[0]
	}

	t.Run("valid", func(t *testing.T) {
		if err := Validate(base()); err != nil {
			t.Errorf("expected valid case, got %v", err)
		}
	})

	t.Run("missing title", func(t *testing.T) {
		c := base()
		c.Title = "  "
		if err := Validate(c); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("wrong stage count", func(t *testing.T) {
		c := base()
		c.Stages = c.Stages[:4]
		if err := Validate(c); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("missing question", func(t *testing.T) {
		c := base()
		c.Stages[3].Question = ""
		if err := Validate(c); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("non-contiguous indices", func(t *testing.T) {
		c := base()
		c.Stages[2].Index = 4
		if err := Validate(c); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestParseDropsInvalidCases(t *testing.T) {
	broken := strings.ReplaceAll(sampleBlock, "TITULO: Sudden painless vision loss\n", "")
	text := validTextBank() + "\n===\n" + broken

	cases, err := Parse("bank.txt", []byte(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cases) != 2 {
		t.Errorf("expected 2 valid cases after dropping the broken one, got %d", len(cases))
	}
}

func TestParseAllInvalid(t *testing.T) {
	broken := strings.ReplaceAll(sampleBlock, "TITULO: Sudden painless vision loss\n", "")
	if _, err := Parse("bank.txt", []byte(broken)); err == nil {
		t.Error("expected an error when no case survives validation")
	}
}
