// Package caseimport parses case bank files uploaded by admins. Two formats
// are accepted: a JSON array of cases in the canonical shape, and the
// structured text format used by case authors, with tagged blocks separated
// by lines of equals signs:
//
//	TITULO: Acute red eye
//	TEMA: Cornea
//	DIFICULDADE: Médio
//	E1C: <stage 1 vignette>
//	E1Q: <stage 1 question>
//	...
//	E5Q: <stage 5 question>
//	===
package caseimport

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casetutor/casetutor/internal/model"
)

var blockSeparator = regexp.MustCompile(`={3,}`)

// textTags are the structured-text field markers, in file order.
var textTags = []string{
	"TITULO:", "TEMA:", "DIFICULDADE:",
	"E1C:", "E1Q:", "E2C:", "E2Q:", "E3C:", "E3Q:",
	"E4C:", "E4Q:", "E5C:", "E5Q:",
}

// Parse parses a case bank file, dispatching on the file name extension.
// Cases failing validation are dropped; an error is returned only when no
// valid case remains.
func Parse(name string, data []byte) ([]model.ClinicalCase, error) {
	var (
		cases []model.ClinicalCase
		err   error
	)
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		cases, err = ParseJSON(data)
	} else {
		cases, err = ParseStructuredText(string(data))
	}
	if err != nil {
		return nil, err
	}

	valid := cases[:0]
	for _, c := range cases {
		if Validate(c) == nil {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid cases found in %s", name)
	}
	return valid, nil
}

// ParseJSON decodes a JSON case bank: either a single case object or an
// array of them.
func ParseJSON(data []byte) ([]model.ClinicalCase, error) {
	var cases []model.ClinicalCase
	if err := json.Unmarshal(data, &cases); err != nil {
		var single model.ClinicalCase
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("parse case bank JSON: %w", err)
		}
		cases = []model.ClinicalCase{single}
	}
	for i := range cases {
		fillDefaults(&cases[i])
	}
	return cases, nil
}

// ParseStructuredText decodes the tagged text format.
func ParseStructuredText(text string) ([]model.ClinicalCase, error) {
	var cases []model.ClinicalCase
	for _, block := range blockSeparator.Split(text, -1) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		fields := extractFields(block)

		c := model.ClinicalCase{
			Title:      fields["TITULO:"],
			Theme:      fields["TEMA:"],
			Difficulty: normalizeDifficulty(fields["DIFICULDADE:"]),
		}
		if c.Theme == "" {
			c.Theme = "General"
		}
		for i := 1; i <= model.StageCount; i++ {
			c.Stages = append(c.Stages, model.CaseStage{
				Index:    i - 1,
				Title:    fmt.Sprintf("Stage %d", i),
				Content:  fields[fmt.Sprintf("E%dC:", i)],
				Question: fields[fmt.Sprintf("E%dQ:", i)],
			})
		}
		fillDefaults(&c)
		cases = append(cases, c)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no case blocks found")
	}
	return cases, nil
}

// Validate checks a case against the authoring invariants: a title, exactly
// five stages with contiguous indices, and content and a question per stage.
func Validate(c model.ClinicalCase) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("case is missing a title")
	}
	if len(c.Stages) != model.StageCount {
		return fmt.Errorf("case %q has %d stages, want %d", c.Title, len(c.Stages), model.StageCount)
	}
	for i, s := range c.Stages {
		if s.Index != i {
			return fmt.Errorf("case %q stage %d has index %d", c.Title, i, s.Index)
		}
		if strings.TrimSpace(s.Content) == "" {
			return fmt.Errorf("case %q stage %d is missing content", c.Title, i)
		}
		if strings.TrimSpace(s.Question) == "" {
			return fmt.Errorf("case %q stage %d is missing a question", c.Title, i)
		}
	}
	return nil
}

// extractFields slices the block at each tag occurrence; a field's value
// runs from its tag to the next tag found in the block.
func extractFields(block string) map[string]string {
	type marker struct {
		tag        string
		start, end int
	}
	var found []marker
	for _, tag := range textTags {
		if i := strings.Index(block, tag); i >= 0 {
			found = append(found, marker{tag: tag, start: i, end: i + len(tag)})
		}
	}
	sort.Slice(found, func(a, b int) bool { return found[a].start < found[b].start })

	fields := make(map[string]string, len(found))
	for i, m := range found {
		end := len(block)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		fields[m.tag] = strings.TrimSpace(block[m.end:end])
	}
	return fields
}

// normalizeDifficulty maps authoring labels (including the Portuguese ones
// used by existing case banks) onto the canonical tiers.
func normalizeDifficulty(raw string) model.Difficulty {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "easy", "fácil", "facil":
		return model.DifficultyEasy
	case "hard", "difícil", "dificil":
		return model.DifficultyHard
	default:
		return model.DifficultyMedium
	}
}

func fillDefaults(c *model.ClinicalCase) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Difficulty == "" {
		c.Difficulty = model.DifficultyMedium
	}
}
