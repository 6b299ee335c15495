package tutor

import (
	"errors"
	"testing"

	"github.com/casetutor/casetutor/internal/model"
)

func caseWithID(id string) model.ClinicalCase {
	return model.ClinicalCase{ID: id, Title: "Case " + id}
}

func sessionForCase(caseID string) model.Session {
	return model.Session{
		ID:     model.NewLocalSessionID(),
		CaseID: caseID,
		Status: model.StatusFinished,
	}
}

func TestSelectNextCaseEmptyBank(t *testing.T) {
	_, err := SelectNextCase(nil, nil)
	if !errors.Is(err, ErrEmptyCaseBank) {
		t.Errorf("expected ErrEmptyCaseBank, got %v", err)
	}
}

func TestSelectNextCasePrefersUnattempted(t *testing.T) {
	cases := []model.ClinicalCase{caseWithID("a"), caseWithID("b"), caseWithID("c")}
	sessions := []model.Session{sessionForCase("a"), sessionForCase("c")}

	// Only one candidate remains, so the choice is deterministic.
	for i := 0; i < 25; i++ {
		got, err := SelectNextCase(cases, sessions)
		if err != nil {
			t.Fatalf("SelectNextCase: %v", err)
		}
		if got.ID != "b" {
			t.Fatalf("expected the unattempted case b, got %s", got.ID)
		}
	}
}

func TestSelectNextCaseActiveSessionCountsAsAttempted(t *testing.T) {
	cases := []model.ClinicalCase{caseWithID("a"), caseWithID("b")}
	active := sessionForCase("a")
	active.Status = model.StatusActive

	got, err := SelectNextCase(cases, []model.Session{active})
	if err != nil {
		t.Fatalf("SelectNextCase: %v", err)
	}
	if got.ID != "b" {
		t.Errorf("expected case b, got %s", got.ID)
	}
}

func TestSelectNextCaseAllAttemptedAllowsRepeats(t *testing.T) {
	cases := []model.ClinicalCase{caseWithID("a"), caseWithID("b")}
	sessions := []model.Session{sessionForCase("a"), sessionForCase("b")}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got, err := SelectNextCase(cases, sessions)
		if err != nil {
			t.Fatalf("SelectNextCase: %v", err)
		}
		seen[got.ID] = true
	}
	if len(seen) == 0 {
		t.Fatal("no case selected")
	}
	for id := range seen {
		if id != "a" && id != "b" {
			t.Errorf("selected unknown case %s", id)
		}
	}
}
