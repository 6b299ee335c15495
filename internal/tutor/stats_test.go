package tutor

import (
	"testing"

	"github.com/casetutor/casetutor/internal/model"
)

func finishedSession(caseID string, score int) model.Session {
	return model.Session{
		ID:         model.NewLocalSessionID(),
		CaseID:     caseID,
		Status:     model.StatusFinished,
		TotalScore: score,
	}
}

func TestCaseAverages(t *testing.T) {
	cases := []model.ClinicalCase{caseWithID("a"), caseWithID("b")}
	sessions := []model.Session{
		finishedSession("a", 10),
		finishedSession("a", 14),
		finishedSession("b", 6),
	}

	avgs := CaseAverages(cases, sessions)
	if len(avgs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(avgs))
	}
	if avgs[0].SessionCount != 2 || avgs[0].AverageScore != 12.0 {
		t.Errorf("case a: got count=%d avg=%v", avgs[0].SessionCount, avgs[0].AverageScore)
	}
	if avgs[1].SessionCount != 1 || avgs[1].AverageScore != 6.0 {
		t.Errorf("case b: got count=%d avg=%v", avgs[1].SessionCount, avgs[1].AverageScore)
	}
}

func TestCaseAveragesNoSessions(t *testing.T) {
	avgs := CaseAverages([]model.ClinicalCase{caseWithID("a")}, nil)
	if avgs[0].SessionCount != 0 || avgs[0].AverageScore != 0 {
		t.Errorf("expected zeroes for unattempted case, got %+v", avgs[0])
	}
}

func TestStudentGrade(t *testing.T) {
	t.Run("no finished sessions", func(t *testing.T) {
		active := finishedSession("a", 9)
		active.Status = model.StatusActive
		if got := StudentGrade([]model.Session{active}); got != nil {
			t.Errorf("expected nil grade, got %v", *got)
		}
	})

	t.Run("averages finished only", func(t *testing.T) {
		active := finishedSession("c", 15)
		active.Status = model.StatusActive
		sessions := []model.Session{
			finishedSession("a", 15), // 10.0
			finishedSession("b", 9),  // 6.0
			active,                   // ignored
		}
		got := StudentGrade(sessions)
		if got == nil {
			t.Fatal("expected a grade")
		}
		if *got != 8.0 {
			t.Errorf("expected grade 8.0, got %v", *got)
		}
	})
}

func TestClassGroupAverages(t *testing.T) {
	students := []model.User{
		{ID: "s1", ClassGroup: "2026A"},
		{ID: "s2", ClassGroup: "2026A"},
		{ID: "s3", ClassGroup: "2026B"},
		{ID: "s4", ClassGroup: "2026B"}, // no finished sessions, excluded
	}
	sessions := map[string][]model.Session{
		"s1": {finishedSession("a", 15)}, // 10.0
		"s2": {finishedSession("a", 9)},  // 6.0
		"s3": {finishedSession("b", 12)}, // 8.0
	}

	groups := ClassGroupAverages(students, sessions)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ClassGroup != "2026A" || groups[0].StudentCount != 2 || groups[0].AverageGrade != 8.0 {
		t.Errorf("group 2026A: %+v", groups[0])
	}
	if groups[1].ClassGroup != "2026B" || groups[1].StudentCount != 1 || groups[1].AverageGrade != 8.0 {
		t.Errorf("group 2026B: %+v", groups[1])
	}
}

func TestSummarize(t *testing.T) {
	active := finishedSession("b", 3)
	active.Status = model.StatusActive
	sessions := []model.Session{
		finishedSession("a", 12),
		active,
	}

	o := Summarize(sessions)
	if o.SessionCount != 2 {
		t.Errorf("expected 2 sessions, got %d", o.SessionCount)
	}
	if o.FinishedCount != 1 {
		t.Errorf("expected 1 finished, got %d", o.FinishedCount)
	}
	if o.AverageScore != 7.5 {
		t.Errorf("expected average 7.5, got %v", o.AverageScore)
	}
}
