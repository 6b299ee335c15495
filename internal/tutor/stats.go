package tutor

import (
	"math"

	"github.com/casetutor/casetutor/internal/model"
)

// maxSessionScore is the highest total a five-stage session can reach.
const maxSessionScore = 3 * model.StageCount

// CaseAverage is the mean total score across all sessions of one case.
type CaseAverage struct {
	CaseID       string  `json:"caseId"`
	Title        string  `json:"title"`
	SessionCount int     `json:"sessionCount"`
	AverageScore float64 `json:"averageScore"`
}

// CaseAverages computes per-case performance across all sessions.
func CaseAverages(cases []model.ClinicalCase, sessions []model.Session) []CaseAverage {
	out := make([]CaseAverage, 0, len(cases))
	for _, c := range cases {
		total, count := 0, 0
		for _, s := range sessions {
			if s.CaseID == c.ID {
				total += s.TotalScore
				count++
			}
		}
		avg := 0.0
		if count > 0 {
			avg = round1(float64(total) / float64(count))
		}
		out = append(out, CaseAverage{
			CaseID:       c.ID,
			Title:        c.Title,
			SessionCount: count,
			AverageScore: avg,
		})
	}
	return out
}

// StudentGrade converts a student's finished sessions into a 0–10 grade:
// the mean total score divided by the session maximum, times ten. This
// normalization is a presentation concern only; stored sessions keep raw
// totals. Returns nil when the student has no finished session.
func StudentGrade(sessions []model.Session) *float64 {
	total, count := 0, 0
	for _, s := range sessions {
		if s.Status == model.StatusFinished {
			total += s.TotalScore
			count++
		}
	}
	if count == 0 {
		return nil
	}
	grade := round1(float64(total) / float64(count) / maxSessionScore * 10)
	return &grade
}

// ClassGroupAverage is the mean grade of one class group's students.
type ClassGroupAverage struct {
	ClassGroup   string  `json:"classGroup"`
	StudentCount int     `json:"studentCount"`
	AverageGrade float64 `json:"averageGrade"`
}

// ClassGroupAverages aggregates student grades per class group. Students with
// no finished session are excluded; students without a group land in "".
func ClassGroupAverages(students []model.User, sessionsByStudent map[string][]model.Session) []ClassGroupAverage {
	type acc struct {
		total float64
		count int
	}
	groups := make(map[string]*acc)
	var order []string
	for _, u := range students {
		grade := StudentGrade(sessionsByStudent[u.ID])
		if grade == nil {
			continue
		}
		g, ok := groups[u.ClassGroup]
		if !ok {
			g = &acc{}
			groups[u.ClassGroup] = g
			order = append(order, u.ClassGroup)
		}
		g.total += *grade
		g.count++
	}
	out := make([]ClassGroupAverage, 0, len(order))
	for _, name := range order {
		g := groups[name]
		out = append(out, ClassGroupAverage{
			ClassGroup:   name,
			StudentCount: g.count,
			AverageGrade: round1(g.total / float64(g.count)),
		})
	}
	return out
}

// Overview aggregates activity across all students.
type Overview struct {
	SessionCount  int     `json:"sessionCount"`
	FinishedCount int     `json:"finishedCount"`
	AverageScore  float64 `json:"averageScore"`
}

// Summarize computes the admin dashboard overview.
func Summarize(sessions []model.Session) Overview {
	o := Overview{SessionCount: len(sessions)}
	total := 0
	for _, s := range sessions {
		total += s.TotalScore
		if s.Status == model.StatusFinished {
			o.FinishedCount++
		}
	}
	if len(sessions) > 0 {
		o.AverageScore = round1(float64(total) / float64(len(sessions)))
	}
	return o
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
