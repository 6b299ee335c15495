package tutor

import (
	"math/rand/v2"

	"github.com/casetutor/casetutor/internal/model"
)

// SelectNextCase chooses the case a student starts next. Cases the student
// has never attempted are preferred; once every case has been attempted at
// least once, any case may repeat. Selection among candidates is uniformly
// random.
func SelectNextCase(cases []model.ClinicalCase, studentSessions []model.Session) (model.ClinicalCase, error) {
	if len(cases) == 0 {
		return model.ClinicalCase{}, ErrEmptyCaseBank
	}

	attempted := make(map[string]bool, len(studentSessions))
	for _, s := range studentSessions {
		attempted[s.CaseID] = true
	}

	var candidates []model.ClinicalCase
	for _, c := range cases {
		if !attempted[c.ID] {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		candidates = cases
	}

	return candidates[rand.IntN(len(candidates))], nil
}
