package storage

import (
	"time"

	"github.com/casetutor/casetutor/internal/model"
)

// seedCase is the starter case materialized into an empty local store so the
// application works with zero configuration.
func seedCase() model.ClinicalCase {
	return model.ClinicalCase{
		ID:         "seed-acute-red-eye",
		Title:      "Acute Red Eye in a Contact Lens Wearer",
		Theme:      "Cornea and external disease",
		Difficulty: model.DifficultyMedium,
		Tags:       []string{"cornea", "keratitis", "urgent"},
		CreatedAt:  time.Now(),
		Stages: []model.CaseStage{
			{
				Index:   0,
				Title:   "Stage 1",
				Content: "A 24-year-old student presents with a painful red left eye for two days. She wears monthly soft contact lenses and admits to sleeping in them. Visual acuity is 20/60 in the affected eye.",
				Question: "What are your main diagnostic hypotheses at this point, and which " +
					"elements of the history concern you the most?",
			},
			{
				Index:   1,
				Title:   "Stage 2",
				Content: "Slit-lamp examination shows a 2 mm round corneal infiltrate with an overlying epithelial defect, conjunctival injection, and a mild anterior chamber reaction. There is no hypopyon.",
				Question: "How does this finding change your differential, and what is the " +
					"immediate next step before starting treatment?",
			},
			{
				Index:   2,
				Title:   "Stage 3",
				Content: "Corneal scrapings are collected for Gram stain and culture. The patient asks whether she can keep using her lenses with eye drops on top.",
				Question: "Outline your initial empirical treatment and the advice you give " +
					"about lens wear.",
			},
			{
				Index:   3,
				Title:   "Stage 4",
				Content: "After 48 hours of fortified topical antibiotics the infiltrate is smaller and the pain has improved. Cultures grow Pseudomonas aeruginosa sensitive to the current therapy.",
				Question: "How do you adjust management now, and what follow-up schedule do " +
					"you propose?",
			},
			{
				Index:   4,
				Title:   "Stage 5",
				Content: "At two weeks the epithelium has healed, leaving a faint paracentral scar. Acuity has recovered to 20/25. The patient wants to resume contact lens wear.",
				Question: "What long-term guidance do you give this patient, and when, if " +
					"ever, may she return to contact lenses?",
			},
		},
	}
}
