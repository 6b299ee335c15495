package model

import "time"

// ResultsExport is the top-level JSON structure for session result export.
type ResultsExport struct {
	CourseID    string          `json:"course_id"`
	Subject     string          `json:"subject"`
	Date        string          `json:"date"`
	NumCases    int             `json:"num_cases"`
	NumStudents int             `json:"num_students"`
	Results     []StudentResult `json:"results"`
}

// StudentResult holds one student's sessions for export.
type StudentResult struct {
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	ClassGroup string          `json:"class_group,omitempty"`
	Grade      float64         `json:"grade"`
	Sessions   []SessionResult `json:"sessions"`
}

// SessionResult holds one session's outcome for export.
type SessionResult struct {
	CaseTitle  string               `json:"case_title"`
	CaseTheme  string               `json:"case_theme"`
	Difficulty Difficulty           `json:"difficulty"`
	Status     SessionStatus        `json:"status"`
	TotalScore int                  `json:"total_score"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Records    []SessionStageRecord `json:"records"`
}
