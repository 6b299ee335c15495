package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/oracle"
	"github.com/casetutor/casetutor/internal/storage"
)

var (
	// ErrSubmissionInProgress rejects a second submission while one is in
	// flight for the same session.
	ErrSubmissionInProgress = errors.New("a submission is already in progress for this session")
	// ErrSessionFinished rejects submissions to a terminal session.
	ErrSessionFinished = errors.New("session is already finished")
	// ErrEmptyResponse rejects blank answers.
	ErrEmptyResponse = errors.New("student response is empty")
	// ErrEmptyCaseBank is surfaced when no cases exist to start from.
	ErrEmptyCaseBank = errors.New("no clinical cases available")
)

// Engine owns the lifecycle of case-discussion sessions: starting them,
// advancing them stage by stage through oracle-scored answers, and detecting
// the terminal state.
type Engine struct {
	store  *storage.Adapter
	oracle oracle.Oracle

	mu       sync.Mutex
	inFlight map[string]struct{} // session id values with a submission in flight
}

// New creates an engine.
func New(store *storage.Adapter, o oracle.Oracle) *Engine {
	return &Engine{
		store:    store,
		oracle:   o,
		inFlight: make(map[string]struct{}),
	}
}

// StartSession selects the student's next case and creates a fresh session
// for it. The returned session is the persisted copy, which may already carry
// a backend-assigned id.
func (e *Engine) StartSession(ctx context.Context, studentID string) (model.Session, model.ClinicalCase, error) {
	cases, err := e.store.ListCases(ctx)
	if err != nil {
		return model.Session{}, model.ClinicalCase{}, err
	}
	sessions, err := e.store.ListSessionsForStudent(ctx, studentID)
	if err != nil {
		return model.Session{}, model.ClinicalCase{}, err
	}

	selected, err := SelectNextCase(cases, sessions)
	if err != nil {
		return model.Session{}, model.ClinicalCase{}, err
	}

	session := model.Session{
		ID:                model.NewLocalSessionID(),
		StudentID:         studentID,
		CaseID:            selected.ID,
		Status:            model.StatusActive,
		CurrentStageIndex: 0,
		TotalScore:        0,
		Records:           []model.SessionStageRecord{},
		CreatedAt:         time.Now(),
	}

	persisted, err := e.store.UpsertSession(ctx, session)
	if err != nil {
		return model.Session{}, model.ClinicalCase{}, fmt.Errorf("create session: %w", err)
	}
	slog.Info("started session",
		"session_id", persisted.ID.Value, "id_origin", persisted.ID.Origin,
		"student_id", studentID, "case_id", selected.ID)
	return persisted, selected, nil
}

// SubmitAnswer runs one step of the state machine: it scores the answer for
// the session's current stage, appends a record, accumulates the score, and
// advances (or finishes) the session.
//
// The update is all-or-nothing: the caller's session value is never mutated,
// and the advanced session is returned only after it has been persisted. Any
// failure — oracle or storage — leaves the stored session exactly as it was,
// so the same stage can be retried with the same response.
func (e *Engine) SubmitAnswer(ctx context.Context, session model.Session, studentResponse string) (model.Session, error) {
	if session.Status != model.StatusActive {
		return model.Session{}, ErrSessionFinished
	}
	if strings.TrimSpace(studentResponse) == "" {
		return model.Session{}, ErrEmptyResponse
	}
	if err := e.beginSubmission(session.ID.Value); err != nil {
		return model.Session{}, err
	}
	defer e.endSubmission(session.ID.Value)

	cs, err := e.store.GetCase(ctx, session.CaseID)
	if err != nil {
		return model.Session{}, fmt.Errorf("load case %s: %w", session.CaseID, err)
	}
	if session.CurrentStageIndex < 0 || session.CurrentStageIndex >= len(cs.Stages) {
		return model.Session{}, fmt.Errorf("session %s stage index %d out of range", session.ID.Value, session.CurrentStageIndex)
	}

	feedback, err := e.oracle.Evaluate(ctx, cs, session.CurrentStageIndex, studentResponse)
	if err != nil {
		return model.Session{}, fmt.Errorf("evaluate answer: %w", err)
	}

	now := time.Now()
	updated := session.Clone()
	updated.Records = append(updated.Records, model.SessionStageRecord{
		StageIndex:      session.CurrentStageIndex,
		StudentResponse: studentResponse,
		Feedback:        feedback.Feedback,
		Score:           feedback.Score,
		Justification:   feedback.Justification,
		Timestamp:       now,
	})
	updated.TotalScore += feedback.Score

	if isLastStage := session.CurrentStageIndex == len(cs.Stages)-1; isLastStage {
		// The index stays on the final stage: for a finished session it
		// identifies the last answered stage, not a next open one.
		updated.Status = model.StatusFinished
		updated.FinishedAt = &now
	} else {
		updated.CurrentStageIndex++
	}

	persisted, err := e.store.UpsertSession(ctx, updated)
	if err != nil {
		return model.Session{}, fmt.Errorf("persist session: %w", err)
	}
	slog.Info("answer scored",
		"session_id", persisted.ID.Value, "stage", session.CurrentStageIndex,
		"score", feedback.Score, "total_score", persisted.TotalScore,
		"status", persisted.Status)
	return persisted, nil
}

func (e *Engine) beginSubmission(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[sessionID]; busy {
		return ErrSubmissionInProgress
	}
	e.inFlight[sessionID] = struct{}{}
	return nil
}

func (e *Engine) endSubmission(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, sessionID)
}
