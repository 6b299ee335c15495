package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casetutor/casetutor/internal/model"
)

// RemoteBackend is the primary store: a Postgres database reached through
// gorm. Column names are snake_case; the row types below translate to and
// from the canonical model shapes.
type RemoteBackend struct {
	db *gorm.DB
}

// NewRemote connects to the remote store and migrates its schema.
func NewRemote(dsn string) (*RemoteBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &caseRow{}, &sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate remote store: %w", err)
	}
	return &RemoteBackend{db: db}, nil
}

type userRow struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex"`
	Name         string    `gorm:"column:name"`
	Role         string    `gorm:"column:role"`
	PasswordHash string    `gorm:"column:password_hash"`
	ClassGroup   string    `gorm:"column:class_group"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (userRow) TableName() string { return "users" }

type caseRow struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Title      string         `gorm:"column:title"`
	Theme      string         `gorm:"column:theme"`
	Difficulty string         `gorm:"column:difficulty"`
	Tags       datatypes.JSON `gorm:"column:tags"`
	Stages     datatypes.JSON `gorm:"column:stages"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (caseRow) TableName() string { return "clinical_cases" }

type sessionRow struct {
	ID                string         `gorm:"column:id;primaryKey"`
	StudentID         string         `gorm:"column:student_id;index"`
	CaseID            string         `gorm:"column:case_id"`
	Status            string         `gorm:"column:status"`
	CurrentStageIndex int            `gorm:"column:current_stage_index"`
	TotalScore        int            `gorm:"column:total_score"`
	Records           datatypes.JSON `gorm:"column:records"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	FinishedAt        *time.Time     `gorm:"column:finished_at"`
}

func (sessionRow) TableName() string { return "sessions" }

func (b *RemoteBackend) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := b.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, model.User{
			ID:           r.ID,
			Email:        r.Email,
			Name:         r.Name,
			Role:         model.UserRole(r.Role),
			PasswordHash: r.PasswordHash,
			ClassGroup:   r.ClassGroup,
			CreatedAt:    r.CreatedAt,
		})
	}
	return users, nil
}

func (b *RemoteBackend) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	row := userRow{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		ClassGroup:   u.ClassGroup,
		CreatedAt:    u.CreatedAt,
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (b *RemoteBackend) DeleteUser(ctx context.Context, id string) error {
	res := b.db.WithContext(ctx).Delete(&userRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RemoteBackend) ListCases(ctx context.Context) ([]model.ClinicalCase, error) {
	var rows []caseRow
	if err := b.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	cases := make([]model.ClinicalCase, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func (b *RemoteBackend) SaveCase(ctx context.Context, c model.ClinicalCase) (model.ClinicalCase, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	row, err := caseToRow(c)
	if err != nil {
		return model.ClinicalCase{}, err
	}
	if err := b.db.WithContext(ctx).Save(&row).Error; err != nil {
		return model.ClinicalCase{}, fmt.Errorf("save case: %w", err)
	}
	return c, nil
}

func (b *RemoteBackend) DeleteCase(ctx context.Context, id string) error {
	res := b.db.WithContext(ctx).Delete(&caseRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete case: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RemoteBackend) ListSessions(ctx context.Context) ([]model.Session, error) {
	var rows []sessionRow
	if err := b.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessionsToModel(rows)
}

func (b *RemoteBackend) ListSessionsForStudent(ctx context.Context, studentID string) ([]model.Session, error) {
	var rows []sessionRow
	err := b.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions for student: %w", err)
	}
	return sessionsToModel(rows)
}

// UpsertSession inserts or updates based on the id's origin tag: local-temp
// ids have never been seen by this backend, so they become inserts and the
// returned session carries the freshly assigned permanent id.
func (b *RemoteBackend) UpsertSession(ctx context.Context, s model.Session) (model.Session, error) {
	if s.ID.Origin == model.IDOriginLocal {
		s.ID = model.BackendSessionID(uuid.NewString())
		row, err := sessionToRow(s)
		if err != nil {
			return model.Session{}, err
		}
		if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
			return model.Session{}, fmt.Errorf("insert session: %w", err)
		}
		return s, nil
	}

	row, err := sessionToRow(s)
	if err != nil {
		return model.Session{}, err
	}
	res := b.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", row.ID).Updates(map[string]any{
		"status":              row.Status,
		"current_stage_index": row.CurrentStageIndex,
		"total_score":         row.TotalScore,
		"records":             row.Records,
		"finished_at":         row.FinishedAt,
	})
	if res.Error != nil {
		return model.Session{}, fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Session{}, fmt.Errorf("update session %s: %w", row.ID, ErrNotFound)
	}
	return s, nil
}

func (r caseRow) toModel() (model.ClinicalCase, error) {
	var tags []string
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return model.ClinicalCase{}, fmt.Errorf("decode case %s tags: %w", r.ID, err)
		}
	}
	var stages []model.CaseStage
	if len(r.Stages) > 0 {
		if err := json.Unmarshal(r.Stages, &stages); err != nil {
			return model.ClinicalCase{}, fmt.Errorf("decode case %s stages: %w", r.ID, err)
		}
	}
	return model.ClinicalCase{
		ID:         r.ID,
		Title:      r.Title,
		Theme:      r.Theme,
		Difficulty: model.Difficulty(r.Difficulty),
		Tags:       tags,
		Stages:     stages,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func caseToRow(c model.ClinicalCase) (caseRow, error) {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return caseRow{}, fmt.Errorf("encode case tags: %w", err)
	}
	stages, err := json.Marshal(c.Stages)
	if err != nil {
		return caseRow{}, fmt.Errorf("encode case stages: %w", err)
	}
	return caseRow{
		ID:         c.ID,
		Title:      c.Title,
		Theme:      c.Theme,
		Difficulty: string(c.Difficulty),
		Tags:       tags,
		Stages:     stages,
		CreatedAt:  c.CreatedAt,
	}, nil
}

func sessionToRow(s model.Session) (sessionRow, error) {
	if s.ID.Origin != model.IDOriginBackend {
		return sessionRow{}, errors.New("session row requires a backend-assigned id")
	}
	records, err := json.Marshal(s.Records)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode session records: %w", err)
	}
	return sessionRow{
		ID:                s.ID.Value,
		StudentID:         s.StudentID,
		CaseID:            s.CaseID,
		Status:            string(s.Status),
		CurrentStageIndex: s.CurrentStageIndex,
		TotalScore:        s.TotalScore,
		Records:           records,
		CreatedAt:         s.CreatedAt,
		FinishedAt:        s.FinishedAt,
	}, nil
}

func sessionsToModel(rows []sessionRow) ([]model.Session, error) {
	sessions := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		var records []model.SessionStageRecord
		if len(r.Records) > 0 {
			if err := json.Unmarshal(r.Records, &records); err != nil {
				return nil, fmt.Errorf("decode session %s records: %w", r.ID, err)
			}
		}
		sessions = append(sessions, model.Session{
			ID:                model.BackendSessionID(r.ID),
			StudentID:         r.StudentID,
			CaseID:            r.CaseID,
			Status:            model.SessionStatus(r.Status),
			CurrentStageIndex: r.CurrentStageIndex,
			TotalScore:        r.TotalScore,
			Records:           records,
			CreatedAt:         r.CreatedAt,
			FinishedAt:        r.FinishedAt,
		})
	}
	return sessions, nil
}
