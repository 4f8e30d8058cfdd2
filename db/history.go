package db

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Job types.
const (
	JobDownload = "download"
	JobInstall  = "install"
)

// JobRecord is one finished download or install.
type JobRecord struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Type       string    `gorm:"index" json:"type"`
	TitleID    string    `gorm:"index" json:"titleId"`
	UpdateName string    `json:"updateName"`
	UpdateKind string    `json:"updateKind"`
	State      string    `json:"state"`
	Detail     string    `json:"detail"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `gorm:"index" json:"finishedAt"`
}

// HistoryRepository stores job records.
type HistoryRepository interface {
	Put(ctx context.Context, r JobRecord) error
	// List returns the newest records first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]JobRecord, error)
	Clear(ctx context.Context) error
}

type gormHistoryRepo struct{ db *gorm.DB }

// NewHistoryRepository creates a HistoryRepository over db.
func NewHistoryRepository(db *gorm.DB) HistoryRepository { return &gormHistoryRepo{db: db} }

var errNotInitialized = errors.New("repository not initialized")

func (r *gormHistoryRepo) Put(ctx context.Context, rec JobRecord) error {
	if r.db == nil {
		return errNotInitialized
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to store job record")
		return err
	}
	return nil
}

func (r *gormHistoryRepo) List(ctx context.Context, limit int) ([]JobRecord, error) {
	if r.db == nil {
		return nil, errNotInitialized
	}
	q := r.db.WithContext(ctx).Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []JobRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormHistoryRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return errNotInitialized
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&JobRecord{}).Error
}
