package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/repo"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

// Repository persists admin log entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.AdminLog) error
	List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.AdminLog, error)
}

// ListFilter narrows a log listing.
type ListFilter struct {
	Action  *enums.AdminLogAction
	ActorID *uuid.UUID
	Since   *time.Time
}

type repository struct {
	repo.Base
}

// NewRepository returns an audit log repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, entry *models.AdminLog) error {
	return r.DB(ctx).Create(entry).Error
}

// List returns newest entries first, strictly after cursor when provided.
func (r *repository) List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.AdminLog, error) {
	q := r.DB(ctx).Model(&models.AdminLog{})
	if filter.Action != nil {
		q = q.Where("action = ?", *filter.Action)
	}
	if filter.ActorID != nil {
		q = q.Where("actor_id = ?", *filter.ActorID)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if cursor != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var entries []models.AdminLog
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
