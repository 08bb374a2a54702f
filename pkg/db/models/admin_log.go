package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/pkg/enums"
)

// AdminLog is an append-only record of a staff action.
type AdminLog struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ActorID     *uuid.UUID           `gorm:"column:actor_id;type:uuid;index"`
	Action      enums.AdminLogAction `gorm:"column:action;type:text;not null"`
	Description string               `gorm:"column:description;not null;default:''"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime;index"`
}

func (l *AdminLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
