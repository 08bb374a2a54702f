package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/logger"
)

// Settings is the branding shown on every screen.
type Settings struct {
	SystemName string    `json:"system_name"`
	LogoURL    *string   `json:"system_logo_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UpdateInput carries an admin change. A nil LogoURL leaves the logo alone;
// an empty one clears it.
type UpdateInput struct {
	SystemName string  `json:"system_name" validate:"required,max=200"`
	LogoURL    *string `json:"system_logo_url" validate:"omitempty,max=500"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error
}

// Store keeps the current settings in memory. Reads never touch the
// database; Update and Reload replace the snapshot atomically.
type Store struct {
	db       *gorm.DB
	tx       txRunner
	audit    auditRecorder
	defaults Settings
	logg     *logger.Logger
	current  atomic.Pointer[Settings]
}

// NewStore builds a store seeded with the configured defaults. Call Reload
// once at startup to pick up the persisted row.
func NewStore(conn *gorm.DB, tx txRunner, audit auditRecorder, cfg config.SettingsConfig, logg *logger.Logger) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	defaults := Settings{SystemName: strings.TrimSpace(cfg.SystemName)}
	if defaults.SystemName == "" {
		defaults.SystemName = "Library Management System"
	}
	if logo := strings.TrimSpace(cfg.LogoURL); logo != "" {
		defaults.LogoURL = &logo
	}
	s := &Store{db: conn, tx: tx, audit: audit, defaults: defaults, logg: logg}
	seed := defaults
	s.current.Store(&seed)
	return s, nil
}

// Current returns the in-memory snapshot.
func (s *Store) Current() Settings {
	return *s.current.Load()
}

// Reload reads the persisted row. With no row stored the configured
// defaults stay in effect.
func (s *Store) Reload(ctx context.Context) error {
	var row models.SystemSettings
	err := s.db.WithContext(ctx).First(&row, "id = ?", models.SystemSettingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := s.defaults
		s.current.Store(&seed)
		if s.logg != nil {
			s.logg.Info(ctx, "no stored system settings, using defaults")
		}
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load system settings")
	}
	s.current.Store(fromModel(row))
	return nil
}

// Update persists the change and swaps the snapshot once committed.
func (s *Store) Update(ctx context.Context, actor access.Actor, input UpdateInput) (*Settings, error) {
	if err := actor.Require(access.ManageSettings); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.SystemName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "system_name is required")
	}

	row := models.SystemSettings{
		ID:            models.SystemSettingsRowID,
		SystemName:    name,
		SystemLogoURL: s.Current().LogoURL,
	}
	if input.LogoURL != nil {
		row.SystemLogoURL = nil
		if logo := strings.TrimSpace(*input.LogoURL); logo != "" {
			row.SystemLogoURL = &logo
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"system_name", "system_logo_url", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save system settings")
		}
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionSettingsUpdate,
			Description: fmt.Sprintf("Updated system settings: %s", name),
		})
	})
	if err != nil {
		return nil, err
	}

	updated := fromModel(row)
	s.current.Store(updated)
	out := *updated
	return &out, nil
}

func fromModel(row models.SystemSettings) *Settings {
	return &Settings{
		SystemName: row.SystemName,
		LogoURL:    row.SystemLogoURL,
		UpdatedAt:  row.UpdatedAt,
	}
}
