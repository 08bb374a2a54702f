package auditlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

const maxDescriptionLength = 1000

// Service records and lists staff actions.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, actor access.Actor, filter ListFilter, params pagination.Params) (*ListResult, error)
}

// Entry is one action to append to the log.
type Entry struct {
	ActorID     *uuid.UUID
	Action      enums.AdminLogAction
	Description string
}

// ListResult is one page of log entries.
type ListResult struct {
	Entries    []models.AdminLog `json:"entries"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires an audit log service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit log repository required")
	}
	return &service{repo: repo}, nil
}

// Record appends entry using tx when provided so the entry commits with the
// change it describes.
func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if !entry.Action.IsValid() {
		return fmt.Errorf("invalid admin log action %q", entry.Action)
	}
	description := strings.TrimSpace(entry.Description)
	if len(description) > maxDescriptionLength {
		description = description[:maxDescriptionLength]
	}
	row := &models.AdminLog{
		ActorID:     entry.ActorID,
		Action:      entry.Action,
		Description: description,
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to write admin log")
	}
	return nil
}

func (s *service) List(ctx context.Context, actor access.Actor, filter ListFilter, params pagination.Params) (*ListResult, error) {
	if err := actor.Require(access.ManageStaff); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, filter, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list admin logs")
	}

	entries, next := pagination.Trim(rows, params.Limit, func(row models.AdminLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return &ListResult{Entries: entries, NextCursor: next}, nil
}
