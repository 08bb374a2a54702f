package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/angelmondragon/library-backend/pkg/security"
)

const (
	tempPasswordLength = 12
	usernameConstraint = "username"
)

var staffRoles = []enums.UserRole{enums.UserRoleAdmin, enums.UserRoleLibrarian, enums.UserRolePOS}

// Service manages login accounts.
type Service interface {
	CreateStaff(ctx context.Context, actor access.Actor, input CreateStaffInput) (*CreatedStaff, error)
	UpdateStaff(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateStaffInput) (*UserDTO, error)
	DeleteStaff(ctx context.Context, actor access.Actor, id uuid.UUID) error
	ListStaff(ctx context.Context, actor access.Actor, params pagination.Params) (*ListResult, error)
	Me(ctx context.Context, actor access.Actor) (*UserDTO, error)
	UpdateAccount(ctx context.Context, actor access.Actor, input AccountInput) (*UserDTO, error)
	BootstrapAdmin(ctx context.Context, input BootstrapAdminInput) (*UserDTO, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error
}

// ServiceParams packages the dependencies for account management.
type ServiceParams struct {
	DB             txRunner
	Repo           *Repository
	Audit          auditRecorder
	PasswordConfig config.PasswordConfig
}

type service struct {
	db          txRunner
	repo        *Repository
	audit       auditRecorder
	passwordCfg config.PasswordConfig
}

// NewService builds the account service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		audit:       params.Audit,
		passwordCfg: params.PasswordConfig,
	}, nil
}

func (s *service) CreateStaff(ctx context.Context, actor access.Actor, input CreateStaffInput) (*CreatedStaff, error) {
	if err := actor.Require(access.ManageStaff); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}

	var action enums.AdminLogAction
	switch input.Role {
	case enums.UserRoleLibrarian:
		action = enums.AdminLogActionLibrarianCreate
	case enums.UserRolePOS:
		action = enums.AdminLogActionPOSCreate
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be librarian or pos")
	}

	password := input.Password
	var temporary string
	if password == "" {
		generated, err := security.GenerateTempPassword(tempPasswordLength)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate password")
		}
		password, temporary = generated, generated
	} else if err := security.CheckPassword(password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	hash, err := security.HashPassword(password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var created *models.User
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		user, err := NewRepository(tx).Create(ctx, CreateUserDTO{
			Username:     username,
			Email:        normalizeEmail(input.Email),
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(input.FirstName),
			LastName:     strings.TrimSpace(input.LastName),
			Role:         input.Role,
		})
		if err != nil {
			return mapWriteError(err)
		}
		created = user
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      action,
			Description: fmt.Sprintf("Created %s account: %s", input.Role, username),
		})
	})
	if err != nil {
		return nil, err
	}

	return &CreatedStaff{User: *FromModel(created), TemporaryPassword: temporary}, nil
}

// BootstrapAdmin creates the first admin. It refuses once any admin exists,
// so it is only reachable from the operator CLI.
func (s *service) BootstrapAdmin(ctx context.Context, input BootstrapAdminInput) (*UserDTO, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}
	if err := security.CheckPassword(input.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	hash, err := security.HashPassword(input.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var created *models.User
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		admins, err := repo.CountByRole(ctx, enums.UserRoleAdmin)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to count admins")
		}
		if admins > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "an admin account already exists")
		}
		user, err := repo.Create(ctx, CreateUserDTO{
			Username:     username,
			Email:        normalizeEmail(input.Email),
			PasswordHash: hash,
			Role:         enums.UserRoleAdmin,
		})
		if err != nil {
			return mapWriteError(err)
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return FromModel(created), nil
}

func (s *service) UpdateStaff(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateStaffInput) (*UserDTO, error) {
	if err := actor.Require(access.ManageStaff); err != nil {
		return nil, err
	}

	user, err := s.loadStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "username cannot be empty")
		}
		user.Username = username
	}
	if input.Email != nil {
		user.Email = normalizeEmail(input.Email)
	}
	if input.FirstName != nil {
		user.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		user.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.IsActive != nil {
		if !*input.IsActive && user.ID == actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot deactivate your own account")
		}
		user.IsActive = *input.IsActive
	}
	if input.Password != nil && *input.Password != "" {
		if err := s.setPassword(user, *input.Password); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Save(ctx, user); err != nil {
		return nil, mapWriteError(err)
	}
	return FromModel(user), nil
}

func (s *service) DeleteStaff(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := actor.Require(access.ManageStaff); err != nil {
		return err
	}
	if id == actor.UserID {
		return pkgerrors.New(pkgerrors.CodeValidation, "cannot delete your own account")
	}
	user, err := s.loadStaff(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == enums.UserRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin accounts cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to delete user")
	}
	return nil
}

func (s *service) ListStaff(ctx context.Context, actor access.Actor, params pagination.Params) (*ListResult, error) {
	if err := actor.Require(access.ManageStaff); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByRoles(ctx, staffRoles, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list users")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(u models.User) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
	result := &ListResult{Users: make([]UserDTO, 0, len(rows)), NextCursor: next}
	for i := range rows {
		result.Users = append(result.Users, *FromModel(&rows[i]))
	}
	return result, nil
}

func (s *service) Me(ctx context.Context, actor access.Actor) (*UserDTO, error) {
	user, err := s.loadSelf(ctx, actor)
	if err != nil {
		return nil, err
	}
	return FromModel(user), nil
}

// UpdateAccount lets any user change their own email or password. A password
// change requires the current password.
func (s *service) UpdateAccount(ctx context.Context, actor access.Actor, input AccountInput) (*UserDTO, error) {
	user, err := s.loadSelf(ctx, actor)
	if err != nil {
		return nil, err
	}
	if input.Email != nil {
		user.Email = normalizeEmail(input.Email)
	}
	if input.NewPassword != nil && *input.NewPassword != "" {
		ok, err := security.VerifyPassword(input.CurrentPassword, user.PasswordHash)
		if err != nil || !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "current password is incorrect")
		}
		if err := s.setPassword(user, *input.NewPassword); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return nil, mapWriteError(err)
	}
	return FromModel(user), nil
}

func (s *service) setPassword(user *models.User, password string) error {
	if err := security.CheckPassword(password); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	hash, err := security.HashPassword(password, s.passwordCfg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	user.PasswordHash = hash
	return nil
}

func (s *service) loadSelf(ctx context.Context, actor access.Actor) (*models.User, error) {
	if !actor.Role.IsValid() || actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	user, err := s.repo.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, lookupError(err)
	}
	return user, nil
}

func (s *service) loadStaff(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	if user.Role == enums.UserRoleStudent {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return user, nil
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load user")
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err, usernameConstraint) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "username already taken")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to save user")
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	trimmed := strings.ToLower(strings.TrimSpace(*email))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
