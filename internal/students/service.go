package students

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/csvimport"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/metrics"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/angelmondragon/library-backend/pkg/security"
)

const (
	studentIDConstraint = "student_id"
	usernameConstraint  = "username"
)

// Service manages the student roster and student logins.
type Service interface {
	Create(ctx context.Context, actor access.Actor, input CreateInput) (*StudentDTO, error)
	Update(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateInput) (*StudentDTO, error)
	Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error
	Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error)
	List(ctx context.Context, actor access.Actor, input ListInput) (*ListResult, error)
	FindByStudentID(ctx context.Context, actor access.Actor, studentID string) (*StudentDTO, error)

	VerifyStudentID(ctx context.Context, studentID string) (*StudentDTO, error)
	Register(ctx context.Context, input RegisterInput) (*StudentDTO, error)
	ListPending(ctx context.Context, actor access.Actor, params pagination.Params) (*PendingResult, error)
	Approve(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error)
	Reject(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error)

	Profile(ctx context.Context, actor access.Actor) (*StudentDTO, error)
	UpdateProfile(ctx context.Context, actor access.Actor, input ProfileInput) (*StudentDTO, error)

	Import(ctx context.Context, actor access.Actor, src io.Reader) (*csvimport.Report, error)
	Template(dst io.Writer) error
}

// PendingResult is one page of registrations awaiting approval.
type PendingResult struct {
	Students   []StudentDTO `json:"students"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry auditlog.Entry) error
}

// ServiceParams packages the roster dependencies.
type ServiceParams struct {
	DB             txRunner
	Repo           Repository
	Audit          auditRecorder
	PasswordConfig config.PasswordConfig
	Metrics        *metrics.CirculationMetrics
}

type service struct {
	db          txRunner
	repo        Repository
	audit       auditRecorder
	passwordCfg config.PasswordConfig
	metrics     *metrics.CirculationMetrics
}

// NewService builds the roster service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("student repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		audit:       params.Audit,
		passwordCfg: params.PasswordConfig,
		metrics:     params.Metrics,
	}, nil
}

func (s *service) Create(ctx context.Context, actor access.Actor, input CreateInput) (*StudentDTO, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	student := models.Student{
		SchoolID:    strings.TrimSpace(input.StudentID),
		LastName:    strings.TrimSpace(input.LastName),
		FirstName:   strings.TrimSpace(input.FirstName),
		MiddleName:  trimOptional(input.MiddleName),
		Course:      strings.TrimSpace(input.Course),
		Year:        strings.TrimSpace(input.Year),
		Section:     strings.TrimSpace(input.Section),
		PhoneNumber: trimOptional(input.PhoneNumber),
		Email:       lowerOptional(input.Email),
	}
	if student.SchoolID == "" || student.LastName == "" || student.FirstName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id, last_name and first_name are required")
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &student); err != nil {
			return mapWriteError(err)
		}
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionStudentAdd,
			Description: fmt.Sprintf("Added student: %s (ID: %s)", student.FullName(), student.SchoolID),
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(student)
	return &dto, nil
}

func (s *service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, input UpdateInput) (*StudentDTO, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}

	var updated models.Student
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		student, err := repo.FindByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		applyString(&student.SchoolID, input.StudentID)
		applyString(&student.LastName, input.LastName)
		applyString(&student.FirstName, input.FirstName)
		applyString(&student.Course, input.Course)
		applyString(&student.Year, input.Year)
		applyString(&student.Section, input.Section)
		if input.MiddleName != nil {
			student.MiddleName = trimOptional(input.MiddleName)
		}
		if input.PhoneNumber != nil {
			student.PhoneNumber = trimOptional(input.PhoneNumber)
		}
		if input.Email != nil {
			student.Email = lowerOptional(input.Email)
		}

		if err := repo.Save(ctx, student); err != nil {
			return mapWriteError(err)
		}
		updated = *student
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionStudentEdit,
			Description: fmt.Sprintf("Updated student: %s (ID: %s)", student.FullName(), student.SchoolID),
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(updated)
	return &dto, nil
}

// Delete removes the roster entry and its login. Students with open loans are
// kept so no copy goes missing from the inventory.
func (s *service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := actor.Require(access.ManageStudents); err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		student, err := repo.FindByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		open, err := repo.CountOpenTransactions(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to check transactions")
		}
		if open > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "student has open transactions").
				WithDetails(map[string]any{"open_transactions": open})
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to delete student")
		}
		if student.UserID != nil {
			if err := users.NewRepository(tx).Delete(ctx, *student.UserID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to delete student login")
			}
		}
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionStudentDelete,
			Description: fmt.Sprintf("Deleted student: %s (ID: %s)", student.FullName(), student.SchoolID),
		})
	})
}

func (s *service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error) {
	if !actor.Can(access.ManageStudents) && !actor.Can(access.OriginateTransactions) {
		if actor.StudentID == nil || *actor.StudentID != id {
			return nil, actor.Require(access.ManageStudents)
		}
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	dto := toDTO(*student)
	return &dto, nil
}

func (s *service) List(ctx context.Context, actor access.Actor, input ListInput) (*ListResult, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	cursor, err := parseNameCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Limit)
	rows, err := s.repo.List(ctx, input.Query, limit+1, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list students")
	}

	result := &ListResult{Students: make([]StudentDTO, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		result.NextCursor = encodeNameCursor(nameCursor{LastName: last.LastName, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		result.Students = append(result.Students, toDTO(row))
	}
	return result, nil
}

// FindByStudentID is the POS lookup: only approved students may borrow.
func (s *service) FindByStudentID(ctx context.Context, actor access.Actor, studentID string) (*StudentDTO, error) {
	if !actor.Can(access.OriginateTransactions) && !actor.Can(access.ManageStudents) {
		return nil, actor.Require(access.OriginateTransactions)
	}
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id is required")
	}
	student, err := s.repo.FindByStudentID(ctx, studentID)
	if err != nil {
		return nil, lookupError(err)
	}
	if !student.IsApproved {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found or not approved")
	}
	dto := toDTO(*student)
	return &dto, nil
}

// VerifyStudentID checks that a roster entry exists and has no login yet.
func (s *service) VerifyStudentID(ctx context.Context, studentID string) (*StudentDTO, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id is required")
	}
	student, err := s.repo.FindByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student ID not found in the system, please contact the admin")
		}
		return nil, lookupError(err)
	}
	if student.UserID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "this student ID is already registered")
	}
	dto := toDTO(*student)
	return &dto, nil
}

// Register creates an inactive student login, username = student id, and
// links it to the roster entry. The login works after approval.
func (s *service) Register(ctx context.Context, input RegisterInput) (*StudentDTO, error) {
	studentID := strings.TrimSpace(input.StudentID)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if studentID == "" || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id and email are required")
	}
	if err := security.CheckPassword(input.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	hash, err := security.HashPassword(input.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var registered models.Student
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		student, err := repo.FindByStudentID(ctx, studentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "student ID not found in the system, please contact the admin")
			}
			return lookupError(err)
		}
		if student.UserID != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "this student ID is already registered")
		}

		inactive := false
		user, err := users.NewRepository(tx).Create(ctx, users.CreateUserDTO{
			Username:     studentID,
			Email:        &email,
			PasswordHash: hash,
			FirstName:    student.FirstName,
			LastName:     student.LastName,
			Role:         enums.UserRoleStudent,
			IsActive:     &inactive,
		})
		if err != nil {
			if db.IsUniqueViolation(err, usernameConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "this student ID is already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to create login")
		}

		student.UserID = &user.ID
		student.Email = &email
		if input.PhoneNumber != nil {
			student.PhoneNumber = trimOptional(input.PhoneNumber)
		}
		student.IsApproved = false
		if err := repo.Save(ctx, student); err != nil {
			return mapWriteError(err)
		}
		registered = *student
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(registered)
	return &dto, nil
}

func (s *service) ListPending(ctx context.Context, actor access.Actor, params pagination.Params) (*PendingResult, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListPending(ctx, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to list pending students")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(st models.Student) pagination.Cursor {
		return pagination.Cursor{CreatedAt: st.CreatedAt, ID: st.ID}
	})
	result := &PendingResult{Students: make([]StudentDTO, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		result.Students = append(result.Students, toDTO(row))
	}
	return result, nil
}

// Approve marks the student approved and activates their login.
func (s *service) Approve(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	var approved models.Student
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		student, err := repo.FindByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		student.IsApproved = true
		if err := repo.Save(ctx, student); err != nil {
			return mapWriteError(err)
		}
		if student.UserID != nil {
			if err := users.NewRepository(tx).SetActive(ctx, *student.UserID, true); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to activate login")
			}
		}
		approved = *student
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionStudentApprove,
			Description: fmt.Sprintf("Approved student: %s (ID: %s)", student.FullName(), student.SchoolID),
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(approved)
	return &dto, nil
}

// Reject drops the registration: the login is deleted and the roster entry
// can register again.
func (s *service) Reject(ctx context.Context, actor access.Actor, id uuid.UUID) (*StudentDTO, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	var rejected models.Student
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		student, err := repo.FindByID(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		if student.UserID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "student has no pending registration")
		}
		userID := *student.UserID
		student.UserID = nil
		student.IsApproved = false
		if err := repo.Save(ctx, student); err != nil {
			return mapWriteError(err)
		}
		if err := users.NewRepository(tx).Delete(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to delete login")
		}
		rejected = *student
		return s.audit.Record(ctx, tx, auditlog.Entry{
			ActorID:     actor.ActorRef(),
			Action:      enums.AdminLogActionStudentReject,
			Description: fmt.Sprintf("Rejected registration: %s (ID: %s)", student.FullName(), student.SchoolID),
		})
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(rejected)
	return &dto, nil
}

func (s *service) Profile(ctx context.Context, actor access.Actor) (*StudentDTO, error) {
	student, err := s.self(ctx, actor)
	if err != nil {
		return nil, err
	}
	dto := toDTO(*student)
	return &dto, nil
}

// UpdateProfile changes a student's own contact details. The email is kept
// in sync on the login so reminders and account mail agree.
func (s *service) UpdateProfile(ctx context.Context, actor access.Actor, input ProfileInput) (*StudentDTO, error) {
	student, err := s.self(ctx, actor)
	if err != nil {
		return nil, err
	}
	var updated models.Student
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if input.PhoneNumber != nil {
			student.PhoneNumber = trimOptional(input.PhoneNumber)
		}
		if input.Email != nil {
			student.Email = lowerOptional(input.Email)
			userRepo := users.NewRepository(tx)
			user, err := userRepo.FindByID(ctx, actor.UserID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load login")
			}
			user.Email = student.Email
			if err := userRepo.Save(ctx, user); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update login")
			}
		}
		if err := s.repo.WithTx(tx).Save(ctx, student); err != nil {
			return mapWriteError(err)
		}
		updated = *student
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := toDTO(updated)
	return &dto, nil
}

func (s *service) self(ctx context.Context, actor access.Actor) (*models.Student, error) {
	if err := actor.Require(access.ViewOwnLoans); err != nil {
		return nil, err
	}
	student, err := s.repo.FindByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, lookupError(err)
	}
	return student, nil
}

// nameCursor is the keyset position for last-name-ordered pages.
type nameCursor struct {
	LastName string
	ID       uuid.UUID
}

func encodeNameCursor(c nameCursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(c.ID.String() + "|" + c.LastName))
}

func parseNameCursor(value string) (*nameCursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return &nameCursor{LastName: parts[1], ID: id}, nil
}

func lookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load student")
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err, studentIDConstraint) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "a student with this ID already exists")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to save student")
}

func applyString(dst *string, value *string) {
	if value == nil {
		return
	}
	if trimmed := strings.TrimSpace(*value); trimmed != "" {
		*dst = trimmed
	}
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func lowerOptional(value *string) *string {
	trimmed := trimOptional(value)
	if trimmed == nil {
		return nil
	}
	lowered := strings.ToLower(*trimmed)
	return &lowered
}
