package students

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/repo"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

// Repository persists roster rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, student *models.Student) error
	Save(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Student, error)
	FindByStudentID(ctx context.Context, studentID string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Student, error)
	ExistingStudentIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	List(ctx context.Context, query string, limit int, cursor *nameCursor) ([]models.Student, error)
	ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Student, error)
	CountOpenTransactions(ctx context.Context, id uuid.UUID) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a roster repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, student *models.Student) error {
	return r.DB(ctx).Create(student).Error
}

func (r *repository) Save(ctx context.Context, student *models.Student) error {
	return r.DB(ctx).Save(student).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Delete(&models.Student{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var student models.Student
	if err := r.DB(ctx).Where("id = ?", id).First(&student).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *repository) FindByStudentID(ctx context.Context, studentID string) (*models.Student, error) {
	var student models.Student
	if err := r.DB(ctx).Where("student_id = ?", studentID).First(&student).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Student, error) {
	var student models.Student
	if err := r.DB(ctx).Where("user_id = ?", userID).First(&student).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *repository) ExistingStudentIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(ids) == 0 {
		return found, nil
	}
	var rows []string
	if err := r.DB(ctx).Model(&models.Student{}).Where("student_id IN ?", ids).Pluck("student_id", &rows).Error; err != nil {
		return nil, err
	}
	for _, id := range rows {
		found[id] = struct{}{}
	}
	return found, nil
}

func (r *repository) List(ctx context.Context, query string, limit int, cursor *nameCursor) ([]models.Student, error) {
	q := r.DB(ctx).Model(&models.Student{})
	if term := strings.ToLower(strings.TrimSpace(query)); term != "" {
		like := "%" + term + "%"
		q = q.Where("(LOWER(student_id) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)", like, like, like)
	}
	if cursor != nil {
		q = q.Where("(last_name > ? OR (last_name = ? AND id > ?))", cursor.LastName, cursor.LastName, cursor.ID)
	}
	var students []models.Student
	if err := q.Order("last_name ASC").Order("id ASC").Limit(limit).Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// ListPending returns students who registered a login but await approval.
func (r *repository) ListPending(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Student, error) {
	q := r.DB(ctx).Model(&models.Student{}).Where("user_id IS NOT NULL AND is_approved = ?", false)
	if cursor != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var students []models.Student
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// CountOpenTransactions counts pending transactions and approved ones not yet
// fully returned.
func (r *repository) CountOpenTransactions(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.Transaction{}).
		Where("student_id = ?", id).
		Where("(approval_status = ? OR (approval_status = ? AND status = ?))",
			enums.ApprovalStatusPending, enums.ApprovalStatusApproved, enums.TransactionStatusBorrowed).
		Count(&count).Error
	return count, err
}
