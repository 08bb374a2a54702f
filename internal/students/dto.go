package students

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/pkg/db/models"
)

// StudentDTO is the roster view of a student.
type StudentDTO struct {
	ID          uuid.UUID  `json:"id"`
	StudentID   string     `json:"student_id"`
	LastName    string     `json:"last_name"`
	FirstName   string     `json:"first_name"`
	MiddleName  *string    `json:"middle_name,omitempty"`
	FullName    string     `json:"full_name"`
	Course      string     `json:"course"`
	Year        string     `json:"year"`
	Section     string     `json:"section"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
	Email       *string    `json:"email,omitempty"`
	IsApproved  bool       `json:"is_approved"`
	Registered  bool       `json:"registered"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateInput adds a roster entry. The student still has to register and be
// approved before borrowing.
type CreateInput struct {
	StudentID   string  `json:"student_id" validate:"required,max=20"`
	LastName    string  `json:"last_name" validate:"required,max=100"`
	FirstName   string  `json:"first_name" validate:"required,max=100"`
	MiddleName  *string `json:"middle_name" validate:"omitempty,max=100"`
	Course      string  `json:"course" validate:"required,max=100"`
	Year        string  `json:"year" validate:"required,max=10"`
	Section     string  `json:"section" validate:"required,max=10"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Email       *string `json:"email" validate:"omitempty,email"`
}

// UpdateInput carries optional roster changes.
type UpdateInput struct {
	StudentID   *string `json:"student_id" validate:"omitempty,min=1,max=20"`
	LastName    *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	FirstName   *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	MiddleName  *string `json:"middle_name" validate:"omitempty,max=100"`
	Course      *string `json:"course" validate:"omitempty,min=1,max=100"`
	Year        *string `json:"year" validate:"omitempty,min=1,max=10"`
	Section     *string `json:"section" validate:"omitempty,min=1,max=10"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Email       *string `json:"email" validate:"omitempty,email"`
}

// RegisterInput is the self-service signup for a student already on the roster.
type RegisterInput struct {
	StudentID   string  `json:"student_id" validate:"required"`
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
}

// ProfileInput is what a student may change about themselves.
type ProfileInput struct {
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Email       *string `json:"email" validate:"omitempty,email"`
}

// ListInput filters the roster. Query matches student id and names.
type ListInput struct {
	Query  string
	Limit  int
	Cursor string
}

// ListResult is one page of students ordered by last name.
type ListResult struct {
	Students   []StudentDTO `json:"students"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toDTO(s models.Student) StudentDTO {
	return StudentDTO{
		ID:          s.ID,
		StudentID:   s.SchoolID,
		LastName:    s.LastName,
		FirstName:   s.FirstName,
		MiddleName:  s.MiddleName,
		FullName:    s.FullName(),
		Course:      s.Course,
		Year:        s.Year,
		Section:     s.Section,
		PhoneNumber: s.PhoneNumber,
		Email:       s.Email,
		IsApproved:  s.IsApproved,
		Registered:  s.UserID != nil,
		UserID:      s.UserID,
		CreatedAt:   s.CreatedAt,
	}
}
