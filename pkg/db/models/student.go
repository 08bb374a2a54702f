package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Student is a borrower on the roster. UserID links the optional self-service login.
type Student struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	SchoolID    string     `gorm:"column:student_id;not null;uniqueIndex:students_student_id_key"`
	UserID      *uuid.UUID `gorm:"column:user_id;type:uuid"`
	LastName    string     `gorm:"column:last_name;not null"`
	FirstName   string     `gorm:"column:first_name;not null"`
	MiddleName  *string    `gorm:"column:middle_name"`
	Course      string     `gorm:"column:course;not null"`
	Year        string     `gorm:"column:year;not null"`
	Section     string     `gorm:"column:section;not null"`
	PhoneNumber *string    `gorm:"column:phone_number"`
	Email       *string    `gorm:"column:email"`
	IsApproved  bool       `gorm:"column:is_approved;not null;default:false"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Student) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// FullName renders "Last, First Middle".
func (s Student) FullName() string {
	name := s.LastName + ", " + s.FirstName
	if s.MiddleName != nil && strings.TrimSpace(*s.MiddleName) != "" {
		name += " " + strings.TrimSpace(*s.MiddleName)
	}
	return name
}
