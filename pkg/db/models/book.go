package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog title and its copy counts.
type Book struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ISBN            string    `gorm:"column:isbn;not null;uniqueIndex:books_isbn_key"`
	Title           string    `gorm:"column:title;not null"`
	Author          string    `gorm:"column:author;not null"`
	Category        string    `gorm:"column:category;not null"`
	Publisher       *string   `gorm:"column:publisher"`
	YearPublished   *int      `gorm:"column:year_published"`
	CopiesTotal     int       `gorm:"column:copies_total;not null;check:books_copies_total_check,copies_total >= 0"`
	CopiesAvailable int       `gorm:"column:copies_available;not null;check:books_copies_available_check,copies_available >= 0 AND copies_available <= copies_total"`
	Description     *string   `gorm:"column:description"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
