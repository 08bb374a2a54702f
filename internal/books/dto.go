package books

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/pkg/db/models"
)

// BookDTO is the catalog view of a title.
type BookDTO struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Category        string    `json:"category"`
	Publisher       *string   `json:"publisher,omitempty"`
	YearPublished   *int      `json:"year_published,omitempty"`
	CopiesTotal     int       `json:"copies_total"`
	CopiesAvailable int       `json:"copies_available"`
	Description     *string   `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateInput holds a validated new title. Every copy starts on the shelf.
type CreateInput struct {
	ISBN          string  `json:"isbn" validate:"required,max=20"`
	Title         string  `json:"title" validate:"required,max=255"`
	Author        string  `json:"author" validate:"required,max=255"`
	Category      string  `json:"category" validate:"required,max=100"`
	Publisher     *string `json:"publisher" validate:"omitempty,max=255"`
	YearPublished *int    `json:"year_published" validate:"omitempty,gte=1000,lte=9999"`
	CopiesTotal   int     `json:"copies_total" validate:"gte=1"`
	Description   *string `json:"description"`
}

// UpdateInput carries optional changes. Changing CopiesTotal moves
// CopiesAvailable by the same delta.
type UpdateInput struct {
	ISBN          *string `json:"isbn" validate:"omitempty,min=1,max=20"`
	Title         *string `json:"title" validate:"omitempty,min=1,max=255"`
	Author        *string `json:"author" validate:"omitempty,min=1,max=255"`
	Category      *string `json:"category" validate:"omitempty,min=1,max=100"`
	Publisher     *string `json:"publisher" validate:"omitempty,max=255"`
	YearPublished *int    `json:"year_published" validate:"omitempty,gte=1000,lte=9999"`
	CopiesTotal   *int    `json:"copies_total" validate:"omitempty,gte=1"`
	Description   *string `json:"description"`
}

// ListInput filters the catalog. Query matches title, author or isbn.
type ListInput struct {
	Query    string
	Category string
	// Shelved hides titles without any copies, as the student catalog does.
	Shelved bool
	Limit   int
	Cursor  string
}

// ListResult is one page of books ordered by title.
type ListResult struct {
	Books      []BookDTO `json:"books"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ExportResult names the file an export was written as.
type ExportResult struct {
	Filename string `json:"filename"`
	Rows     int    `json:"rows"`
}

func toDTO(book models.Book) BookDTO {
	return BookDTO{
		ID:              book.ID,
		ISBN:            book.ISBN,
		Title:           book.Title,
		Author:          book.Author,
		Category:        book.Category,
		Publisher:       book.Publisher,
		YearPublished:   book.YearPublished,
		CopiesTotal:     book.CopiesTotal,
		CopiesAvailable: book.CopiesAvailable,
		Description:     book.Description,
		CreatedAt:       book.CreatedAt,
		UpdatedAt:       book.UpdatedAt,
	}
}

// titleCursor is the keyset position for title-ordered pages.
type titleCursor struct {
	Title string
	ID    uuid.UUID
}

func encodeTitleCursor(c titleCursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(c.ID.String() + "|" + c.Title))
}

func parseTitleCursor(value string) (*titleCursor, error) {
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
	return &titleCursor{Title: parts[1], ID: id}, nil
}
