package students

import (
	"context"
	"fmt"
	"io"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/csvimport"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
)

const importKind = "students"

var importColumns = csvimport.Columns{
	"student_id":   {"Student ID", "id_number"},
	"last_name":    {"Last Name", "surname"},
	"first_name":   {"First Name"},
	"middle_name":  {"Middle Name"},
	"course":       {"Course", "program"},
	"year":         {"Year", "year_level"},
	"section":      {"Section"},
	"email":        {"Email"},
	"phone_number": {"Phone Number", "phone"},
}

var (
	templateHeader = []string{"Student ID", "Last Name", "First Name", "Middle Name", "Course", "Year", "Section"}
	templateSample = []string{"2024-12345", "Dela Cruz", "Juan", "Santos", "BSIT", "1", "A"}
)

type importRow struct {
	StudentID string `csv:"student_id" validate:"required,max=20"`
	LastName  string `csv:"last_name" validate:"required,max=100"`
	FirstName string `csv:"first_name" validate:"required,max=100"`
	Course    string `csv:"course" validate:"required,max=100"`
	Year      string `csv:"year" validate:"required,max=10"`
	Section   string `csv:"section" validate:"required,max=10"`
	Email     string `csv:"email" validate:"omitempty,email"`
}

func parseImportRow(row csvimport.Row) (*models.Student, error) {
	parsed := importRow{
		StudentID: row.Get("student_id"),
		LastName:  row.Get("last_name"),
		FirstName: row.Get("first_name"),
		Course:    row.Get("course"),
		Year:      row.Get("year"),
		Section:   row.Get("section"),
		Email:     row.Get("email"),
	}
	if err := csvimport.Validate(parsed); err != nil {
		return nil, err
	}
	student := &models.Student{
		SchoolID:  parsed.StudentID,
		LastName:  parsed.LastName,
		FirstName: parsed.FirstName,
		Course:    parsed.Course,
		Year:      parsed.Year,
		Section:   parsed.Section,
	}
	if v := row.Get("middle_name"); v != "" {
		student.MiddleName = &v
	}
	if parsed.Email != "" {
		student.Email = lowerOptional(&parsed.Email)
	}
	if v := row.Get("phone_number"); v != "" {
		student.PhoneNumber = &v
	}
	return student, nil
}

// Import adds one roster entry per valid row. Existing student ids are
// reported and left untouched.
func (s *service) Import(ctx context.Context, actor access.Actor, src io.Reader) (*csvimport.Report, error) {
	if err := actor.Require(access.ManageStudents); err != nil {
		return nil, err
	}
	rows, err := csvimport.Read(src, importColumns, "student_id", "last_name", "first_name", "course", "year", "section")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid csv file")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id := row.Get("student_id"); id != "" {
			ids = append(ids, id)
		}
	}
	existing, err := s.repo.ExistingStudentIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to check existing students")
	}

	report := &csvimport.Report{Errors: []csvimport.RowError{}}
	for _, row := range rows {
		student, err := parseImportRow(row)
		if err != nil {
			report.Fail(row.Line, err.Error())
			continue
		}
		if _, dup := existing[student.SchoolID]; dup {
			report.Fail(row.Line, fmt.Sprintf("student ID %s already exists", student.SchoolID))
			continue
		}
		if err := s.repo.Create(ctx, student); err != nil {
			if db.IsUniqueViolation(err, studentIDConstraint) {
				report.Fail(row.Line, fmt.Sprintf("student ID %s already exists", student.SchoolID))
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to import students")
		}
		existing[student.SchoolID] = struct{}{}
		report.Succeed()
	}

	s.metrics.RecordImport(importKind, report.Imported, report.Failed)
	if err := s.audit.Record(ctx, nil, auditlog.Entry{
		ActorID:     actor.ActorRef(),
		Action:      enums.AdminLogActionStudentImport,
		Description: fmt.Sprintf("Imported %d students (%d failed)", report.Imported, report.Failed),
	}); err != nil {
		return nil, err
	}
	return report, nil
}

// Template writes the import template with one sample row.
func (s *service) Template(dst io.Writer) error {
	return csvimport.WriteTemplate(dst, templateHeader, templateSample)
}
