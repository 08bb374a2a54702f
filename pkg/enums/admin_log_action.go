package enums

import "fmt"

// AdminLogAction names an audited staff action.
type AdminLogAction string

const (
	AdminLogActionBookAdd            AdminLogAction = "book_add"
	AdminLogActionBookEdit           AdminLogAction = "book_edit"
	AdminLogActionBookDelete         AdminLogAction = "book_delete"
	AdminLogActionBookImport         AdminLogAction = "book_import"
	AdminLogActionBookExport         AdminLogAction = "book_export"
	AdminLogActionStudentAdd         AdminLogAction = "student_add"
	AdminLogActionStudentEdit        AdminLogAction = "student_edit"
	AdminLogActionStudentDelete      AdminLogAction = "student_delete"
	AdminLogActionStudentImport      AdminLogAction = "student_import"
	AdminLogActionStudentApprove     AdminLogAction = "student_approve"
	AdminLogActionStudentReject      AdminLogAction = "student_reject"
	AdminLogActionTransactionApprove AdminLogAction = "transaction_approve"
	AdminLogActionTransactionReject  AdminLogAction = "transaction_reject"
	AdminLogActionPOSCreate          AdminLogAction = "pos_create"
	AdminLogActionLibrarianCreate    AdminLogAction = "librarian_create"
	AdminLogActionSettingsUpdate     AdminLogAction = "settings_update"
)

var validAdminLogActions = []AdminLogAction{
	AdminLogActionBookAdd,
	AdminLogActionBookEdit,
	AdminLogActionBookDelete,
	AdminLogActionBookImport,
	AdminLogActionBookExport,
	AdminLogActionStudentAdd,
	AdminLogActionStudentEdit,
	AdminLogActionStudentDelete,
	AdminLogActionStudentImport,
	AdminLogActionStudentApprove,
	AdminLogActionStudentReject,
	AdminLogActionTransactionApprove,
	AdminLogActionTransactionReject,
	AdminLogActionPOSCreate,
	AdminLogActionLibrarianCreate,
	AdminLogActionSettingsUpdate,
}

// String implements fmt.Stringer.
func (a AdminLogAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AdminLogAction.
func (a AdminLogAction) IsValid() bool {
	for _, candidate := range validAdminLogActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAdminLogAction converts raw input into an AdminLogAction.
func ParseAdminLogAction(value string) (AdminLogAction, error) {
	for _, candidate := range validAdminLogActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid admin log action %q", value)
}
