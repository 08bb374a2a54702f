package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/circulation"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
)

// stubCirculation overrides the ledger calls a test needs; anything else
// panics through the nil embedded interface.
type stubCirculation struct {
	circulation.Service

	created  circulation.CreateInput
	returned circulation.ReturnInput
	loans    struct {
		student uuid.UUID
		filter  circulation.LoanFilter
	}
	err error
}

func (s *stubCirculation) Create(ctx context.Context, actor access.Actor, input circulation.CreateInput) (*circulation.TransactionDTO, error) {
	s.created = input
	if s.err != nil {
		return nil, s.err
	}
	return &circulation.TransactionDTO{ID: uuid.New(), Code: "SCH-20240101-ABCDEF", ApprovalStatus: enums.ApprovalStatusPending}, nil
}

func (s *stubCirculation) Approve(ctx context.Context, actor access.Actor, id uuid.UUID) (*circulation.TransactionDTO, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &circulation.TransactionDTO{ID: id, ApprovalStatus: enums.ApprovalStatusApproved}, nil
}

func (s *stubCirculation) ReturnItems(ctx context.Context, actor access.Actor, input circulation.ReturnInput) (*circulation.ReturnResult, error) {
	s.returned = input
	return &circulation.ReturnResult{AllReturned: len(input.ItemIDs) == 0}, s.err
}

func (s *stubCirculation) ListForStudent(ctx context.Context, actor access.Actor, studentID uuid.UUID, filter circulation.LoanFilter, params pagination.Params) (*circulation.ListResult, error) {
	s.loans.student = studentID
	s.loans.filter = filter
	return &circulation.ListResult{}, s.err
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestTransactionCreateReturns201(t *testing.T) {
	svc := &stubCirculation{}
	studentID, bookID := uuid.New(), uuid.New()
	body, _ := json.Marshal(map[string]any{"student_id": studentID, "book_ids": []uuid.UUID{bookID, bookID}})

	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(body)), enums.UserRolePOS)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, studentID, svc.created.StudentID)
	assert.Len(t, svc.created.BookIDs, 2)
}

func TestTransactionCreateRequiresBooks(t *testing.T) {
	body := []byte(`{"student_id":"` + uuid.NewString() + `","book_ids":[]}`)
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(body)), enums.UserRolePOS)
	resp := httptest.NewRecorder()
	TransactionCreate(&stubCirculation{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTransactionCreateWithoutActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()
	TransactionCreate(&stubCirculation{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestTransactionApproveMapsStateConflict(t *testing.T) {
	svc := &stubCirculation{err: pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not pending")}
	req := withActor(httptest.NewRequest(http.MethodPost, "/", nil), enums.UserRoleLibrarian)
	req = withURLParam(req, "transactionId", uuid.NewString())
	resp := httptest.NewRecorder()
	TransactionApprove(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestTransactionApproveRejectsBadID(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodPost, "/", nil), enums.UserRoleLibrarian)
	req = withURLParam(req, "transactionId", "not-a-uuid")
	resp := httptest.NewRecorder()
	TransactionApprove(&stubCirculation{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTransactionReturnAcceptsEmptyBody(t *testing.T) {
	svc := &stubCirculation{}
	txnID := uuid.New()
	req := withActor(httptest.NewRequest(http.MethodPost, "/", nil), enums.UserRolePOS)
	req = withURLParam(req, "transactionId", txnID.String())
	resp := httptest.NewRecorder()
	TransactionReturn(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, txnID, svc.returned.TransactionID)
	assert.Empty(t, svc.returned.ItemIDs)
}

func TestTransactionReturnPartial(t *testing.T) {
	svc := &stubCirculation{}
	itemID := uuid.New()
	req := withActor(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"item_ids":["`+itemID.String()+`"]}`))), enums.UserRolePOS)
	req = withURLParam(req, "transactionId", uuid.NewString())
	resp := httptest.NewRecorder()
	TransactionReturn(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []uuid.UUID{itemID}, svc.returned.ItemIDs)
}

func TestTransactionByCodeRequiresCode(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/lookup", nil), enums.UserRolePOS)
	resp := httptest.NewRecorder()
	TransactionByCode(&stubCirculation{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMyLoansUsesOwnStudentID(t *testing.T) {
	svc := &stubCirculation{}
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/me/loans?status=overdue", nil), enums.UserRoleStudent)
	actorStudent := *mustActor(t, req).StudentID
	resp := httptest.NewRecorder()
	MyLoans(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, actorStudent, svc.loans.student)
	assert.Equal(t, circulation.LoanFilterOverdue, svc.loans.filter)
}

func TestMyLoansRejectsUnknownFilter(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/me/loans?status=lost", nil), enums.UserRoleStudent)
	resp := httptest.NewRecorder()
	MyLoans(&stubCirculation{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func mustActor(t *testing.T, req *http.Request) *access.Actor {
	t.Helper()
	actor, err := requireActor(req)
	require.NoError(t, err)
	return &actor
}
