package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

func TestRequireCapability(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name  string
		actor *access.Actor
		caps  []access.Capability
		want  int
	}{
		{"anonymous", nil, []access.Capability{access.ManageCatalog}, http.StatusUnauthorized},
		{"pos cannot manage catalog", &access.Actor{UserID: uuid.New(), Role: enums.UserRolePOS}, []access.Capability{access.ManageCatalog}, http.StatusForbidden},
		{"librarian manages catalog", &access.Actor{UserID: uuid.New(), Role: enums.UserRoleLibrarian}, []access.Capability{access.ManageCatalog}, http.StatusNoContent},
		{"any listed capability admits", &access.Actor{UserID: uuid.New(), Role: enums.UserRolePOS}, []access.Capability{access.ReviewTransactions, access.ReturnItems}, http.StatusNoContent},
		{"student blocked from review", &access.Actor{UserID: uuid.New(), Role: enums.UserRoleStudent}, []access.Capability{access.ReviewTransactions}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.actor != nil {
				req = req.WithContext(WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			RequireCapability(nil, tt.caps...)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d got %d", tt.want, rec.Code)
			}
		})
	}
}
