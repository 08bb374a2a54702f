package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	pkgAuth "github.com/angelmondragon/library-backend/pkg/auth"
	"github.com/angelmondragon/library-backend/pkg/auth/session"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	redisclient "github.com/angelmondragon/library-backend/pkg/redis"
	"github.com/angelmondragon/library-backend/pkg/security"
)

var testJWT = config.JWTConfig{
	Secret:                 "secret",
	Issuer:                 "library",
	ExpirationMinutes:      30,
	RefreshTokenTTLMinutes: 120,
}

func TestServiceLoginStaff(t *testing.T) {
	user := newUser(t, "librarian1", "shelf-2024", enums.UserRoleLibrarian)
	svc, repo := buildTestService(t, user, nil)

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "librarian1", Password: "shelf-2024"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Role != enums.UserRoleLibrarian {
		t.Fatalf("expected librarian role claim, got %s", claims.Role)
	}
	if claims.StudentID != nil {
		t.Fatalf("expected no student claim for staff")
	}
	if resp.RefreshToken == "" {
		t.Fatalf("expected refresh token to be set")
	}
	if repo.lastLogin == nil {
		t.Fatalf("expected last login to be recorded")
	}
}

func TestServiceLoginStudentCarriesRosterID(t *testing.T) {
	user := newUser(t, "2024-00001", "library2024", enums.UserRoleStudent)
	student := &models.Student{ID: uuid.New(), UserID: &user.ID}
	svc, _ := buildTestService(t, user, student)

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "2024-00001", Password: "library2024"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.StudentID == nil || *claims.StudentID != student.ID {
		t.Fatalf("expected student claim %s, got %v", student.ID, claims.StudentID)
	}
}

func TestServiceLoginRejectsBadCredentials(t *testing.T) {
	user := newUser(t, "pos1", "counter-2024", enums.UserRolePOS)
	svc, _ := buildTestService(t, user, nil)

	cases := []LoginRequest{
		{Username: "pos1", Password: "wrong-pass1"},
		{Username: "nobody", Password: "counter-2024"},
		{Username: "", Password: "counter-2024"},
	}
	for _, req := range cases {
		_, err := svc.Login(context.Background(), req)
		if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			t.Fatalf("expected unauthorized for %q, got %v", req.Username, err)
		}
	}
}

func TestServiceLoginRejectsInactiveAccount(t *testing.T) {
	user := newUser(t, "2024-00002", "library2024", enums.UserRoleStudent)
	user.IsActive = false
	student := &models.Student{ID: uuid.New(), UserID: &user.ID}
	svc, _ := buildTestService(t, user, student)

	_, err := svc.Login(context.Background(), LoginRequest{Username: "2024-00002", Password: "library2024"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestServiceRefreshRotatesSession(t *testing.T) {
	user := newUser(t, "admin", "admin-2024", enums.UserRoleAdmin)
	svc, _ := buildTestService(t, user, nil)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Username: "admin", Password: "admin-2024"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	first, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}

	pair, err := svc.Refresh(ctx, RefreshRequest{AccessID: first.ID, RefreshToken: resp.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second, err := pkgAuth.ParseAccessToken(testJWT, pair.AccessToken)
	if err != nil {
		t.Fatalf("parse refreshed token: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new session id")
	}
	if second.Role != enums.UserRoleAdmin {
		t.Fatalf("expected admin role, got %s", second.Role)
	}

	_, err = svc.Refresh(ctx, RefreshRequest{AccessID: first.ID, RefreshToken: resp.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected reused refresh token to fail, got %v", err)
	}
}

func TestServiceRefreshDropsDeactivatedAccount(t *testing.T) {
	user := newUser(t, "pos2", "counter-2024", enums.UserRolePOS)
	svc, _ := buildTestService(t, user, nil)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Username: "pos2", Password: "counter-2024"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, _ := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)

	user.IsActive = false
	_, err = svc.Refresh(ctx, RefreshRequest{AccessID: claims.ID, RefreshToken: resp.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestServiceLogoutRevokesSession(t *testing.T) {
	user := newUser(t, "librarian2", "shelf-2024", enums.UserRoleLibrarian)
	svc, _ := buildTestService(t, user, nil)
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Username: "librarian2", Password: "shelf-2024"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, _ := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)

	if err := svc.Logout(ctx, claims.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = svc.Refresh(ctx, RefreshRequest{AccessID: claims.ID, RefreshToken: resp.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
}

func buildTestService(t *testing.T, user *models.User, student *models.Student) (Service, *stubUserRepo) {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := redislib.NewClient(&redislib.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	manager, err := session.NewManager(redisclient.FromRaw(raw), testJWT)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	repo := &stubUserRepo{user: user}
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		StudentRepo:    stubStudentRepo{student: student},
		SessionManager: manager,
		JWTConfig:      testJWT,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, repo
}

func newUser(t *testing.T, username, password string, role enums.UserRole) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
}

type stubUserRepo struct {
	user      *models.User
	lastLogin *time.Time
}

func (s *stubUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if s.user == nil || s.user.Username != username {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

func (s *stubUserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.lastLogin = &at
	return nil
}

type stubStudentRepo struct {
	student *models.Student
}

func (s stubStudentRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Student, error) {
	if s.student == nil || s.student.UserID == nil || *s.student.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.student, nil
}
