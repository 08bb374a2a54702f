package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/auditlog"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/angelmondragon/library-backend/pkg/security"
)

func testPasswordConfig() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func newTestService(t *testing.T) (Service, *gorm.DB, access.Actor) {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.User{}, &models.AdminLog{}))

	admin := models.User{Username: "admin", PasswordHash: "x", Role: enums.UserRoleAdmin, IsActive: true}
	require.NoError(t, conn.Create(&admin).Error)

	audit, err := auditlog.NewService(auditlog.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:             db.FromGorm(conn),
		Repo:           NewRepository(conn),
		Audit:          audit,
		PasswordConfig: testPasswordConfig(),
	})
	require.NoError(t, err)
	return svc, conn, access.Actor{UserID: admin.ID, Role: enums.UserRoleAdmin}
}

func TestCreateStaffGeneratesTemporaryPassword(t *testing.T) {
	svc, conn, admin := newTestService(t)

	created, err := svc.CreateStaff(context.Background(), admin, CreateStaffInput{Username: " pos1 ", Role: enums.UserRolePOS})
	require.NoError(t, err)
	assert.Equal(t, "pos1", created.User.Username)
	assert.True(t, created.User.IsActive)
	require.Len(t, created.TemporaryPassword, tempPasswordLength)

	var stored models.User
	require.NoError(t, conn.First(&stored, "id = ?", created.User.ID).Error)
	ok, err := security.VerifyPassword(created.TemporaryPassword, stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	var log models.AdminLog
	require.NoError(t, conn.First(&log).Error)
	assert.Equal(t, enums.AdminLogActionPOSCreate, log.Action)

	_, err = svc.CreateStaff(context.Background(), admin, CreateStaffInput{Username: "pos1", Role: enums.UserRolePOS})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCreateStaffValidation(t *testing.T) {
	svc, _, admin := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateStaff(ctx, admin, CreateStaffInput{Username: "x", Role: enums.UserRoleStudent})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.CreateStaff(ctx, admin, CreateStaffInput{Username: "lib", Role: enums.UserRoleLibrarian, Password: "short"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	librarian := access.Actor{UserID: uuid.New(), Role: enums.UserRoleLibrarian}
	_, err = svc.CreateStaff(ctx, librarian, CreateStaffInput{Username: "lib", Role: enums.UserRoleLibrarian})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	created, err := svc.CreateStaff(ctx, admin, CreateStaffInput{Username: "lib", Role: enums.UserRoleLibrarian, Password: "library2024"})
	require.NoError(t, err)
	assert.Empty(t, created.TemporaryPassword)
}

func TestUpdateAndDeleteStaff(t *testing.T) {
	svc, _, admin := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateStaff(ctx, admin, CreateStaffInput{Username: "lib", Role: enums.UserRoleLibrarian})
	require.NoError(t, err)

	inactive := false
	email := " Lib@School.EDU "
	updated, err := svc.UpdateStaff(ctx, admin, created.User.ID, UpdateStaffInput{IsActive: &inactive, Email: &email})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	require.NotNil(t, updated.Email)
	assert.Equal(t, "lib@school.edu", *updated.Email)

	_, err = svc.UpdateStaff(ctx, admin, admin.UserID, UpdateStaffInput{IsActive: &inactive})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.True(t, pkgerrors.IsCode(svc.DeleteStaff(ctx, admin, admin.UserID), pkgerrors.CodeValidation))
	require.NoError(t, svc.DeleteStaff(ctx, admin, created.User.ID))
	assert.True(t, pkgerrors.IsCode(svc.DeleteStaff(ctx, admin, created.User.ID), pkgerrors.CodeNotFound))
}

func TestListStaffPages(t *testing.T) {
	svc, _, admin := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"pos1", "pos2"} {
		_, err := svc.CreateStaff(ctx, admin, CreateStaffInput{Username: name, Role: enums.UserRolePOS})
		require.NoError(t, err)
	}

	page, err := svc.ListStaff(ctx, admin, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Users, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := svc.ListStaff(ctx, admin, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, next.Users, 1)
}

func TestUpdateAccountRequiresCurrentPassword(t *testing.T) {
	svc, _, admin := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateStaff(ctx, admin, CreateStaffInput{Username: "lib", Role: enums.UserRoleLibrarian, Password: "library2024"})
	require.NoError(t, err)
	self := access.Actor{UserID: created.User.ID, Role: enums.UserRoleLibrarian}

	next := "changed2025"
	_, err = svc.UpdateAccount(ctx, self, AccountInput{CurrentPassword: "wrong", NewPassword: &next})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpdateAccount(ctx, self, AccountInput{CurrentPassword: "library2024", NewPassword: &next})
	require.NoError(t, err)

	me, err := svc.Me(ctx, self)
	require.NoError(t, err)
	assert.Equal(t, "lib", me.Username)

	_, err = svc.Me(ctx, access.Actor{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestBootstrapAdminOnlyOnFreshInstall(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BootstrapAdmin(ctx, BootstrapAdminInput{Username: "root", Password: "library2026"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "existing admin must block bootstrap: %v", err)

	require.NoError(t, conn.Where("role = ?", enums.UserRoleAdmin).Delete(&models.User{}).Error)

	_, err = svc.BootstrapAdmin(ctx, BootstrapAdminInput{Username: "root", Password: "short"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	created, err := svc.BootstrapAdmin(ctx, BootstrapAdminInput{Username: " root ", Password: "library2026"})
	require.NoError(t, err)
	assert.Equal(t, "root", created.Username)
	assert.Equal(t, enums.UserRoleAdmin, created.Role)
	assert.True(t, created.IsActive)

	var logs int64
	require.NoError(t, conn.Model(&models.AdminLog{}).Count(&logs).Error)
	assert.Zero(t, logs)
}
