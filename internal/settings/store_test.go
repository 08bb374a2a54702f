package settings

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
	"github.com/angelmondragon/library-backend/pkg/logger"
)

var admin = access.Actor{UserID: uuid.New(), Role: enums.UserRoleAdmin}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := "file:settings_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	audit, err := auditlog.NewService(auditlog.NewRepository(conn))
	require.NoError(t, err)
	store, err := NewStore(conn, db.FromGorm(conn), audit, config.SettingsConfig{SystemName: "ISU Library"}, logger.Nop())
	require.NoError(t, err)
	return store, conn
}

func TestReloadFallsBackToDefaults(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Reload(context.Background()))
	assert.Equal(t, "ISU Library", store.Current().SystemName)
	assert.Nil(t, store.Current().LogoURL)
}

func TestUpdatePersistsAndSwaps(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	logo := "https://cdn.example.com/logo.png"

	updated, err := store.Update(ctx, admin, UpdateInput{SystemName: "Campus Library", LogoURL: &logo})
	require.NoError(t, err)
	assert.Equal(t, "Campus Library", updated.SystemName)
	assert.Equal(t, "Campus Library", store.Current().SystemName)

	renamed, err := store.Update(ctx, admin, UpdateInput{SystemName: "Main Library"})
	require.NoError(t, err)
	require.NotNil(t, renamed.LogoURL)
	assert.Equal(t, logo, *renamed.LogoURL)

	var rows int64
	require.NoError(t, conn.Model(&models.SystemSettings{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	var logs int64
	require.NoError(t, conn.Model(&models.AdminLog{}).Where("action = ?", enums.AdminLogActionSettingsUpdate).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)

	fresh, err := NewStore(conn, db.FromGorm(conn), auditStub{}, config.SettingsConfig{}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, fresh.Reload(ctx))
	assert.Equal(t, "Main Library", fresh.Current().SystemName)
}

func TestUpdateClearsLogo(t *testing.T) {
	store, _ := newTestStore(t)
	logo := "https://cdn.example.com/logo.png"
	_, err := store.Update(context.Background(), admin, UpdateInput{SystemName: "Library", LogoURL: &logo})
	require.NoError(t, err)

	empty := ""
	updated, err := store.Update(context.Background(), admin, UpdateInput{SystemName: "Library", LogoURL: &empty})
	require.NoError(t, err)
	assert.Nil(t, updated.LogoURL)
}

func TestUpdateRequiresAdmin(t *testing.T) {
	store, _ := newTestStore(t)
	librarian := access.Actor{UserID: uuid.New(), Role: enums.UserRoleLibrarian}

	_, err := store.Update(context.Background(), librarian, UpdateInput{SystemName: "Nope"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, "ISU Library", store.Current().SystemName)

	_, err = store.Update(context.Background(), admin, UpdateInput{SystemName: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type auditStub struct{}

func (auditStub) Record(context.Context, *gorm.DB, auditlog.Entry) error { return nil }
