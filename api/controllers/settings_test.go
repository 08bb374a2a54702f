package controllers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/settings"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

type stubSettings struct {
	current settings.Settings
}

func (s *stubSettings) Current() settings.Settings { return s.current }

func (s *stubSettings) Update(ctx context.Context, actor access.Actor, input settings.UpdateInput) (*settings.Settings, error) {
	if err := actor.Require(access.ManageSettings); err != nil {
		return nil, err
	}
	s.current.SystemName = input.SystemName
	return &s.current, nil
}

func TestSettingsGetIsPublic(t *testing.T) {
	store := &stubSettings{current: settings.Settings{SystemName: "Library Management System"}}
	resp := httptest.NewRecorder()
	SettingsGet(store, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Library Management System")
}

func TestSettingsUpdateRequiresAdmin(t *testing.T) {
	store := &stubSettings{}
	body := []byte(`{"system_name":"Campus Library"}`)

	req := withActor(httptest.NewRequest(http.MethodPut, "/api/v1/settings", bytes.NewReader(body)), enums.UserRoleLibrarian)
	resp := httptest.NewRecorder()
	SettingsUpdate(store, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = withActor(httptest.NewRequest(http.MethodPut, "/api/v1/settings", bytes.NewReader(body)), enums.UserRoleAdmin)
	resp = httptest.NewRecorder()
	SettingsUpdate(store, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Campus Library", store.current.SystemName)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReadyReportsDependencyFailure(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	deps := map[string]Pinger{
		"database": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, deps).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	delete(deps, "redis")
	resp = httptest.NewRecorder()
	HealthReady(cfg, nil, deps).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "dev", resp.Header().Get("X-Library-Env"))
}
