package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/library-backend/api/responses"
	"github.com/angelmondragon/library-backend/api/validators"
	"github.com/angelmondragon/library-backend/internal/access"
	"github.com/angelmondragon/library-backend/internal/settings"
	"github.com/angelmondragon/library-backend/pkg/logger"
)

// SettingsStore is the settings surface the HTTP layer needs.
type SettingsStore interface {
	Current() settings.Settings
	Update(ctx context.Context, actor access.Actor, input settings.UpdateInput) (*settings.Settings, error)
}

// SettingsGet serves the branding. It is public so the login screen can
// render it.
func SettingsGet(store SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settings"))
			return
		}
		responses.WriteSuccess(w, store.Current())
	}
}

func SettingsUpdate(store SettingsStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settings"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body settings.UpdateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := store.Update(r.Context(), actor, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}
