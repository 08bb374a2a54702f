package controllers

import (
	"net/http"

	"github.com/angelmondragon/library-backend/api/middleware"
	"github.com/angelmondragon/library-backend/internal/access"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
)

func requireActor(r *http.Request) (access.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return access.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable")
}
