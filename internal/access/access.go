// Package access maps user roles onto the capabilities each operation
// requires. Services receive an Actor and call Require once at entry.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// Capability names one permission checked at an operation boundary.
type Capability string

const (
	OriginateTransactions Capability = "transactions:originate"
	ReviewTransactions    Capability = "transactions:review"
	ReturnItems           Capability = "transactions:return"
	ManageCatalog         Capability = "catalog:manage"
	ManageStudents        Capability = "students:manage"
	ManageStaff           Capability = "staff:manage"
	ManageSettings        Capability = "settings:manage"
	ViewOwnLoans          Capability = "loans:view-own"
	ViewDashboard         Capability = "dashboard:view"
)

var grants = map[enums.UserRole][]Capability{
	enums.UserRoleAdmin: {
		ReviewTransactions,
		ManageCatalog,
		ManageStudents,
		ManageStaff,
		ManageSettings,
		ViewDashboard,
	},
	enums.UserRoleLibrarian: {
		ReviewTransactions,
		ManageCatalog,
		ManageStudents,
		ViewDashboard,
	},
	enums.UserRolePOS: {
		OriginateTransactions,
		ReturnItems,
	},
	enums.UserRoleStudent: {
		ViewOwnLoans,
	},
}

// Actor is the authenticated principal performing an operation. StudentID is
// set for student accounts linked to a roster entry.
type Actor struct {
	UserID    uuid.UUID
	Role      enums.UserRole
	StudentID *uuid.UUID
}

// System is used by scheduled jobs that act without a logged-in user.
var System = Actor{Role: enums.UserRoleAdmin}

// Can reports whether the actor's role grants c.
func (a Actor) Can(c Capability) bool {
	for _, granted := range grants[a.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// Require returns a FORBIDDEN error when the actor lacks c.
func (a Actor) Require(c Capability) error {
	if !a.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	if !a.Can(c) {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s may not %s", a.Role, c))
	}
	return nil
}

// ActorRef returns a pointer to the user id, or nil for the system actor.
func (a Actor) ActorRef() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Capabilities lists what role may do, in declaration order.
func Capabilities(role enums.UserRole) []Capability {
	out := make([]Capability, len(grants[role]))
	copy(out, grants[role])
	return out
}

type actorKey struct{}

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
