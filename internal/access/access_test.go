package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

func TestRoleGrants(t *testing.T) {
	cases := []struct {
		role    enums.UserRole
		allowed []Capability
		denied  []Capability
	}{
		{
			role:    enums.UserRolePOS,
			allowed: []Capability{OriginateTransactions, ReturnItems},
			denied:  []Capability{ReviewTransactions, ManageCatalog, ManageSettings},
		},
		{
			role:    enums.UserRoleLibrarian,
			allowed: []Capability{ReviewTransactions, ManageCatalog, ManageStudents},
			denied:  []Capability{OriginateTransactions, ManageStaff, ManageSettings},
		},
		{
			role:    enums.UserRoleAdmin,
			allowed: []Capability{ReviewTransactions, ManageStaff, ManageSettings},
			denied:  []Capability{OriginateTransactions, ViewOwnLoans},
		},
		{
			role:    enums.UserRoleStudent,
			allowed: []Capability{ViewOwnLoans},
			denied:  []Capability{ReviewTransactions, OriginateTransactions},
		},
	}

	for _, tc := range cases {
		t.Run(tc.role.String(), func(t *testing.T) {
			actor := Actor{UserID: uuid.New(), Role: tc.role}
			for _, c := range tc.allowed {
				assert.NoError(t, actor.Require(c), c)
			}
			for _, c := range tc.denied {
				err := actor.Require(c)
				require.Error(t, err, c)
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
			}
		})
	}
}

func TestRequireRejectsAnonymous(t *testing.T) {
	err := Actor{}.Require(ViewOwnLoans)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{UserID: uuid.New(), Role: enums.UserRolePOS}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}

func TestActorRef(t *testing.T) {
	assert.Nil(t, System.ActorRef())
	id := uuid.New()
	ref := Actor{UserID: id, Role: enums.UserRoleAdmin}.ActorRef()
	require.NotNil(t, ref)
	assert.Equal(t, id, *ref)
}

func TestCapabilitiesReturnsCopy(t *testing.T) {
	caps := Capabilities(enums.UserRolePOS)
	caps[0] = ManageSettings
	assert.Equal(t, OriginateTransactions, Capabilities(enums.UserRolePOS)[0])
}
