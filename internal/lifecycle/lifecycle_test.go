package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name      string
		from, to  models.Status
		role      models.Role
		wantKind  apperr.Kind
		wantValue models.Status
	}{
		{"admin assigns", models.StatusPending, models.StatusAssigned, models.RoleAdmin, "", models.StatusAssigned},
		{"driver cannot assign", models.StatusPending, models.StatusAssigned, models.RoleDriver, apperr.InvalidTransition, ""},
		{"driver accepts", models.StatusAssigned, models.StatusAccepted, models.RoleDriver, "", models.StatusAccepted},
		{"customer cannot accept", models.StatusAssigned, models.StatusAccepted, models.RoleCustomer, apperr.InvalidTransition, ""},
		{"driver starts transit", models.StatusAccepted, models.StatusInTransit, models.RoleDriver, "", models.StatusInTransit},
		{"driver delivers", models.StatusInTransit, models.StatusDelivered, models.RoleDriver, "", models.StatusDelivered},
		{"admin cannot deliver", models.StatusInTransit, models.StatusDelivered, models.RoleAdmin, apperr.InvalidTransition, ""},
		{"customer cancels pending", models.StatusPending, models.StatusCancelled, models.RoleCustomer, "", models.StatusCancelled},
		{"customer cancels assigned", models.StatusAssigned, models.StatusCancelled, models.RoleCustomer, "", models.StatusCancelled},
		{"customer cannot cancel accepted", models.StatusAccepted, models.StatusCancelled, models.RoleCustomer, apperr.InvalidTransition, ""},
		{"admin cancels accepted", models.StatusAccepted, models.StatusCancelled, models.RoleAdmin, "", models.StatusCancelled},
		{"customer cannot cancel in transit", models.StatusInTransit, models.StatusCancelled, models.RoleCustomer, apperr.InvalidTransition, ""},
		{"driver cannot cancel", models.StatusAssigned, models.StatusCancelled, models.RoleDriver, apperr.InvalidTransition, ""},
		{"skip edge", models.StatusPending, models.StatusDelivered, models.RoleAdmin, apperr.InvalidTransition, ""},
		{"backwards", models.StatusAccepted, models.StatusAssigned, models.RoleAdmin, apperr.InvalidTransition, ""},
		{"same state", models.StatusAccepted, models.StatusAccepted, models.RoleDriver, apperr.InvalidTransition, ""},
		{"delivered is terminal", models.StatusDelivered, models.StatusCancelled, models.RoleAdmin, apperr.TerminalState, ""},
		{"cancelled is terminal", models.StatusCancelled, models.StatusPending, models.RoleAdmin, apperr.TerminalState, ""},
		{"unknown requested", models.StatusPending, models.Status("lost"), models.RoleAdmin, apperr.BadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.from, tc.to, tc.role)
			if tc.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.wantValue, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantKind, apperr.KindOf(err))
			assert.Empty(t, got)
		})
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	all := []models.Status{
		models.StatusPending, models.StatusAssigned, models.StatusAccepted,
		models.StatusInTransit, models.StatusDelivered, models.StatusCancelled,
	}
	roles := []models.Role{models.RoleAdmin, models.RoleDriver, models.RoleCustomer}
	for _, from := range []models.Status{models.StatusDelivered, models.StatusCancelled} {
		for _, to := range all {
			for _, r := range roles {
				_, err := Transition(from, to, r)
				assert.ErrorIs(t, err, apperr.ErrTerminalState, "%s -> %s by %s", from, to, r)
			}
		}
	}
}

func TestValidWalk(t *testing.T) {
	assert.True(t, ValidWalk(nil))
	assert.True(t, ValidWalk([]models.Status{
		models.StatusPending, models.StatusAssigned, models.StatusAccepted,
		models.StatusInTransit, models.StatusDelivered,
	}))
	assert.True(t, ValidWalk([]models.Status{models.StatusPending, models.StatusAssigned, models.StatusCancelled}))
	assert.False(t, ValidWalk([]models.Status{models.StatusAssigned, models.StatusAccepted}))
	assert.False(t, ValidWalk([]models.Status{models.StatusPending, models.StatusAccepted}))
	assert.False(t, ValidWalk([]models.Status{models.StatusPending, models.StatusCancelled, models.StatusAssigned}))
}
