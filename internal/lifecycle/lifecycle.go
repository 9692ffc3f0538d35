// Package lifecycle is the single order state machine. Every consumer that
// needs to know whether a status change is legal asks this package.
//
//	pending ──admin──> assigned ──driver──> accepted ──driver──> in-transit ──driver──> delivered
//	   │                  │                    │
//	   └ customer,admin ──┴─ customer,admin ───┴─ admin ──> cancelled
//
// delivered and cancelled are terminal.
package lifecycle

import (
	"slices"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

// edges maps from -> to -> roles allowed to trigger the edge.
var edges = map[models.Status]map[models.Status][]models.Role{
	models.StatusPending: {
		models.StatusAssigned:  {models.RoleAdmin},
		models.StatusCancelled: {models.RoleCustomer, models.RoleAdmin},
	},
	models.StatusAssigned: {
		models.StatusAccepted:  {models.RoleDriver},
		models.StatusCancelled: {models.RoleCustomer, models.RoleAdmin},
	},
	models.StatusAccepted: {
		models.StatusInTransit: {models.RoleDriver},
		models.StatusCancelled: {models.RoleAdmin},
	},
	models.StatusInTransit: {
		models.StatusDelivered: {models.RoleDriver},
	},
	models.StatusDelivered: {},
	models.StatusCancelled: {},
}

// Transition decides whether role may move an order from current to
// requested. It returns the new status or a classified rejection.
func Transition(current, requested models.Status, role models.Role) (models.Status, error) {
	if !current.Valid() {
		return "", apperr.Newf(apperr.BadRequest, "unknown current status %q", current)
	}
	if !requested.Valid() {
		return "", apperr.Newf(apperr.BadRequest, "unknown status %q", requested)
	}
	if current.Terminal() {
		return "", apperr.Newf(apperr.TerminalState, "order is %s", current)
	}
	if current == requested {
		return "", apperr.Newf(apperr.InvalidTransition, "order is already %s", current)
	}
	roles, ok := edges[current][requested]
	if !ok || !slices.Contains(roles, role) {
		return "", apperr.Newf(apperr.InvalidTransition, "%s cannot move order from %s to %s", role, current, requested)
	}
	return requested, nil
}

// CanTransition reports whether from->to is an edge of the graph for any role.
func CanTransition(from, to models.Status) bool {
	_, ok := edges[from][to]
	return ok
}

// ValidWalk reports whether a recorded status sequence starts at pending and
// follows graph edges only.
func ValidWalk(history []models.Status) bool {
	if len(history) == 0 {
		return true
	}
	if history[0] != models.StatusPending {
		return false
	}
	for i := 1; i < len(history); i++ {
		if !CanTransition(history[i-1], history[i]) {
			return false
		}
	}
	return true
}

// RequiresAssignedDriver reports whether the edge into requested is one that
// only the order's assigned driver may take.
func RequiresAssignedDriver(requested models.Status) bool {
	switch requested {
	case models.StatusAccepted, models.StatusInTransit, models.StatusDelivered:
		return true
	}
	return false
}
