package rooms

import (
	"context"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

// Policy decides whether an identity is entitled to a room.
type Policy interface {
	CanJoin(ctx context.Context, id models.Identity, room string) error
}

// OrderLookup is the slice of the order store the entitlement policy needs.
type OrderLookup interface {
	GetOrder(ctx context.Context, id string) (models.OrderView, error)
}

// OrderPolicy grants:
//   - customers: order rooms of orders they own
//   - drivers: their own driver room and rooms of orders assigned to them
//   - admins: any order room
type OrderPolicy struct {
	Orders OrderLookup
}

func (p OrderPolicy) CanJoin(ctx context.Context, id models.Identity, room string) error {
	kind, target, err := Parse(room)
	if err != nil {
		return err
	}
	switch kind {
	case KindDriver:
		if id.Role == models.RoleDriver && id.UserID == target {
			return nil
		}
		return apperr.Newf(apperr.Forbidden, "not entitled to %s", room)
	case KindOrder:
		if id.Role == models.RoleAdmin {
			return nil
		}
		o, err := p.Orders.GetOrder(ctx, target)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				return err
			}
			return apperr.Wrap(apperr.NotFound, "order lookup failed", err)
		}
		switch id.Role {
		case models.RoleCustomer:
			if o.CustomerID == id.UserID {
				return nil
			}
		case models.RoleDriver:
			if o.AssignedTo(id.UserID) {
				return nil
			}
		}
		return apperr.Newf(apperr.Forbidden, "not entitled to %s", room)
	}
	return apperr.Newf(apperr.Forbidden, "not entitled to %s", room)
}
