package router

import (
	"context"
	"errors"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/lifecycle"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/rooms"
	"github.com/example/delivery-tracking/internal/storage"
)

// AssignOrder moves a pending order to assigned and notifies the driver.
func (r *Router) AssignOrder(ctx context.Context, actor models.Identity, orderID, driverID string) error {
	if err := required("orderId", orderID); err != nil {
		return err
	}
	if err := required("driverId", driverID); err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin {
		return apperr.New(apperr.Forbidden, "only admins assign orders")
	}

	unlock := r.orderLocks.Lock(orderID)
	defer unlock()

	o, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	ok, err := r.orders.DriverExists(ctx, driverID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "driver lookup failed", err)
	}
	if !ok {
		return apperr.Newf(apperr.NotFound, "driver %s not found", driverID)
	}
	next, err := lifecycle.Transition(o.Status, models.StatusAssigned, actor.Role)
	if err != nil {
		return err
	}
	if err := r.apply(ctx, o, next, driverID); err != nil {
		return err
	}

	r.fanout.Broadcast(rooms.OrderRoom(orderID), models.Event{
		Name: models.EventOrderStatus,
		Data: models.OrderStatusPayload{OrderID: orderID, Status: next},
	})
	r.fanout.Broadcast(rooms.DriverRoom(driverID), models.Event{
		Name: models.EventNewOrderAssigned,
		Data: models.OrderAssignedPayload{OrderID: orderID},
	})
	r.logger.Info("order_assigned", "order_id", orderID, "driver_id", driverID, "by", actor.UserID)
	return nil
}

// UpdateStatus applies a non-assignment transition requested by actor and
// broadcasts the new status to the order room.
func (r *Router) UpdateStatus(ctx context.Context, actor models.Identity, orderID string, status models.Status) error {
	if err := required("orderId", orderID); err != nil {
		return err
	}
	if !status.Valid() {
		return apperr.Newf(apperr.BadRequest, "unknown status %q", status)
	}
	if status == models.StatusAssigned {
		return apperr.New(apperr.BadRequest, "assignment requires driverId")
	}

	unlock := r.orderLocks.Lock(orderID)
	defer unlock()

	o, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	next, err := lifecycle.Transition(o.Status, status, actor.Role)
	if err != nil {
		return err
	}
	switch {
	case actor.Role == models.RoleDriver && lifecycle.RequiresAssignedDriver(next) && !o.AssignedTo(actor.UserID):
		return apperr.New(apperr.Forbidden, "driver is not assigned to this order")
	case actor.Role == models.RoleCustomer && o.CustomerID != actor.UserID:
		return apperr.New(apperr.Forbidden, "order belongs to another customer")
	}
	if err := r.apply(ctx, o, next, ""); err != nil {
		return err
	}

	r.fanout.Broadcast(rooms.OrderRoom(orderID), models.Event{
		Name: models.EventOrderStatus,
		Data: models.OrderStatusPayload{OrderID: orderID, Status: next},
	})
	r.logger.Info("order_status_changed", "order_id", orderID, "from", o.Status, "to", next, "by", actor.UserID)
	return nil
}

// NotifyAssignment is called by the CRUD layer after an admin assigns a
// driver outside the realtime channel.
func (r *Router) NotifyAssignment(ctx context.Context, actor models.Identity, orderID, driverID string) error {
	return r.AssignOrder(ctx, actor, orderID, driverID)
}

// NotifyStatusChange is called by the CRUD layer for status changes made
// outside the realtime channel. The change still goes through the state
// machine.
func (r *Router) NotifyStatusChange(ctx context.Context, actor models.Identity, orderID string, status models.Status) error {
	return r.UpdateStatus(ctx, actor, orderID, status)
}

func (r *Router) getOrder(ctx context.Context, orderID string) (models.OrderView, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err == nil {
		return o, nil
	}
	if apperr.KindOf(err) == apperr.NotFound {
		return models.OrderView{}, err
	}
	return models.OrderView{}, apperr.Wrap(apperr.NotFound, "order lookup failed", err)
}

func (r *Router) apply(ctx context.Context, o models.OrderView, next models.Status, driverID string) error {
	err := r.orders.ApplyTransition(ctx, o.ID, o.Status, next, driverID, r.now())
	switch {
	case err == nil:
		observability.TransitionsTotal.WithLabelValues(string(o.Status), string(next)).Inc()
		return nil
	case errors.Is(err, storage.ErrStaleStatus):
		return apperr.Wrap(apperr.InvalidTransition, "order status changed, retry with the current status", err)
	case apperr.KindOf(err) != apperr.Internal:
		return err
	default:
		return apperr.Wrap(apperr.Internal, "could not record status change", err)
	}
}
