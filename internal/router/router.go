package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/location"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/rooms"
	"github.com/example/delivery-tracking/internal/storage"
)

// Membership is the join/leave half of the room registry.
type Membership interface {
	Join(ctx context.Context, c *rooms.Conn, room string) error
	Leave(c *rooms.Conn, room string)
}

// Router is the single entry point for inbound events. Rejections are
// answered with one error event to the originating connection only.
type Router struct {
	rooms    Membership
	fanout   location.Broadcaster
	orders   storage.OrderStore
	location *location.Service
	logger   *slog.Logger
	now      func() time.Time

	orderLocks keyedMutex
}

type Options struct {
	Rooms    Membership
	Fanout   location.Broadcaster
	Orders   storage.OrderStore
	Location *location.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(opts Options) *Router {
	r := &Router{
		rooms:    opts.Rooms,
		fanout:   opts.Fanout,
		orders:   opts.Orders,
		location: opts.Location,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.location == nil {
		r.location = &location.Service{Orders: opts.Orders, Rooms: opts.Fanout, Logger: r.logger, Now: r.now}
	}
	return r
}

// Dispatch handles one inbound frame from c.
func (r *Router) Dispatch(ctx context.Context, c *rooms.Conn, frame []byte) {
	start := time.Now()
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		r.reject(c, "", apperr.New(apperr.BadRequest, "frame must be an event envelope"))
		return
	}

	var err error
	switch env.Event {
	case models.EventJoinDriver:
		err = r.handleJoinDriver(ctx, c, env.Data)
	case models.EventJoinOrder:
		err = r.handleJoinOrder(ctx, c, env.Data)
	case models.EventLeaveOrder:
		err = r.handleLeaveOrder(c, env.Data)
	case models.EventAssignOrder:
		err = r.handleAssignOrder(ctx, c, env.Data)
	case models.EventDriverLocation:
		err = r.handleDriverLocation(ctx, c, env.Data)
	case models.EventOrderStatusUpdate:
		err = r.handleStatusUpdate(ctx, c, env.Data)
	case models.EventAuth:
		err = apperr.New(apperr.BadRequest, "connection is already authenticated")
	default:
		r.logger.Info("unknown_event", "event", env.Event, "conn_id", c.ID())
		observability.EventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return
	}
	observability.EventDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
	if err != nil {
		r.reject(c, env.Event, err)
		return
	}
	observability.EventsTotal.WithLabelValues(env.Event, "ok").Inc()
}

func (r *Router) reject(c *rooms.Conn, event string, err error) {
	kind := apperr.KindOf(err)
	label := event
	if label == "" {
		label = "invalid"
	}
	observability.EventsTotal.WithLabelValues(label, string(kind)).Inc()
	args := []any{"event", event, "conn_id", c.ID(), "user_id", c.Identity().UserID, "code", kind, "error", err}
	if kind == apperr.Internal {
		r.logger.Error("event_failed", args...)
	} else {
		r.logger.Info("event_rejected", args...)
	}
	if sendErr := c.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{
		Code:    string(kind),
		Message: apperr.PublicMessage(err),
		Event:   event,
	}}); sendErr != nil {
		r.logger.Warn("error_reply_dropped", "event", event, "conn_id", c.ID(), "code", kind, "error", sendErr)
	}
}

// reply sends an acknowledgement to c. A dropped ack is logged; the action it
// acknowledges has already happened.
func (r *Router) reply(c *rooms.Conn, ev models.Event) error {
	if err := c.Send(ev); err != nil {
		if errors.Is(err, rooms.ErrFrameDropped) {
			r.logger.Warn("reply_dropped", "event", ev.Name, "conn_id", c.ID())
			return nil
		}
		return err
	}
	return nil
}

// decode parses an event payload. Missing data and wrongly typed fields are
// BadRequest.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return apperr.New(apperr.BadRequest, "data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.BadRequest, "malformed data", err)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return apperr.Newf(apperr.BadRequest, "%s is required", field)
	}
	return nil
}

func (r *Router) handleJoinDriver(ctx context.Context, c *rooms.Conn, data json.RawMessage) error {
	var req models.JoinDriverRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("driverId", req.DriverID); err != nil {
		return err
	}
	id := c.Identity()
	if id.Role != models.RoleDriver || id.UserID != req.DriverID {
		return apperr.New(apperr.Forbidden, "drivers may only join their own room")
	}
	room := rooms.DriverRoom(req.DriverID)
	if err := r.join(ctx, c, room); err != nil {
		return err
	}
	return r.reply(c, models.Event{Name: models.EventJoined, Data: models.RoomPayload{Room: room}})
}

func (r *Router) handleJoinOrder(ctx context.Context, c *rooms.Conn, data json.RawMessage) error {
	var req models.OrderRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("orderId", req.OrderID); err != nil {
		return err
	}
	room := rooms.OrderRoom(req.OrderID)
	if err := r.join(ctx, c, room); err != nil {
		return err
	}
	return r.reply(c, models.Event{Name: models.EventJoined, Data: models.RoomPayload{Room: room}})
}

func (r *Router) join(ctx context.Context, c *rooms.Conn, room string) error {
	err := r.rooms.Join(ctx, c, room)
	if errors.Is(err, rooms.ErrNotAttached) {
		return apperr.Wrap(apperr.Unauthenticated, "connection is not attached", err)
	}
	return err
}

func (r *Router) handleLeaveOrder(c *rooms.Conn, data json.RawMessage) error {
	var req models.OrderRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("orderId", req.OrderID); err != nil {
		return err
	}
	room := rooms.OrderRoom(req.OrderID)
	r.rooms.Leave(c, room)
	return r.reply(c, models.Event{Name: models.EventLeft, Data: models.RoomPayload{Room: room}})
}

func (r *Router) handleAssignOrder(ctx context.Context, c *rooms.Conn, data json.RawMessage) error {
	var req models.AssignOrderRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return r.AssignOrder(ctx, c.Identity(), req.OrderID, req.DriverID)
}

func (r *Router) handleDriverLocation(ctx context.Context, c *rooms.Conn, data json.RawMessage) error {
	var req models.DriverLocationRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("orderId", req.OrderID); err != nil {
		return err
	}
	if req.Lat == nil || req.Lng == nil {
		return apperr.New(apperr.BadRequest, "lat and lng are required")
	}
	return r.location.Publish(ctx, c.Identity(), models.LocationSample{
		OrderID: req.OrderID,
		Lat:     *req.Lat,
		Lng:     *req.Lng,
	})
}

func (r *Router) handleStatusUpdate(ctx context.Context, c *rooms.Conn, data json.RawMessage) error {
	var req models.StatusUpdateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := required("orderId", req.OrderID); err != nil {
		return err
	}
	if err := required("status", req.Status); err != nil {
		return err
	}
	status, ok := models.ParseStatus(req.Status)
	if !ok {
		return apperr.Newf(apperr.BadRequest, "unknown status %q", req.Status)
	}
	if status == models.StatusAssigned {
		return r.AssignOrder(ctx, c.Identity(), req.OrderID, req.DriverID)
	}
	return r.UpdateStatus(ctx, c.Identity(), req.OrderID, status)
}
