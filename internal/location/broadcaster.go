package location

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/rooms"
)

// Broadcaster fans an event out to a room without blocking on slow members.
type Broadcaster interface {
	Broadcast(room string, ev models.Event) rooms.Result
}

type OrderLookup interface {
	GetOrder(ctx context.Context, id string) (models.OrderView, error)
}

// Sink receives accepted samples for storage outside the core. Record must
// not block the caller.
type Sink interface {
	Record(s models.LocationSample)
}

// Service republishes driver position samples to the order's room. It never
// touches persistent state.
type Service struct {
	Orders OrderLookup
	Rooms  Broadcaster
	Sink   Sink // optional
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Publish validates that publisher is the driver currently assigned to
// sample.OrderID and broadcasts the sample to order:<orderId>.
func (s *Service) Publish(ctx context.Context, publisher models.Identity, sample models.LocationSample) error {
	if sample.OrderID == "" {
		return apperr.New(apperr.BadRequest, "orderId is required")
	}
	if sample.Lat < -90 || sample.Lat > 90 || sample.Lng < -180 || sample.Lng > 180 {
		return apperr.New(apperr.BadRequest, "coordinates out of range")
	}
	if publisher.Role != models.RoleDriver {
		return apperr.New(apperr.Forbidden, "only drivers publish locations")
	}
	o, err := s.Orders.GetOrder(ctx, sample.OrderID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return err
		}
		return apperr.Wrap(apperr.NotFound, "order lookup failed", err)
	}
	if !o.AssignedTo(publisher.UserID) {
		return apperr.New(apperr.Forbidden, "driver is not assigned to this order")
	}
	switch o.Status {
	case models.StatusAssigned, models.StatusAccepted, models.StatusInTransit:
	default:
		return apperr.Newf(apperr.Forbidden, "order is %s", o.Status)
	}

	sample.DriverID = publisher.UserID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	s.Rooms.Broadcast(rooms.OrderRoom(sample.OrderID), models.Event{
		Name: models.LocationEventName(sample.OrderID),
		Data: models.LocationPayload{Lat: sample.Lat, Lng: sample.Lng, Timestamp: sample.Timestamp},
	})
	observability.LocationSamples.Inc()
	if s.Sink != nil {
		s.Sink.Record(sample)
	}
	return nil
}
