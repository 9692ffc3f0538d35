package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-tracking/internal/lifecycle"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/rooms"
	"github.com/example/delivery-tracking/internal/storage"
)

var (
	admin     = models.Identity{UserID: "A1", Role: models.RoleAdmin}
	customer  = models.Identity{UserID: "C1", Role: models.RoleCustomer}
	customer2 = models.Identity{UserID: "C2", Role: models.RoleCustomer}
	driver1   = models.Identity{UserID: "D1", Role: models.RoleDriver}
	driver2   = models.Identity{UserID: "D2", Role: models.RoleDriver}
)

type fixture struct {
	store    *storage.MemoryStore
	registry *rooms.Registry
	router   *Router
}

func newFixture(t *testing.T, status models.Status, driverID string) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	store.AddDriver("D1")
	store.AddDriver("D2")
	store.SaveOrder(&models.Order{ID: "O1", Status: status, CustomerID: "C1", DriverID: driverID})
	reg := rooms.NewRegistry(rooms.OrderPolicy{Orders: store}, nil)
	r := New(Options{Rooms: reg, Fanout: reg, Orders: store})
	return &fixture{store: store, registry: reg, router: r}
}

func (f *fixture) connect(t *testing.T, id models.Identity) *rooms.Conn {
	t.Helper()
	c := rooms.NewConn(id.UserID, id, 64)
	require.NoError(t, f.registry.Attach(c))
	return c
}

func (f *fixture) send(c *rooms.Conn, event string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(models.Envelope{Event: event, Data: raw})
	f.router.Dispatch(context.Background(), c, frame)
}

func frames(c *rooms.Conn) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case f := <-c.Outbound():
			var env models.Envelope
			_ = json.Unmarshal(f, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func only(t *testing.T, c *rooms.Conn, event string) []models.Envelope {
	t.Helper()
	var out []models.Envelope
	for _, env := range frames(c) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func errorCode(t *testing.T, c *rooms.Conn) string {
	t.Helper()
	errs := only(t, c, models.EventError)
	require.Len(t, errs, 1)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &p))
	return p.Code
}

func TestAssignOrderNotifiesDriverRoom(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	a := f.connect(t, admin)
	d := f.connect(t, driver1)
	c := f.connect(t, customer)

	f.send(d, models.EventJoinDriver, map[string]string{"driverId": "D1"})
	f.send(c, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(d)
	frames(c)

	f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O1", "driverId": "D1"})

	assert.Empty(t, only(t, a, models.EventError))
	o, _ := f.store.Order("O1")
	assert.Equal(t, models.StatusAssigned, o.Status)
	assert.Equal(t, "D1", o.DriverID)

	got := only(t, d, models.EventNewOrderAssigned)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"orderId":"O1"}`, string(got[0].Data))

	status := only(t, c, models.EventOrderStatus)
	require.Len(t, status, 1)
	assert.JSONEq(t, `{"orderId":"O1","status":"assigned"}`, string(status[0].Data))
}

func TestAssignOrderRejections(t *testing.T) {
	t.Run("non admin", func(t *testing.T) {
		f := newFixture(t, models.StatusPending, "")
		d := f.connect(t, driver1)
		f.send(d, models.EventAssignOrder, map[string]string{"orderId": "O1", "driverId": "D1"})
		assert.Equal(t, "Forbidden", errorCode(t, d))
	})
	t.Run("unknown driver", func(t *testing.T) {
		f := newFixture(t, models.StatusPending, "")
		a := f.connect(t, admin)
		f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O1", "driverId": "D9"})
		assert.Equal(t, "NotFound", errorCode(t, a))
	})
	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t, models.StatusPending, "")
		a := f.connect(t, admin)
		f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O9", "driverId": "D1"})
		assert.Equal(t, "NotFound", errorCode(t, a))
	})
	t.Run("already assigned", func(t *testing.T) {
		f := newFixture(t, models.StatusAssigned, "D1")
		a := f.connect(t, admin)
		f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O1", "driverId": "D2"})
		assert.Equal(t, "InvalidTransition", errorCode(t, a))
	})
	t.Run("missing driver", func(t *testing.T) {
		f := newFixture(t, models.StatusPending, "")
		a := f.connect(t, admin)
		f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O1"})
		assert.Equal(t, "BadRequest", errorCode(t, a))
	})
}

func TestDriverLocationScenario(t *testing.T) {
	f := newFixture(t, models.StatusAccepted, "D1")
	d1 := f.connect(t, driver1)
	d2 := f.connect(t, driver2)
	c := f.connect(t, customer)
	a := f.connect(t, admin)
	f.send(c, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	f.send(a, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(c)
	frames(a)

	f.send(d1, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": 12.9, "lng": 77.6})
	for _, member := range []*rooms.Conn{c, a} {
		got := only(t, member, "order-O1-location")
		require.Len(t, got, 1)
		var p models.LocationPayload
		require.NoError(t, json.Unmarshal(got[0].Data, &p))
		assert.Equal(t, 12.9, p.Lat)
		assert.Equal(t, 77.6, p.Lng)
	}

	f.send(d2, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": 12.9, "lng": 77.6})
	assert.Equal(t, "Forbidden", errorCode(t, d2))
	assert.Empty(t, frames(c), "no broadcast for an unassigned driver")
	assert.Empty(t, frames(a))
}

func TestDriverLocationMalformed(t *testing.T) {
	f := newFixture(t, models.StatusAccepted, "D1")
	d1 := f.connect(t, driver1)

	f.send(d1, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": 12.9})
	assert.Equal(t, "BadRequest", errorCode(t, d1))

	f.send(d1, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": "north", "lng": 1})
	assert.Equal(t, "BadRequest", errorCode(t, d1))
}

func TestCustomerCannotCancelInTransit(t *testing.T) {
	f := newFixture(t, models.StatusInTransit, "D1")
	c := f.connect(t, customer)
	f.send(c, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "cancelled"})
	assert.Equal(t, "InvalidTransition", errorCode(t, c))
	o, _ := f.store.Order("O1")
	assert.Equal(t, models.StatusInTransit, o.Status)
}

func TestCustomerCancelsOwnOrderOnly(t *testing.T) {
	f := newFixture(t, models.StatusAssigned, "D1")
	other := f.connect(t, customer2)
	f.send(other, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "cancelled"})
	assert.Equal(t, "Forbidden", errorCode(t, other))

	owner := f.connect(t, customer)
	f.send(owner, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	f.send(owner, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "cancelled"})
	got := only(t, owner, models.EventOrderStatus)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"orderId":"O1","status":"cancelled"}`, string(got[0].Data))
}

func TestDriverLifecycleAndHistoryWalk(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	a := f.connect(t, admin)
	d := f.connect(t, driver1)
	obs := f.connect(t, admin)
	f.send(obs, models.EventJoinOrder, map[string]string{"orderId": "O1"})

	f.send(a, models.EventAssignOrder, map[string]string{"orderId": "O1", "driverId": "D1"})
	for _, s := range []string{"accepted", "in-transit", "delivered"} {
		f.send(d, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": s})
	}
	assert.Empty(t, only(t, d, models.EventError))

	var seen []string
	for _, env := range only(t, obs, models.EventOrderStatus) {
		var p models.OrderStatusPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		seen = append(seen, string(p.Status))
	}
	assert.Equal(t, []string{"assigned", "accepted", "in-transit", "delivered"}, seen)

	o, _ := f.store.Order("O1")
	walk := make([]models.Status, 0, len(o.StatusHistory))
	for _, h := range o.StatusHistory {
		walk = append(walk, h.Status)
	}
	assert.True(t, lifecycle.ValidWalk(walk))

	f.send(d, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "cancelled"})
	assert.Equal(t, "TerminalState", errorCode(t, d))
}

func TestUnassignedDriverCannotAdvance(t *testing.T) {
	f := newFixture(t, models.StatusAssigned, "D1")
	d2 := f.connect(t, driver2)
	f.send(d2, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "accepted"})
	assert.Equal(t, "Forbidden", errorCode(t, d2))
}

func TestRepeatedTransitionIsNotRebroadcast(t *testing.T) {
	f := newFixture(t, models.StatusAssigned, "D1")
	d := f.connect(t, driver1)
	obs := f.connect(t, admin)
	f.send(obs, models.EventJoinOrder, map[string]string{"orderId": "O1"})

	f.send(d, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "accepted"})
	f.send(d, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "accepted"})

	assert.Equal(t, "InvalidTransition", errorCode(t, d))
	assert.Len(t, only(t, obs, models.EventOrderStatus), 1)
}

func TestStatusUpdateAssignedRoutesToAssignment(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	a := f.connect(t, admin)
	f.send(a, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "assigned"})
	assert.Equal(t, "BadRequest", errorCode(t, a))

	f.send(a, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "assigned", "driverId": "D2"})
	assert.Empty(t, only(t, a, models.EventError))
	o, _ := f.store.Order("O1")
	assert.Equal(t, "D2", o.DriverID)
}

func TestJoinDriverOwnRoomOnly(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	d := f.connect(t, driver1)
	f.send(d, models.EventJoinDriver, map[string]string{"driverId": "D2"})
	assert.Equal(t, "Forbidden", errorCode(t, d))

	c := f.connect(t, customer)
	f.send(c, models.EventJoinDriver, map[string]string{"driverId": "C1"})
	assert.Equal(t, "Forbidden", errorCode(t, c))

	f.send(d, models.EventJoinDriver, map[string]string{"driverId": "D1"})
	assert.Len(t, only(t, d, models.EventJoined), 1)
	assert.Equal(t, 1, f.registry.Members("driver:D1"))
}

func TestLeaveOrderStopsDelivery(t *testing.T) {
	f := newFixture(t, models.StatusAccepted, "D1")
	c := f.connect(t, customer)
	d := f.connect(t, driver1)
	f.send(c, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	f.send(c, models.EventLeaveOrder, map[string]string{"orderId": "O1"})
	frames(c)

	f.send(d, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": 1.0, "lng": 2.0})
	assert.Empty(t, frames(c))
}

func TestDisconnectStopsDelivery(t *testing.T) {
	f := newFixture(t, models.StatusAccepted, "D1")
	c := f.connect(t, customer)
	d := f.connect(t, driver1)
	f.send(c, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(c)
	f.registry.Detach(c)

	f.send(d, models.EventDriverLocation, map[string]any{"orderId": "O1", "lat": 1.0, "lng": 2.0})
	assert.Empty(t, frames(c))
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	c := f.connect(t, customer)

	f.router.Dispatch(context.Background(), c, []byte("not json"))
	assert.Equal(t, "BadRequest", errorCode(t, c))

	f.send(c, models.EventJoinOrder, nil)
	assert.Equal(t, "BadRequest", errorCode(t, c))

	f.send(c, "dance", map[string]string{"style": "tango"})
	assert.Empty(t, frames(c), "unknown events are ignored")
}

func TestErrorsGoOnlyToOriginator(t *testing.T) {
	f := newFixture(t, models.StatusInTransit, "D1")
	c := f.connect(t, customer)
	obs := f.connect(t, admin)
	f.send(obs, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	f.send(c, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(obs)

	f.send(c, models.EventOrderStatusUpdate, map[string]string{"orderId": "O1", "status": "cancelled"})
	assert.Empty(t, frames(obs))
}

func TestConcurrentStatusUpdatesSerialize(t *testing.T) {
	f := newFixture(t, models.StatusAssigned, "D1")
	obs := f.connect(t, admin)
	f.send(obs, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(obs)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.router.UpdateStatus(context.Background(), driver1, "O1", models.StatusAccepted)
		}()
	}
	wg.Wait()

	assert.Len(t, only(t, obs, models.EventOrderStatus), 1)
	o, _ := f.store.Order("O1")
	assert.Len(t, o.StatusHistory, 2)
}

func TestNotifyStatusChange(t *testing.T) {
	f := newFixture(t, models.StatusAccepted, "D1")
	obs := f.connect(t, admin)
	f.send(obs, models.EventJoinOrder, map[string]string{"orderId": "O1"})
	frames(obs)

	require.NoError(t, f.router.NotifyStatusChange(context.Background(), admin, "O1", models.StatusCancelled))
	assert.Len(t, only(t, obs, models.EventOrderStatus), 1)
	assert.Error(t, f.router.NotifyStatusChange(context.Background(), admin, "O1", models.StatusPending))
}

func TestJoinAppliesWhenAckIsDropped(t *testing.T) {
	f := newFixture(t, models.StatusPending, "")
	c := rooms.NewConn("C1", customer, 1)
	require.NoError(t, f.registry.Attach(c))
	require.True(t, c.Enqueue([]byte(`{"event":"filler"}`)))

	f.send(c, models.EventJoinOrder, models.OrderRoomRequest{OrderID: "O1"})
	assert.Equal(t, []string{"order:O1"}, f.registry.Rooms(c))
	assert.EqualValues(t, 1, c.Dropped())
}
