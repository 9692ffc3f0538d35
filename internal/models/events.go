package models

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventAuth              = "auth"
	EventJoinDriver        = "join-driver"
	EventJoinOrder         = "join-order"
	EventLeaveOrder        = "leave-order"
	EventAssignOrder       = "assign-order"
	EventDriverLocation    = "driver-location"
	EventOrderStatusUpdate = "order-status-update"
)

// Outbound event names. Location events are named per order, see LocationEventName.
const (
	EventAuthenticated    = "authenticated"
	EventJoined           = "joined"
	EventLeft             = "left"
	EventNewOrderAssigned = "new-order-assigned"
	EventOrderStatus      = "order-status"
	EventError            = "error"
)

func LocationEventName(orderID string) string { return "order-" + orderID + "-location" }

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound event before encoding.
type Event struct {
	Name string
	Data any
}

// Encode renders the event as an envelope frame.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name, Data: data})
}

type AuthRequest struct {
	Token string `json:"token"`
}

type JoinDriverRequest struct {
	DriverID string `json:"driverId"`
}

type OrderRoomRequest struct {
	OrderID string `json:"orderId"`
}

type AssignOrderRequest struct {
	OrderID  string `json:"orderId"`
	DriverID string `json:"driverId"`
}

// DriverLocationRequest uses pointers so a missing coordinate is distinguishable from 0.
type DriverLocationRequest struct {
	OrderID string   `json:"orderId"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

type StatusUpdateRequest struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	DriverID string `json:"driverId,omitempty"`
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type OrderAssignedPayload struct {
	OrderID string `json:"orderId"`
}

type OrderStatusPayload struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
}

type LocationPayload struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
