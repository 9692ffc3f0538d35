package models

import (
	"strings"
	"time"
)

// Role is the actor role carried by a verified credential.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes (lowercases+trims) and validates a role string.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Identity is the verified {userId, role} pair bound to a connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusInTransit Status = "in-transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts the canonical spelling plus "in_transit"/"intransit".
func ParseStatus(s string) (Status, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "in_transit", "intransit":
		v = string(StatusInTransit)
	}
	st := Status(v)
	return st, st.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

func (s Status) String() string { return string(s) }

type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Order is the persistence collaborator's record.
type Order struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	CustomerID    string         `json:"customerId"`
	DriverID      string         `json:"driverId,omitempty"` // empty until assigned
	PickupAddress string         `json:"pickupAddress"`
	DropAddress   string         `json:"dropAddress"`
	Fare          float64        `json:"fare"`
	PackageWeight float64        `json:"packageWeight"`
	DeliveryType  string         `json:"deliveryType"`
	CreatedAt     time.Time      `json:"createdAt"`
	StatusHistory []StatusChange `json:"statusHistory"`
}

// View returns the transient projection the realtime core works with.
func (o *Order) View() OrderView {
	return OrderView{ID: o.ID, Status: o.Status, CustomerID: o.CustomerID, DriverID: o.DriverID}
}

// OrderView is the only part of an order the core reads.
type OrderView struct {
	ID         string
	Status     Status
	CustomerID string
	DriverID   string
}

// AssignedTo reports whether driverID is the order's current driver.
func (v OrderView) AssignedTo(driverID string) bool {
	return v.DriverID != "" && v.DriverID == driverID
}

// LocationSample is a driver position fix. It is never persisted by the core.
type LocationSample struct {
	OrderID   string    `json:"orderId"`
	DriverID  string    `json:"driverId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
