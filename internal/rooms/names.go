package rooms

import (
	"strings"

	"github.com/example/delivery-tracking/internal/apperr"
)

type Kind string

const (
	KindDriver Kind = "driver"
	KindOrder  Kind = "order"
)

func DriverRoom(driverID string) string { return string(KindDriver) + ":" + driverID }

func OrderRoom(orderID string) string { return string(KindOrder) + ":" + orderID }

// Parse splits a room name into its kind and id.
func Parse(room string) (Kind, string, error) {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || id == "" {
		return "", "", apperr.Newf(apperr.BadRequest, "malformed room %q", room)
	}
	switch Kind(kind) {
	case KindDriver, KindOrder:
		return Kind(kind), id, nil
	}
	return "", "", apperr.Newf(apperr.BadRequest, "unknown room kind %q", kind)
}
