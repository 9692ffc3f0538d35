package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-tracking/internal/models"
)

func TestLoadSeed(t *testing.T) {
	m := NewMemoryStore()
	err := LoadSeed([]byte(`
drivers: [D1, D2]
orders:
  - id: O1
    customer_id: C1
  - id: O2
    customer_id: C1
    driver_id: D1
    status: in_transit
`), m)
	require.NoError(t, err)

	ok, err := m.DriverExists(context.Background(), "D2")
	require.NoError(t, err)
	assert.True(t, ok)

	o1, err := m.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o1.Status)

	o2, err := m.GetOrder(context.Background(), "O2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInTransit, o2.Status)
	assert.Equal(t, "D1", o2.DriverID)
}

func TestLoadSeedRejectsBadOrders(t *testing.T) {
	cases := map[string]string{
		"missing customer": "orders:\n  - id: O1\n",
		"unknown status":   "orders:\n  - id: O1\n    customer_id: C1\n    status: lost\n",
		"not yaml":         "orders: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewMemoryStore()
			require.Error(t, LoadSeed([]byte(raw), m))
			_, ok := m.Order("O1")
			assert.False(t, ok)
		})
	}
}
