package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/delivery-tracking/internal/models"
)

// Seed is the fixture format for the in-memory store:
//
//	drivers: [D1, D2]
//	orders:
//	  - id: O1
//	    customer_id: C1
//	    status: pending
type Seed struct {
	Drivers []string    `yaml:"drivers"`
	Orders  []SeedOrder `yaml:"orders"`
}

type SeedOrder struct {
	ID         string `yaml:"id"`
	CustomerID string `yaml:"customer_id"`
	DriverID   string `yaml:"driver_id"`
	Status     string `yaml:"status"`
}

func LoadSeedFile(path string, m *MemoryStore) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return LoadSeed(b, m)
}

// LoadSeed validates every order before touching m.
func LoadSeed(raw []byte, m *MemoryStore) error {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	orders := make([]*models.Order, 0, len(s.Orders))
	for i, o := range s.Orders {
		if o.ID == "" || o.CustomerID == "" {
			return fmt.Errorf("seed order %d: id and customer_id are required", i)
		}
		status := models.StatusPending
		if o.Status != "" {
			var ok bool
			if status, ok = models.ParseStatus(o.Status); !ok {
				return fmt.Errorf("seed order %s: unknown status %q", o.ID, o.Status)
			}
		}
		orders = append(orders, &models.Order{ID: o.ID, CustomerID: o.CustomerID, DriverID: o.DriverID, Status: status})
	}
	for _, d := range s.Drivers {
		m.AddDriver(d)
	}
	for _, o := range orders {
		m.SaveOrder(o)
	}
	return nil
}
