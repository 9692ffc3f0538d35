package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the bundled schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	b, err := migrations.ReadFile("migrations/001_create_orders.sql")
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, string(b))
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (models.OrderView, error) {
	var (
		v        models.OrderView
		status   string
		driverID sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, status, customer_id, driver_id FROM orders WHERE id=$1`, id).
		Scan(&v.ID, &status, &v.CustomerID, &driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OrderView{}, apperr.Newf(apperr.NotFound, "order %s not found", id)
	}
	if err != nil {
		return models.OrderView{}, fmt.Errorf("get order %s: %w", id, err)
	}
	v.Status = models.Status(status)
	v.DriverID = driverID.String
	return v, nil
}

func (p *PostgresStore) DriverExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM drivers WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (p *PostgresStore) ApplyTransition(ctx context.Context, id string, from, to models.Status, driverID string, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status=$1, driver_id=COALESCE(NULLIF($2, ''), driver_id), updated_at=$3 WHERE id=$4 AND status=$5`,
		string(to), driverID, at, id, string(from))
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.Newf(apperr.NotFound, "order %s not found", id)
		}
		return ErrStaleStatus
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history(order_id, status, changed_at) VALUES($1,$2,$3)`, id, string(to), at); err != nil {
		return fmt.Errorf("record history %s: %w", id, err)
	}
	return tx.Commit()
}

// SaveOrder is used by seeding and tests; the CRUD layer owns order creation.
func (p *PostgresStore) SaveOrder(ctx context.Context, o *models.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO orders(id, status, customer_id, driver_id, pickup_address, drop_address, fare, package_weight, delivery_type, created_at, updated_at)
		VALUES($1,$2,$3,NULLIF($4, ''),$5,$6,$7,$8,$9,$10,$10)`,
		o.ID, string(o.Status), o.CustomerID, o.DriverID, o.PickupAddress, o.DropAddress, o.Fare, o.PackageWeight, o.DeliveryType, o.CreatedAt)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history(order_id, status, changed_at) VALUES($1,$2,$3)`, o.ID, string(o.Status), o.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) AddDriver(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(id) VALUES($1) ON CONFLICT DO NOTHING`, id)
	return err
}

// History returns the recorded statuses of an order, oldest first.
func (p *PostgresStore) History(ctx context.Context, id string) ([]models.StatusChange, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, changed_at FROM order_status_history WHERE order_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StatusChange
	for rows.Next() {
		var (
			s  string
			at time.Time
		)
		if err := rows.Scan(&s, &at); err != nil {
			return nil, err
		}
		out = append(out, models.StatusChange{Status: models.Status(s), At: at})
	}
	return out, rows.Err()
}
