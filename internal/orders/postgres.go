package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Schema is the subset of the storefront schema this store touches.
const Schema = `CREATE TABLE IF NOT EXISTS orders (
  id                   TEXT PRIMARY KEY,
  label                TEXT NOT NULL DEFAULT '',
  status               TEXT NOT NULL,
  payment_method       TEXT NOT NULL DEFAULT '',
  email                TEXT NOT NULL DEFAULT '',
  subtotal             NUMERIC(12,2) NOT NULL DEFAULT 0,
  shipping_address     JSONB NOT NULL,
  billing_address      JSONB,
  tracking_number      TEXT,
  provider_order_id    TEXT,
  provider_shipment_id TEXT,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS order_items (
  order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  position   INT NOT NULL,
  product_id TEXT NOT NULL DEFAULT '',
  name       TEXT NOT NULL,
  sku        TEXT NOT NULL DEFAULT '',
  quantity   INT NOT NULL,
  price      NUMERIC(12,2) NOT NULL,
  weight_kg  NUMERIC(8,3),
  PRIMARY KEY (order_id, position)
)`

// PostgresStore reads orders from the storefront database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Store backed by a pgx connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// GetOrder loads the order and its items.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	var (
		o                   Order
		status              string
		shippingRaw         []byte
		billingRaw          []byte
		tracking, pOrd, pSh *string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, label, status, payment_method, email, subtotal::float8,
  shipping_address, billing_address, tracking_number, provider_order_id, provider_shipment_id, created_at
FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.Label, &status, &o.PaymentMethod, &o.Email, &o.Subtotal,
		&shippingRaw, &billingRaw, &tracking, &pOrd, &pSh, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shipper.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	o.Status = Status(status)
	o.TrackingNumber = deref(tracking)
	o.ProviderOrderID = deref(pOrd)
	o.ProviderShipmentID = deref(pSh)

	if err := json.Unmarshal(shippingRaw, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if len(billingRaw) > 0 {
		var b Address
		if err := json.Unmarshal(billingRaw, &b); err != nil {
			return nil, fmt.Errorf("decode billing address: %w", err)
		}
		o.Billing = &b
	}

	rows, err := s.pool.Query(ctx, `SELECT product_id, name, sku, quantity, price::float8, weight_kg::float8
FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load order items %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.SKU, &it.Quantity, &it.Price, &it.WeightKg); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateShipping writes the shipment fields.
func (s *PostgresStore) UpdateShipping(ctx context.Context, id string, u ShippingUpdate) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders
SET status = $2, tracking_number = $3, provider_order_id = NULLIF($4, ''), provider_shipment_id = NULLIF($5, ''), updated_at = now()
WHERE id = $1`, id, string(u.Status), u.TrackingNumber, u.ProviderOrderID, u.ProviderShipmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", shipper.ErrOrderNotFound, id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*PostgresStore)(nil)
