package orders_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *orders.PostgresStore
	ctx       context.Context
}

func TestPostgresStoreTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(PostgresStoreTestSuite))
}

func (s *PostgresStoreTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(s.ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool

	s.store = orders.NewPostgresStore(pool)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
	// applying the schema twice is harmless
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE orders CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresStoreTestSuite) seed(id string, billing *orders.Address) {
	shipping, err := json.Marshal(orders.Address{
		FirstName:  "Asha",
		Street:     "12 MG Road",
		City:       "Bengaluru",
		State:      "Karnataka",
		PostalCode: "560001",
		Country:    "India",
		Email:      "asha@example.com",
	})
	s.Require().NoError(err)

	var billingRaw []byte
	if billing != nil {
		billingRaw, err = json.Marshal(billing)
		s.Require().NoError(err)
	}

	_, err = s.pool.Exec(s.ctx, `INSERT INTO orders (id, label, status, payment_method, email, subtotal, shipping_address, billing_address, created_at)
VALUES ($1, $2, 'pending', 'cod', 'order@example.com', 1150.50, $3, $4, $5)`,
		id, "#"+id, shipping, billingRaw, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	_, err = s.pool.Exec(s.ctx, `INSERT INTO order_items (order_id, position, product_id, name, sku, quantity, price, weight_kg)
VALUES ($1, 2, 'p-2', 'Plate', '', 2, 300, NULL), ($1, 1, 'p-1', 'Mug', 'MUG-1', 1, 550.5, 0.4)`, id)
	s.Require().NoError(err)
}

func (s *PostgresStoreTestSuite) TestGetOrder_LoadsOrderAndItems() {
	s.seed("1001", nil)

	o, err := s.store.GetOrder(s.ctx, "1001")

	s.Require().NoError(err)
	s.Equal("#1001", o.Label)
	s.Equal(orders.StatusPending, o.Status)
	s.Equal("cod", o.PaymentMethod)
	s.Equal("order@example.com", o.Email)
	s.InDelta(1150.50, o.Subtotal, 0.001)
	s.Equal("560001", o.Shipping.PostalCode)
	s.Nil(o.Billing)
	s.Empty(o.TrackingNumber)
	s.Empty(o.ProviderOrderID)
	s.True(o.CreatedAt.Equal(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)))

	s.Require().Len(o.Items, 2)
	s.Equal("Mug", o.Items[0].Name)
	s.Require().NotNil(o.Items[0].WeightKg)
	s.InDelta(0.4, *o.Items[0].WeightKg, 0.0001)
	s.Equal("Plate", o.Items[1].Name)
	s.Nil(o.Items[1].WeightKg)
	s.Equal(2, o.Items[1].Quantity)
}

func (s *PostgresStoreTestSuite) TestGetOrder_DecodesBillingAddress() {
	s.seed("1002", &orders.Address{City: "Pune", PostalCode: "411001", Email: "billing@example.com"})

	o, err := s.store.GetOrder(s.ctx, "1002")

	s.Require().NoError(err)
	s.Require().NotNil(o.Billing)
	s.Equal("billing@example.com", o.Billing.Email)
}

func (s *PostgresStoreTestSuite) TestGetOrder_NotFound() {
	_, err := s.store.GetOrder(s.ctx, "missing")

	s.ErrorIs(err, shipper.ErrOrderNotFound)
}

func (s *PostgresStoreTestSuite) TestUpdateShipping_WritesShipmentFields() {
	s.seed("1001", nil)

	err := s.store.UpdateShipping(s.ctx, "1001", orders.ShippingUpdate{
		Status:             orders.StatusShipped,
		TrackingNumber:     "AWB123",
		ProviderOrderID:    "4001",
		ProviderShipmentID: "5001",
	})
	s.Require().NoError(err)

	o, err := s.store.GetOrder(s.ctx, "1001")
	s.Require().NoError(err)
	s.Equal(orders.StatusShipped, o.Status)
	s.Equal("AWB123", o.TrackingNumber)
	s.Equal("4001", o.ProviderOrderID)
	s.Equal("5001", o.ProviderShipmentID)
	s.True(o.Fulfilled())
}

func (s *PostgresStoreTestSuite) TestUpdateShipping_EmptyProviderIDsAreNull() {
	s.seed("1001", nil)

	err := s.store.UpdateShipping(s.ctx, "1001", orders.ShippingUpdate{
		Status:         orders.StatusProcessing,
		TrackingNumber: "SR-4001",
	})
	s.Require().NoError(err)

	var orderIDNull, shipmentIDNull bool
	err = s.pool.QueryRow(s.ctx, `SELECT provider_order_id IS NULL, provider_shipment_id IS NULL FROM orders WHERE id = $1`, "1001").
		Scan(&orderIDNull, &shipmentIDNull)
	s.Require().NoError(err)
	s.True(orderIDNull)
	s.True(shipmentIDNull)
}

func (s *PostgresStoreTestSuite) TestUpdateShipping_UnknownOrder() {
	err := s.store.UpdateShipping(s.ctx, "missing", orders.ShippingUpdate{Status: orders.StatusShipped})

	s.ErrorIs(err, shipper.ErrOrderNotFound)
}
