package shipment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/internal/shipment"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

func kg(v float64) *float64 { return &v }

func baseOrder() *orders.Order {
	return &orders.Order{
		ID:            "ord-1",
		Label:         "#1001",
		Status:        orders.StatusPending,
		PaymentMethod: "card",
		CreatedAt:     time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC),
		Shipping: orders.Address{
			FirstName:  "Asha",
			LastName:   "Rao",
			Street:     "12 MG Road",
			City:       "Bengaluru",
			State:      "Karnataka",
			PostalCode: "560001",
			Email:      "asha@example.com",
			Phone:      "9876543210",
		},
		Items: []orders.Item{
			{Name: "Mug", SKU: "MUG-1", Quantity: 1, Price: 250, WeightKg: kg(0.4)},
			{Name: "Plate", SKU: "PLT-1", Quantity: 2, Price: 100, WeightKg: kg(0.6)},
		},
	}
}

func TestBuild_EndToEndWeight(t *testing.T) {
	req, err := shipment.Build(baseOrder(), "Primary")

	require.NoError(t, err)
	assert.Equal(t, 1.6, req.WeightKg)
	assert.Equal(t, "Primary", req.PickupLocation)
	assert.Equal(t, shipper.PaymentPrepaid, req.PaymentMethod)
	assert.Equal(t, 450.0, req.SubTotal)
	assert.True(t, req.ShippingIsBilling)
	assert.Equal(t, "India", req.Shipping.Country)
	assert.Equal(t, "asha@example.com", req.Billing.Email)
	require.Len(t, req.Items, 2)
	assert.Equal(t, shipper.Item{Name: "Plate", SKU: "PLT-1", Units: 2, SellingPrice: 100}, req.Items[1])
	// 3 units
	assert.Equal(t, 25.0, req.LengthCm)
}

func TestWeight_DefaultsAndFloor(t *testing.T) {
	assert.Equal(t, 1.5, shipment.Weight([]orders.Item{{Quantity: 3}}))
	assert.Equal(t, 0.5, shipment.Weight([]orders.Item{{Quantity: 2, WeightKg: kg(0)}}))
	assert.Equal(t, 0.7, shipment.Weight([]orders.Item{{Quantity: 1, WeightKg: kg(0.2)}, {Quantity: 1}}))
}

func TestDimensions(t *testing.T) {
	cases := []struct {
		units                   int
		length, breadth, height float64
	}{
		{1, 20, 15, 10},
		{2, 20, 15, 10},
		{3, 25, 17, 12},
		{7, 30, 20, 15},
		{9, 35, 22, 17},
		{30, 60, 40, 30},
		{300, 60, 40, 30},
	}
	for _, tc := range cases {
		l, b, h := shipment.Dimensions(tc.units)
		assert.Equal(t, tc.length, l, "length for %d", tc.units)
		assert.Equal(t, tc.breadth, b, "breadth for %d", tc.units)
		assert.Equal(t, tc.height, h, "height for %d", tc.units)
	}
}

func TestBuild_SevenUnits(t *testing.T) {
	o := baseOrder()
	o.Items = []orders.Item{{Name: "Sock", Quantity: 7, Price: 50}}

	req, err := shipment.Build(o, "Primary")

	require.NoError(t, err)
	assert.Equal(t, 30.0, req.LengthCm)
	assert.Equal(t, 20.0, req.BreadthCm)
	assert.Equal(t, 15.0, req.HeightCm)
	assert.Equal(t, 3.5, req.WeightKg)
}

func TestBuild_COD(t *testing.T) {
	o := baseOrder()
	o.PaymentMethod = "cod"

	req, err := shipment.Build(o, "Primary")

	require.NoError(t, err)
	assert.Equal(t, shipper.PaymentCOD, req.PaymentMethod)
	assert.True(t, req.COD())
}

func TestBuild_PaymentMethodExactMatch(t *testing.T) {
	for _, method := range []string{"COD", " cod", "card", ""} {
		o := baseOrder()
		o.PaymentMethod = method

		req, err := shipment.Build(o, "Primary")

		require.NoError(t, err)
		assert.Equal(t, shipper.PaymentPrepaid, req.PaymentMethod, "method %q", method)
	}
}

func TestBuild_EmailResolution(t *testing.T) {
	o := baseOrder()
	o.Shipping.Email = ""
	o.Email = "order@example.com"
	o.Billing = &orders.Address{Email: "billing@example.com"}
	assert.Equal(t, "order@example.com", shipment.CustomerEmail(o))

	o.Email = " "
	assert.Equal(t, "billing@example.com", shipment.CustomerEmail(o))

	o.Billing = nil
	_, err := shipment.Build(o, "Primary")
	assert.True(t, errors.Is(err, shipper.ErrMissingCustomerEmail))
}

func TestBuild_IncompleteAddress(t *testing.T) {
	o := baseOrder()
	o.Shipping.City = "  "
	o.Shipping.PostalCode = ""

	_, err := shipment.Build(o, "Primary")

	require.True(t, errors.Is(err, shipper.ErrIncompleteAddress))
	assert.Contains(t, err.Error(), "city")
	assert.Contains(t, err.Error(), "postalCode")
}

func TestBuild_EmptyOrder(t *testing.T) {
	o := baseOrder()
	o.Items = nil

	_, err := shipment.Build(o, "Primary")

	assert.True(t, errors.Is(err, shipper.ErrEmptyOrder))
}

func TestBuild_SeparateBilling(t *testing.T) {
	o := baseOrder()
	o.Billing = &orders.Address{
		FirstName:  "Ravi",
		Street:     "1 Park Street",
		City:       "Kolkata",
		State:      "West Bengal",
		PostalCode: "700016",
	}

	req, err := shipment.Build(o, "Primary")

	require.NoError(t, err)
	assert.False(t, req.ShippingIsBilling)
	assert.Equal(t, "Kolkata", req.Billing.City)
	assert.Equal(t, "Bengaluru", req.Shipping.City)
	assert.Equal(t, "asha@example.com", req.Billing.Email)
}

func TestBuild_IncompleteBillingFallsBackToShipping(t *testing.T) {
	o := baseOrder()
	o.Billing = &orders.Address{FirstName: "Ravi", City: "Kolkata"}

	req, err := shipment.Build(o, "Primary")

	require.NoError(t, err)
	assert.True(t, req.ShippingIsBilling)
	assert.Equal(t, "Bengaluru", req.Billing.City)
}
