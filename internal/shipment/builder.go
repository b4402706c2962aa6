// Package shipment turns a storefront order into a provider shipment request.
package shipment

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

const (
	// DefaultItemWeightKg is assumed for items without a recorded weight.
	DefaultItemWeightKg = 0.5
	// MinWeightKg is the floor applied to the package weight.
	MinWeightKg = 0.5

	defaultCountry = "India"
)

var validate = validator.New()

// addressFields is the part of an address the provider cannot ship without.
type addressFields struct {
	Street     string `validate:"required"`
	City       string `validate:"required"`
	State      string `validate:"required"`
	PostalCode string `validate:"required"`
}

// Build maps order onto a provider shipment request. It performs no I/O.
func Build(order *orders.Order, pickupLocationName string) (*shipper.ShipmentRequest, error) {
	if len(order.Items) == 0 {
		return nil, shipper.ErrEmptyOrder
	}

	email := CustomerEmail(order)
	if email == "" {
		return nil, shipper.ErrMissingCustomerEmail
	}

	if missing := MissingAddressFields(order.Shipping); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", shipper.ErrIncompleteAddress, strings.Join(missing, ", "))
	}

	shipping := toAddress(order.Shipping, email)
	billing := shipping
	shippingIsBilling := true
	if order.Billing != nil && len(MissingAddressFields(*order.Billing)) == 0 {
		billing = toAddress(*order.Billing, email)
		shippingIsBilling = billing == shipping
	}

	items := make([]shipper.Item, len(order.Items))
	units := 0
	subtotal := 0.0
	for i, it := range order.Items {
		items[i] = shipper.Item{
			Name:         it.Name,
			SKU:          skuFor(it),
			Units:        it.Quantity,
			SellingPrice: it.Price,
		}
		units += it.Quantity
		subtotal += it.Price * float64(it.Quantity)
	}
	if order.Subtotal > 0 {
		subtotal = order.Subtotal
	}

	payment := shipper.PaymentPrepaid
	if order.PaymentMethod == "cod" {
		payment = shipper.PaymentCOD
	}

	length, breadth, height := Dimensions(units)
	return &shipper.ShipmentRequest{
		OrderID:           order.ID,
		OrderDate:         order.CreatedAt,
		PickupLocation:    pickupLocationName,
		Billing:           billing,
		Shipping:          shipping,
		ShippingIsBilling: shippingIsBilling,
		Items:             items,
		PaymentMethod:     payment,
		SubTotal:          round(subtotal, 2),
		WeightKg:          Weight(order.Items),
		LengthCm:          length,
		BreadthCm:         breadth,
		HeightCm:          height,
	}, nil
}

// Weight sums item weights times quantity, assuming DefaultItemWeightKg for
// items without one, with a MinWeightKg floor.
func Weight(items []orders.Item) float64 {
	total := 0.0
	for _, it := range items {
		w := DefaultItemWeightKg
		if it.WeightKg != nil {
			w = *it.WeightKg
		}
		total += w * float64(it.Quantity)
	}
	total = round(total, 3)
	if total <= 0 {
		return MinWeightKg
	}
	return total
}

// Dimensions estimates the package size in cm from the number of units.
// This is a packing heuristic, not a measurement.
func Dimensions(units int) (length, breadth, height float64) {
	extra := (units / 3) * 5
	length = math.Min(float64(20+extra), 60)
	breadth = math.Min(float64(15+extra/2), 40)
	height = math.Min(float64(10+extra/2), 30)
	return length, breadth, height
}

// CustomerEmail resolves the notification address: shipping address,
// then order, then billing address.
func CustomerEmail(order *orders.Order) string {
	if e := strings.TrimSpace(order.Shipping.Email); e != "" {
		return e
	}
	if e := strings.TrimSpace(order.Email); e != "" {
		return e
	}
	if order.Billing != nil {
		return strings.TrimSpace(order.Billing.Email)
	}
	return ""
}

// MissingAddressFields lists the required address fields that are blank.
func MissingAddressFields(a orders.Address) []string {
	err := validate.Struct(addressFields{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
	})
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fieldName(fe.Field()))
	}
	return missing
}

func fieldName(f string) string {
	switch f {
	case "PostalCode":
		return "postalCode"
	default:
		return strings.ToLower(f[:1]) + f[1:]
	}
}

func toAddress(a orders.Address, email string) shipper.Address {
	country := strings.TrimSpace(a.Country)
	if country == "" {
		country = defaultCountry
	}
	return shipper.Address{
		FirstName:  strings.TrimSpace(a.FirstName),
		LastName:   strings.TrimSpace(a.LastName),
		Company:    strings.TrimSpace(a.Company),
		Street:     strings.TrimSpace(a.Street),
		Street2:    strings.TrimSpace(a.Street2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    country,
		Email:      email,
		Phone:      strings.TrimSpace(a.Phone),
	}
}

func skuFor(it orders.Item) string {
	if it.SKU != "" {
		return it.SKU
	}
	return it.ProductID
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
