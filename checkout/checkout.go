// Package checkout is the state store of checkout of the active cart:
// its delivery mode, payment details and placed order.
package checkout

import (
	"context"

	"github.com/pkg/errors"
	"go.storefront.dev/core/cart"
	"go.storefront.dev/core/state"
)

const (
	SliceName      = "checkout"
	PersistenceKey = "checkout"
)

// ErrTermsNotAccepted is returned when placing an order without accepting
// terms and conditions.
var ErrTermsNotAccepted = errors.New("terms and conditions were not accepted")

// PaymentDetails of a checkout.
type PaymentDetails struct {
	Type     string `json:"type"`
	PONumber string `json:"poNumber,omitempty"`
}

// Order is a placed order.
type Order struct {
	Code         string         `json:"code"`
	CartID       string         `json:"cartId"`
	Entries      []cart.Entry   `json:"entries"`
	DeliveryMode string         `json:"deliveryMode"`
	Payment      PaymentDetails `json:"payment"`
}

// State of the checkout slice.
type State struct {
	DeliveryMode string         `json:"deliveryMode,omitempty"`
	Payment      PaymentDetails `json:"payment"`
	// Order is the most recently placed Order, if any.
	Order *Order `json:"order,omitempty"`
}

// Persisted is the projection of State which is persisted.
type Persisted struct {
	DeliveryMode string `json:"deliveryMode,omitempty"`
	PaymentType  string `json:"paymentType,omitempty"`
	PONumber     string `json:"poNumber,omitempty"`
}

type (
	ClearCheckoutData      struct{}
	RestoreCheckout        struct{ Persisted Persisted }
	SetDeliveryModeSuccess struct{ Code string }
	SetPaymentTypeSuccess  struct{ Details PaymentDetails }
	PlaceOrderSuccess      struct{ Order Order }
)

func reduce(s State, action state.Action) State {
	switch a := action.(type) {
	case ClearCheckoutData:
		return State{}
	case RestoreCheckout:
		s.DeliveryMode = a.Persisted.DeliveryMode
		s.Payment = PaymentDetails{Type: a.Persisted.PaymentType, PONumber: a.Persisted.PONumber}
	case SetDeliveryModeSuccess:
		s.DeliveryMode = a.Code
	case SetPaymentTypeSuccess:
		s.Payment = a.Details
	case PlaceOrderSuccess:
		var order = a.Order
		return State{Order: &order}
	}
	return s
}

// Connector is the commerce backend of checkout.
type Connector interface {
	SetDeliveryMode(ctx context.Context, cartID, code string) error
	SetPaymentType(ctx context.Context, cartID string, details PaymentDetails) error
	// PlaceOrder places an order of cart |cartID|, which is consumed.
	PlaceOrder(ctx context.Context, cartID string) (Order, error)
}
