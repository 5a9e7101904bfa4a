// Package memory is an in-memory commerce backend, implementing the cart and
// checkout Connectors with a simulated round-trip latency.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.storefront.dev/core/cart"
	"go.storefront.dev/core/checkout"
)

// ErrNotFound is returned for operations of an unknown cart.
var ErrNotFound = errors.New("cart not found")

// Commerce is an in-memory commerce backend.
type Commerce struct {
	// Latency of each operation.
	Latency       time.Duration
	DeliveryModes []string
	PaymentTypes  []string

	mu       sync.Mutex
	carts    map[string]cart.Cart
	details  map[string]checkoutDetails
	orders   []checkout.Order
	products map[string]bool
}

type checkoutDetails struct {
	deliveryMode string
	payment      checkout.PaymentDetails
}

var (
	_ cart.Connector     = &Commerce{} // Commerce is-a cart.Connector.
	_ checkout.Connector = &Commerce{} // Commerce is-a checkout.Connector.
)

// NewCommerce returns a Commerce of |products| having |latency|.
func NewCommerce(latency time.Duration, products ...string) *Commerce {
	var c = &Commerce{
		Latency:       latency,
		DeliveryModes: []string{"standard-gross", "premium-gross"},
		PaymentTypes:  []string{"CARD", "ACCOUNT"},
		carts:         make(map[string]cart.Cart),
		details:       make(map[string]checkoutDetails),
		products:      make(map[string]bool),
	}
	for _, p := range products {
		c.products[p] = true
	}
	return c
}

// LoadCart implements cart.Connector.
func (c *Commerce) LoadCart(ctx context.Context, id string) (cart.Cart, error) {
	if err := c.roundTrip(ctx); err != nil {
		return cart.Cart{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if out, ok := c.carts[id]; ok {
		return cloneCart(out), nil
	}
	return cart.Cart{}, ErrNotFound
}

// CreateCart implements cart.Connector.
func (c *Commerce) CreateCart(ctx context.Context) (cart.Cart, error) {
	if err := c.roundTrip(ctx); err != nil {
		return cart.Cart{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out = cart.Cart{ID: uuid.NewString()}
	c.carts[out.ID] = out
	return out, nil
}

// AddEntry implements cart.Connector. Entries of the same product are merged.
func (c *Commerce) AddEntry(ctx context.Context, id string, entry cart.Entry) (cart.Cart, error) {
	if err := c.roundTrip(ctx); err != nil {
		return cart.Cart{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out, ok = c.carts[id]
	if !ok {
		return cart.Cart{}, ErrNotFound
	} else if len(c.products) != 0 && !c.products[entry.Product] {
		return cart.Cart{}, errors.Errorf("unknown product %q", entry.Product)
	}
	out = cloneCart(out)

	if ind := slices.IndexFunc(out.Entries, func(e cart.Entry) bool {
		return e.Product == entry.Product
	}); ind != -1 {
		out.Entries[ind].Quantity += entry.Quantity
	} else {
		out.Entries = append(out.Entries, entry)
	}
	c.carts[id] = out
	return cloneCart(out), nil
}

// SetDeliveryMode implements checkout.Connector.
func (c *Commerce) SetDeliveryMode(ctx context.Context, cartID, code string) error {
	if err := c.roundTrip(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.carts[cartID]; !ok {
		return ErrNotFound
	} else if !slices.Contains(c.DeliveryModes, code) {
		return errors.Errorf("unsupported delivery mode %q", code)
	}
	var d = c.details[cartID]
	d.deliveryMode = code
	c.details[cartID] = d
	return nil
}

// SetPaymentType implements checkout.Connector.
func (c *Commerce) SetPaymentType(ctx context.Context, cartID string, details checkout.PaymentDetails) error {
	if err := c.roundTrip(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.carts[cartID]; !ok {
		return ErrNotFound
	} else if !slices.Contains(c.PaymentTypes, details.Type) {
		return errors.Errorf("unsupported payment type %q", details.Type)
	} else if details.Type == "ACCOUNT" && details.PONumber == "" {
		return errors.New("ACCOUNT payment requires a PO number")
	}
	var d = c.details[cartID]
	d.payment = details
	c.details[cartID] = d
	return nil
}

// PlaceOrder implements checkout.Connector.
func (c *Commerce) PlaceOrder(ctx context.Context, cartID string) (checkout.Order, error) {
	if err := c.roundTrip(ctx); err != nil {
		return checkout.Order{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var crt, ok = c.carts[cartID]
	var d = c.details[cartID]

	if !ok {
		return checkout.Order{}, ErrNotFound
	} else if len(crt.Entries) == 0 {
		return checkout.Order{}, errors.New("cart is empty")
	} else if d.deliveryMode == "" {
		return checkout.Order{}, errors.New("delivery mode is not set")
	} else if d.payment.Type == "" {
		return checkout.Order{}, errors.New("payment type is not set")
	}

	var order = checkout.Order{
		Code:         uuid.NewString(),
		CartID:       cartID,
		Entries:      slices.Clone(crt.Entries),
		DeliveryMode: d.deliveryMode,
		Payment:      d.payment,
	}
	c.orders = append(c.orders, order)
	delete(c.carts, cartID)
	delete(c.details, cartID)

	return order, nil
}

// Orders returns all placed Orders.
func (c *Commerce) Orders() []checkout.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.orders)
}

// roundTrip simulates a request to a remote backend.
func (c *Commerce) roundTrip(ctx context.Context) error {
	if c.Latency == 0 {
		return ctx.Err()
	}
	var timer = time.NewTimer(c.Latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Entries = slices.Clone(c.Entries)
	return c
}
