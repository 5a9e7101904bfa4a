// Package cart is the multi-cart state store. It tracks loaded carts and the
// active cart, issues cart operations through command.Commands, and persists
// the identity of the active cart per base site.
package cart

import (
	"context"
	"maps"

	"github.com/pkg/errors"
	"go.storefront.dev/core/state"
)

const (
	// SliceName of the multi-cart state slice.
	SliceName = "multiCart"
	// PersistenceKey is the base storage key of the persisted active cart.
	PersistenceKey = "cart"
)

// ErrNoActiveCart is returned by operations which require an active cart.
var ErrNoActiveCart = errors.New("no active cart")

// Entry is a product and quantity of a Cart.
type Entry struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Cart is a cart as returned by a Connector.
type Cart struct {
	ID      string  `json:"id"`
	Entries []Entry `json:"entries,omitempty"`
}

// Quantity returns the total quantity of all Entries.
func (c Cart) Quantity() (n int) {
	for _, e := range c.Entries {
		n += e.Quantity
	}
	return
}

// State of the multi-cart slice.
type State struct {
	// Active is the ID of the active cart, or empty if there is none.
	Active string
	// Carts which have been loaded, keyed on ID.
	Carts map[string]Cart
}

// Persisted is the projection of State which is persisted.
type Persisted struct {
	Active string `json:"active"`
}

// Actions of the multi-cart slice.
type (
	// ClearCartState resets the slice to its initial State.
	ClearCartState struct{}
	// SetActiveCartID sets the active cart. An empty ID clears it.
	SetActiveCartID struct{ ID string }
	// LoadCartSuccess adds or replaces a loaded Cart.
	LoadCartSuccess struct{ Cart Cart }
	// RemoveCart removes a Cart, and clears it if active.
	RemoveCart struct{ ID string }
	// ActiveCartPersisted notifies that the active cart ID was persisted.
	// It doesn't modify State.
	ActiveCartPersisted struct{ ID string }
)

func initialState() State { return State{Carts: map[string]Cart{}} }

func reduce(s State, action state.Action) State {
	switch a := action.(type) {
	case ClearCartState:
		return initialState()
	case SetActiveCartID:
		s.Active = a.ID
	case LoadCartSuccess:
		var carts = make(map[string]Cart, len(s.Carts)+1)
		maps.Copy(carts, s.Carts)
		carts[a.Cart.ID] = a.Cart
		s.Carts = carts
	case RemoveCart:
		if _, ok := s.Carts[a.ID]; ok {
			s.Carts = maps.Clone(s.Carts)
			delete(s.Carts, a.ID)
		}
		if s.Active == a.ID {
			s.Active = ""
		}
	}
	return s
}

// Connector is the commerce backend of carts.
type Connector interface {
	// LoadCart returns the Cart |id|.
	LoadCart(ctx context.Context, id string) (Cart, error)
	// CreateCart creates and returns an empty Cart.
	CreateCart(ctx context.Context) (Cart, error)
	// AddEntry adds |entry| to Cart |id|, returning the updated Cart.
	AddEntry(ctx context.Context, id string, entry Entry) (Cart, error)
}
