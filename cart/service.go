package cart

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/command"
	"go.storefront.dev/core/sitecontext"
	"go.storefront.dev/core/state"
	"go.storefront.dev/core/statesync"
	"go.storefront.dev/core/storage"
)

// Service is the facade of cart operations.
type Service struct {
	store    *state.Store
	conn     Connector
	register sync.Once

	load     *command.Command[string, Cart]
	create   *command.Command[struct{}, Cart]
	addEntry *command.Command[Entry, Cart]
}

// NewService returns a Service of |conn| over |store|. The multi-cart slice
// is registered upon first use of the Service, or by Register.
func NewService(store *state.Store, conn Connector) *Service {
	var s = &Service{store: store, conn: conn}

	// Only the latest requested cart is of interest.
	s.load = command.New("cart.load", s.loadCart, command.CancelPrevious)
	// Entries are added in order, and each observes the prior.
	s.addEntry = command.New("cart.addEntry", s.addCartEntry, command.Queue)
	// A superseded creation must fail visibly: its cart was abandoned.
	s.create = command.New("cart.create", s.createCart, command.ErrorPrevious)

	return s
}

// Register the multi-cart slice, if it isn't already.
func (s *Service) Register() {
	s.register.Do(func() {
		state.RegisterSlice(s.store, SliceName, initialState(), reduce)
	})
}

// LoadCart loads Cart |id| and makes it active. A later call supersedes an
// earlier one, which is then cancelled.
func (s *Service) LoadCart(ctx context.Context, id string) *async.Result[Cart] {
	s.Register()
	return s.load.Execute(ctx, id)
}

// CreateCart creates a Cart and makes it active. A later call supersedes an
// earlier one, which then fails with command.ErrSuperseded.
func (s *Service) CreateCart(ctx context.Context) *async.Result[Cart] {
	s.Register()
	return s.create.Execute(ctx, struct{}{})
}

// AddEntry adds |quantity| of |product| to the active Cart, creating one if
// there is no active Cart. Calls are applied in order.
func (s *Service) AddEntry(ctx context.Context, product string, quantity int) *async.Result[Cart] {
	s.Register()
	return s.addEntry.Execute(ctx, Entry{Product: product, Quantity: quantity})
}

// Snapshot returns the current State, and false if the slice isn't registered.
func (s *Service) Snapshot() (State, bool) {
	return state.Slice[State](SliceName)(s.store.Tree())
}

// ActiveCartID returns the ID of the active cart, or empty if there is none.
func (s *Service) ActiveCartID() string {
	var st, _ = s.Snapshot()
	return st.Active
}

// ActiveCart is a sitecontext.Source of the active cart ID. It has no value
// while there is no active cart.
func (s *Service) ActiveCart() sitecontext.Source {
	return sitecontext.SourceFunc(func() async.Observable[string] {
		return state.Select(s.store, func(tree state.Tree) (string, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return st.Active, ok && st.Active != ""
		}, nil)
	})
}

// SyncConfig returns a statesync.Config which persists the active cart ID to
// |backend|, keyed on the active base site.
func (s *Service) SyncConfig(r *sitecontext.Resolver, backend storage.Backend) (statesync.Config[Persisted], error) {
	var ctx, err = r.Context(sitecontext.BaseSite)
	if err != nil {
		return statesync.Config[Persisted]{}, errors.WithMessage(err, "cart sync context")
	}
	return statesync.Config[Persisted]{
		Key: PersistenceKey,
		// Filtered until the slice is registered.
		State: state.Select(s.store, func(tree state.Tree) (*Persisted, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return &Persisted{Active: st.Active}, ok
		}, nil),
		Context:   ctx,
		Storage:   backend,
		OnRead:    s.onRead,
		OnPersist: s.onPersist,
	}, nil
}

func (s *Service) onRead(persisted *Persisted) {
	var id string
	if persisted != nil {
		id = persisted.Active
	}
	s.store.Dispatch(ClearCartState{}, SetActiveCartID{ID: id})
}

func (s *Service) onPersist(persisted *Persisted) {
	s.store.Dispatch(ActiveCartPersisted{ID: persisted.Active})
}

func (s *Service) loadCart(ctx context.Context, id string) (Cart, error) {
	var cart, err = s.conn.LoadCart(ctx, id)
	if err != nil {
		return Cart{}, errors.WithMessagef(err, "loading cart %q", id)
	} else if ctx.Err() != nil {
		return Cart{}, ctx.Err() // Superseded after the load completed.
	}
	s.store.Dispatch(LoadCartSuccess{Cart: cart}, SetActiveCartID{ID: cart.ID})
	return cart, nil
}

func (s *Service) createCart(ctx context.Context, _ struct{}) (Cart, error) {
	var cart, err = s.conn.CreateCart(ctx)
	if err != nil {
		return Cart{}, errors.WithMessage(err, "creating cart")
	} else if ctx.Err() != nil {
		return Cart{}, ctx.Err()
	}
	s.store.Dispatch(LoadCartSuccess{Cart: cart}, SetActiveCartID{ID: cart.ID})

	log.WithField("cart", cart.ID).Info("created cart")
	return cart, nil
}

func (s *Service) addCartEntry(ctx context.Context, entry Entry) (Cart, error) {
	if entry.Quantity <= 0 {
		return Cart{}, errors.Errorf("invalid quantity %d", entry.Quantity)
	}
	var id = s.ActiveCartID()

	if id == "" {
		var cart, err = s.createCart(ctx, struct{}{})
		if err != nil {
			return Cart{}, err
		}
		id = cart.ID
	}
	var cart, err = s.conn.AddEntry(ctx, id, entry)
	if err != nil {
		return Cart{}, errors.WithMessagef(err, "adding %s to cart %q", entry.Product, id)
	}
	// The entry was added by the backend, even if this invocation was
	// cancelled while it was being added.
	s.store.Dispatch(LoadCartSuccess{Cart: cart})
	return cart, nil
}
