package checkout

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/cart"
	"go.storefront.dev/core/command"
	"go.storefront.dev/core/sitecontext"
	"go.storefront.dev/core/state"
	"go.storefront.dev/core/statesync"
	"go.storefront.dev/core/storage"
)

// Service is the facade of checkout operations of the active cart.
type Service struct {
	store    *state.Store
	carts    *cart.Service
	conn     Connector
	register sync.Once

	deliveryMode *command.Command[string, string]
	paymentType  *command.Command[PaymentDetails, PaymentDetails]
	placeOrder   *command.Command[bool, Order]
}

// NewService returns a Service of |conn| over |store|, which checks out the
// active cart of |carts|.
func NewService(store *state.Store, carts *cart.Service, conn Connector) *Service {
	var s = &Service{store: store, carts: carts, conn: conn}

	s.deliveryMode = command.New("checkout.setDeliveryMode", s.setDeliveryMode, command.CancelPrevious)
	s.paymentType = command.New("checkout.setPaymentType", s.setPaymentType, command.Queue)
	s.placeOrder = command.New("checkout.placeOrder", s.place, command.CancelPrevious)

	return s
}

// Register the checkout slice, if it isn't already.
func (s *Service) Register() {
	s.register.Do(func() {
		state.RegisterSlice(s.store, SliceName, State{}, reduce)
	})
}

// SetDeliveryMode of the active cart.
func (s *Service) SetDeliveryMode(ctx context.Context, code string) *async.Result[string] {
	s.Register()
	return s.deliveryMode.Execute(ctx, code)
}

// SetPaymentType of the active cart.
func (s *Service) SetPaymentType(ctx context.Context, details PaymentDetails) *async.Result[PaymentDetails] {
	s.Register()
	return s.paymentType.Execute(ctx, details)
}

// PlaceOrder of the active cart. |termsChecked| must be true.
func (s *Service) PlaceOrder(ctx context.Context, termsChecked bool) *async.Result[Order] {
	s.Register()
	return s.placeOrder.Execute(ctx, termsChecked)
}

// Snapshot returns the current State, and false if the slice isn't registered.
func (s *Service) Snapshot() (State, bool) {
	return state.Slice[State](SliceName)(s.store.Tree())
}

// SyncConfig returns a statesync.Config which persists checkout details to
// |backend|, keyed on the active base site and cart.
func (s *Service) SyncConfig(r *sitecontext.Resolver, backend storage.Backend) (statesync.Config[Persisted], error) {
	var ctx, err = r.Context(sitecontext.BaseSite, sitecontext.Cart)
	if err != nil {
		return statesync.Config[Persisted]{}, errors.WithMessage(err, "checkout sync context")
	}
	return statesync.Config[Persisted]{
		Key: PersistenceKey,
		State: state.Select(s.store, func(tree state.Tree) (*Persisted, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return &Persisted{
				DeliveryMode: st.DeliveryMode,
				PaymentType:  st.Payment.Type,
				PONumber:     st.Payment.PONumber,
			}, ok
		}, nil),
		Context: ctx,
		Storage: backend,
		OnRead: func(p *Persisted) {
			s.store.Dispatch(ClearCheckoutData{})
			if p != nil {
				s.store.Dispatch(RestoreCheckout{Persisted: *p})
			}
		},
	}, nil
}

func (s *Service) activeCart() (string, error) {
	if id := s.carts.ActiveCartID(); id != "" {
		return id, nil
	}
	return "", cart.ErrNoActiveCart
}

func (s *Service) setDeliveryMode(ctx context.Context, code string) (string, error) {
	var id, err = s.activeCart()
	if err != nil {
		return "", err
	} else if err = s.conn.SetDeliveryMode(ctx, id, code); err != nil {
		return "", errors.WithMessagef(err, "setting delivery mode of cart %q", id)
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}
	s.store.Dispatch(SetDeliveryModeSuccess{Code: code})
	return code, nil
}

func (s *Service) setPaymentType(ctx context.Context, details PaymentDetails) (PaymentDetails, error) {
	var id, err = s.activeCart()
	if err != nil {
		return PaymentDetails{}, err
	} else if err = s.conn.SetPaymentType(ctx, id, details); err != nil {
		return PaymentDetails{}, errors.WithMessagef(err, "setting payment type of cart %q", id)
	}
	s.store.Dispatch(SetPaymentTypeSuccess{Details: details})
	return details, nil
}

func (s *Service) place(ctx context.Context, termsChecked bool) (Order, error) {
	if !termsChecked {
		return Order{}, ErrTermsNotAccepted
	}
	var id, err = s.activeCart()
	if err != nil {
		return Order{}, err
	}
	order, err := s.conn.PlaceOrder(ctx, id)
	if err != nil {
		return Order{}, errors.WithMessagef(err, "placing order of cart %q", id)
	}
	// The cart is consumed by the order, even if this invocation was
	// superseded while the order was being placed.
	s.store.Dispatch(PlaceOrderSuccess{Order: order}, cart.RemoveCart{ID: id})

	log.WithFields(log.Fields{"order": order.Code, "cart": id}).Info("placed order")
	return order, nil
}
