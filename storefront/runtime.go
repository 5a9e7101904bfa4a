// Package storefront assembles a storefront Runtime: the state Store, the
// site-context, cart and checkout Services, the context Resolver relating
// them, and the Synchronizers persisting each Service's slice of state.
package storefront

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/cart"
	"go.storefront.dev/core/checkout"
	"go.storefront.dev/core/sitecontext"
	"go.storefront.dev/core/state"
	"go.storefront.dev/core/statesync"
	"go.storefront.dev/core/storage"
	"go.storefront.dev/core/task"
)

// SyncTypes select the storage of each persisted slice.
type SyncTypes struct {
	SiteContext storage.SyncType
	Cart        storage.SyncType
	Checkout    storage.SyncType
}

// DefaultSyncTypes persist the active cart and site context durably, and
// checkout details for the session.
var DefaultSyncTypes = SyncTypes{
	SiteContext: storage.LocalStorage,
	Cart:        storage.LocalStorage,
	Checkout:    storage.SessionStorage,
}

// Config of a Runtime.
type Config struct {
	Site sitecontext.Config
	Sync SyncTypes
}

// Connector is the commerce backend of a Runtime.
type Connector interface {
	cart.Connector
	checkout.Connector
}

// Runtime is an assembled storefront.
type Runtime struct {
	Store    *state.Store
	Resolver *sitecontext.Resolver
	Site     *sitecontext.Service
	Carts    *cart.Service
	Checkout *checkout.Service

	env  *storage.Environment
	sync SyncTypes
}

// NewRuntime returns a Runtime of |cfg| using |conn|, which persists to
// Backends of |env|. A nil |env| runs without storage.
func NewRuntime(cfg Config, env *storage.Environment, conn Connector) (*Runtime, error) {
	var rt = &Runtime{
		Store:    state.NewStore(),
		Resolver: sitecontext.NewResolver(),
		env:      env,
		sync:     cfg.Sync,
	}
	var err error
	if rt.Site, err = sitecontext.NewService(rt.Store, cfg.Site); err != nil {
		return nil, err
	}
	rt.Carts = cart.NewService(rt.Store, conn)
	rt.Checkout = checkout.NewService(rt.Store, rt.Carts, conn)

	rt.Site.RegisterSources(rt.Resolver)
	rt.Resolver.Register(sitecontext.Cart, rt.Carts.ActiveCart())

	// Slices are served from startup, so that the first read of persisted
	// state is applied rather than dropped.
	rt.Carts.Register()
	rt.Checkout.Register()

	rt.Store.Observe(func(a state.Action) {
		if p, ok := a.(cart.ActiveCartPersisted); ok {
			log.WithField("cart", p.ID).Debug("active cart persisted")
		}
	})
	return rt, nil
}

// QueueTasks queues a Synchronizer of each persisted slice with |tasks|.
func (rt *Runtime) QueueTasks(tasks *task.Group) error {
	siteCfg, err := rt.Site.SyncConfig(rt.Resolver, rt.env.Backend(rt.sync.SiteContext))
	if err != nil {
		return errors.WithMessage(err, "site context sync")
	}
	cartCfg, err := rt.Carts.SyncConfig(rt.Resolver, rt.env.Backend(rt.sync.Cart))
	if err != nil {
		return err
	}
	checkoutCfg, err := rt.Checkout.SyncConfig(rt.Resolver, rt.env.Backend(rt.sync.Checkout))
	if err != nil {
		return err
	}

	queueSync(tasks, siteCfg)
	queueSync(tasks, cartCfg)
	queueSync(tasks, checkoutCfg)
	return nil
}

// Backend returns the Backend of SyncType |t|, or nil if there is none.
func (rt *Runtime) Backend(t storage.SyncType) storage.Backend { return rt.env.Backend(t) }

func queueSync[T any](tasks *task.Group, cfg statesync.Config[T]) {
	if w, ok := cfg.Storage.(storage.Watcher); ok {
		cfg.Events = w.Events()
	}
	log.WithFields(log.Fields{
		"key":     cfg.Key,
		"storage": cfg.Storage != nil,
		"events":  cfg.Events != nil,
	}).Info("starting state synchronizer")

	tasks.Queue("sync "+cfg.Key, func() error {
		return statesync.Sync(tasks.Context(), cfg)
	})
}
