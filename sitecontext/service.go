package sitecontext

import (
	"slices"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/state"
	"go.storefront.dev/core/statesync"
	"go.storefront.dev/core/storage"
)

const (
	// SliceName of the site-context state slice.
	SliceName = "siteContext"
	// PersistenceKey is the base storage key of persisted site context.
	PersistenceKey = "site-context"
)

// State of the site context. Values are empty until set.
type State struct {
	Language string `json:"language,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// SetActiveLanguage is an Action which sets the active language.
type SetActiveLanguage struct{ Code string }

// SetActiveCurrency is an Action which sets the active currency.
type SetActiveCurrency struct{ Code string }

func reduce(s State, action state.Action) State {
	switch a := action.(type) {
	case SetActiveLanguage:
		s.Language = a.Code
	case SetActiveCurrency:
		s.Currency = a.Code
	}
	return s
}

// Config of the values available to a storefront. The first value of each
// list is its default.
type Config struct {
	BaseSites  []string
	Languages  []string
	Currencies []string
}

// Validate returns an error if the Config is not valid.
func (c Config) Validate() error {
	if len(c.BaseSites) == 0 {
		return errors.New("expected at least one base site")
	} else if len(c.Languages) == 0 {
		return errors.New("expected at least one language")
	} else if len(c.Currencies) == 0 {
		return errors.New("expected at least one currency")
	}
	return nil
}

// Service manages the active base site, language and currency.
type Service struct {
	store    *state.Store
	cfg      Config
	baseSite *Setting
}

// NewService returns a Service of |cfg|, registering its slice with |store|.
// The active base site, language and currency are initially the defaults.
func NewService(store *state.Store, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "site context config")
	}
	var svc = &Service{
		store:    store,
		cfg:      cfg,
		baseSite: NewSetting(),
	}
	svc.baseSite.Set(cfg.BaseSites[0])

	state.RegisterSlice(store, SliceName, State{
		Language: cfg.Languages[0],
		Currency: cfg.Currencies[0],
	}, reduce)

	return svc, nil
}

// SetBaseSite sets the active base site.
func (s *Service) SetBaseSite(site string) error {
	if !slices.Contains(s.cfg.BaseSites, site) {
		return errors.Errorf("base site %q is not available", site)
	}
	s.baseSite.Set(site)
	return nil
}

// SetLanguage sets the active language.
func (s *Service) SetLanguage(code string) error {
	if !slices.Contains(s.cfg.Languages, code) {
		return errors.Errorf("language %q is not available", code)
	}
	s.store.Dispatch(SetActiveLanguage{Code: code})
	return nil
}

// SetCurrency sets the active currency.
func (s *Service) SetCurrency(code string) error {
	if !slices.Contains(s.cfg.Currencies, code) {
		return errors.Errorf("currency %q is not available", code)
	}
	s.store.Dispatch(SetActiveCurrency{Code: code})
	return nil
}

// Active returns the active base site and State.
func (s *Service) Active() (string, State) {
	var site, _ = s.baseSite.Get()
	var st, _ = state.Slice[State](SliceName)(s.store.Tree())
	return site, st
}

// BaseSite returns the Source of the active base site.
func (s *Service) BaseSite() Source { return s.baseSite }

// Language returns the Source of the active language.
func (s *Service) Language() Source {
	return SourceFunc(func() async.Observable[string] {
		return state.Select(s.store, func(tree state.Tree) (string, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return st.Language, ok && st.Language != ""
		}, nil)
	})
}

// Currency returns the Source of the active currency.
func (s *Service) Currency() Source {
	return SourceFunc(func() async.Observable[string] {
		return state.Select(s.store, func(tree state.Tree) (string, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return st.Currency, ok && st.Currency != ""
		}, nil)
	})
}

// RegisterSources registers the base site, language and currency
// dimensions of the Service with |r|.
func (s *Service) RegisterSources(r *Resolver) {
	r.Register(BaseSite, s.BaseSite())
	r.Register(Language, s.Language())
	r.Register(Currency, s.Currency())
}

// SyncConfig returns a statesync.Config which persists the State to
// |backend|, keyed on the active base site. On each switch of base site, the
// language and currency reset to their defaults, and then to the values
// persisted for the site which are still available.
func (s *Service) SyncConfig(r *Resolver, backend storage.Backend) (statesync.Config[State], error) {
	var ctx, err = r.Context(BaseSite)
	if err != nil {
		return statesync.Config[State]{}, err
	}
	return statesync.Config[State]{
		Key: PersistenceKey,
		State: state.Select(s.store, func(tree state.Tree) (*State, bool) {
			var st, ok = state.Slice[State](SliceName)(tree)
			return &st, ok
		}, nil),
		Context: ctx,
		Storage: backend,
		OnRead:  s.onRead,
	}, nil
}

// onRead resets to defaults, and restores persisted values which are
// still available.
func (s *Service) onRead(persisted *State) {
	s.store.Dispatch(
		SetActiveLanguage{Code: s.cfg.Languages[0]},
		SetActiveCurrency{Code: s.cfg.Currencies[0]},
	)
	if persisted == nil {
		return
	}
	if persisted.Language != "" {
		if err := s.SetLanguage(persisted.Language); err != nil {
			log.WithField("err", err).Info("not restoring persisted language")
		}
	}
	if persisted.Currency != "" {
		if err := s.SetCurrency(persisted.Currency); err != nil {
			log.WithField("err", err).Info("not restoring persisted currency")
		}
	}
}
