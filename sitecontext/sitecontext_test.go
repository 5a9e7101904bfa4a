package sitecontext

import (
	"context"
	"testing"
	"time"

	"go.storefront.dev/core/state"
	"go.storefront.dev/core/statesync"
	"go.storefront.dev/core/storage"
	gc "gopkg.in/check.v1"
)

type SiteContextSuite struct{}

func (s *SiteContextSuite) TestSettingReplaysCurrentValue(c *gc.C) {
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var setting = NewSetting()
	var ch = setting.Active().Subscribe(ctx)
	expectNothing(c, ch)

	setting.Set("siteA")
	c.Check(<-ch, gc.Equals, "siteA")
	setting.Set("siteA") // Unchanged.
	setting.Set("siteB")
	c.Check(<-ch, gc.Equals, "siteB")

	// A new subscriber receives the current value.
	var ch2 = setting.Active().Subscribe(ctx)
	c.Check(<-ch2, gc.Equals, "siteB")

	var v, ok = setting.Get()
	c.Check(v, gc.Equals, "siteB")
	c.Check(ok, gc.Equals, true)
}

func (s *SiteContextSuite) TestResolverCombinesDimensions(c *gc.C) {
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var r = NewResolver()
	var site, lang = NewSetting(), NewSetting()
	r.Register(BaseSite, site)
	r.Register(Language, lang)

	var _, err = r.Context(BaseSite, Currency)
	c.Check(err, gc.ErrorMatches, `context source "currency" is not registered`)

	obs, err := r.Context(BaseSite, Language)
	c.Assert(err, gc.IsNil)
	var ch = obs.Subscribe(ctx)

	// Nothing is emitted until every dimension has a value.
	site.Set("siteA")
	expectNothing(c, ch)

	lang.Set("en")
	c.Check(<-ch, gc.DeepEquals, []string{"siteA", "en"})

	lang.Set("de")
	c.Check(<-ch, gc.DeepEquals, []string{"siteA", "de"})
	site.Set("siteB")
	c.Check(<-ch, gc.DeepEquals, []string{"siteB", "de"})

	// Setting an unchanged value emits nothing.
	site.Set("siteB")
	expectNothing(c, ch)

	cancel()
	for range ch {
	}
}

func (s *SiteContextSuite) TestEmptyContext(c *gc.C) {
	var obs, err = NewResolver().Context()
	c.Assert(err, gc.IsNil)

	var ch = obs.Subscribe(context.Background())
	c.Check(<-ch, gc.DeepEquals, []string{})
	var _, ok = <-ch
	c.Check(ok, gc.Equals, false)
}

func (s *SiteContextSuite) TestServiceValidatesValues(c *gc.C) {
	var _, err = NewService(state.NewStore(), Config{BaseSites: []string{"a"}})
	c.Check(err, gc.ErrorMatches, "site context config: expected at least one language")

	var store = state.NewStore()
	svc, err := NewService(store, testConfig)
	c.Assert(err, gc.IsNil)

	c.Check(svc.SetLanguage("fr"), gc.ErrorMatches, `language "fr" is not available`)
	c.Check(svc.SetCurrency("JPY"), gc.ErrorMatches, `currency "JPY" is not available`)
	c.Check(svc.SetBaseSite("siteZ"), gc.ErrorMatches, `base site "siteZ" is not available`)

	c.Check(svc.SetLanguage("de"), gc.IsNil)
	c.Check(svc.SetCurrency("EUR"), gc.IsNil)

	var site, st = svc.Active()
	c.Check(site, gc.Equals, "siteA")
	c.Check(st, gc.Equals, State{Language: "de", Currency: "EUR"})

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var r = NewResolver()
	svc.RegisterSources(r)
	obs, err := r.Context(BaseSite, Language, Currency)
	c.Assert(err, gc.IsNil)
	c.Check(<-obs.Subscribe(ctx), gc.DeepEquals, []string{"siteA", "de", "EUR"})
}

func (s *SiteContextSuite) TestPersistenceByBaseSite(c *gc.C) {
	var backend = storage.NewMemoryBackend()
	c.Assert(backend.SetItem("site-context_siteB", `{"language":"en","currency":"GBP"}`), gc.IsNil)

	var config = testConfig
	config.BaseSites = []string{"siteA", "siteB", "siteC"}

	var svc, err = NewService(state.NewStore(), config)
	c.Assert(err, gc.IsNil)
	var r = NewResolver()
	svc.RegisterSources(r)

	cfg, err := svc.SyncConfig(r, backend)
	c.Assert(err, gc.IsNil)

	var ctx, cancel = context.WithCancel(context.Background())
	var doneCh = make(chan error)
	go func() { doneCh <- statesync.Sync(ctx, cfg) }()

	// Defaults are persisted for siteA.
	awaitItem(c, backend, "site-context_siteA", `{"language":"en","currency":"USD"}`)

	c.Check(svc.SetLanguage("de"), gc.IsNil)
	awaitItem(c, backend, "site-context_siteA", `{"language":"de","currency":"USD"}`)

	// Switching base site restores values which remain available.
	c.Check(svc.SetBaseSite("siteB"), gc.IsNil)
	awaitItem(c, backend, "site-context_siteB", `{"language":"en","currency":"USD"}`)

	var _, st = svc.Active()
	c.Check(st, gc.Equals, State{Language: "en", Currency: "USD"})

	// siteA's value is unchanged by the switch.
	var v, _, _ = backend.GetItem("site-context_siteA")
	c.Check(v, gc.Equals, `{"language":"de","currency":"USD"}`)

	// A site without persisted values starts from defaults, rather than
	// inheriting those of the prior site.
	c.Check(svc.SetLanguage("de"), gc.IsNil)
	c.Check(svc.SetCurrency("EUR"), gc.IsNil)
	awaitItem(c, backend, "site-context_siteB", `{"language":"de","currency":"EUR"}`)

	c.Check(svc.SetBaseSite("siteC"), gc.IsNil)
	awaitItem(c, backend, "site-context_siteC", `{"language":"en","currency":"USD"}`)

	// Switching back restores siteA's values.
	c.Check(svc.SetBaseSite("siteA"), gc.IsNil)
	awaitItem(c, backend, "site-context_siteA", `{"language":"de","currency":"USD"}`)
	_, st = svc.Active()
	c.Check(st, gc.Equals, State{Language: "de", Currency: "USD"})

	cancel()
	c.Check(<-doneCh, gc.Equals, context.Canceled)
}

var testConfig = Config{
	BaseSites:  []string{"siteA", "siteB"},
	Languages:  []string{"en", "de"},
	Currencies: []string{"USD", "EUR"},
}

func expectNothing[T any](c *gc.C, ch <-chan T) {
	select {
	case v := <-ch:
		c.Fatalf("unexpected value %v", v)
	case <-time.After(10 * time.Millisecond):
	}
}

func awaitItem(c *gc.C, b storage.Backend, key, expect string) {
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(time.Millisecond) {
		if v, ok, _ := b.GetItem(key); ok && v == expect {
			return
		}
	}
	var v, _, _ = b.GetItem(key)
	c.Fatalf("timeout awaiting %s == %s (last %s)", key, expect, v)
}

var _ = gc.Suite(&SiteContextSuite{})

func Test(t *testing.T) { gc.TestingT(t) }
