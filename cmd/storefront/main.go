package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/connectors/memory"
	mbp "go.storefront.dev/core/mainboilerplate"
	"go.storefront.dev/core/sitecontext"
	"go.storefront.dev/core/storage"
	"go.storefront.dev/core/storefront"
	"go.storefront.dev/core/task"
)

const iniFilename = "storefront.ini"

// Config is the top-level configuration object of a storefront.
var Config = new(struct {
	Service mbp.ServiceConfig `group:"Service" namespace:"service" env-namespace:"SERVICE"`

	Site struct {
		BaseSites  []string `long:"base-site" env:"BASE_SITES" env-delim:"," default:"electronics" default:"apparel" description:"Available base sites. The first is the default"`
		Languages  []string `long:"language" env:"LANGUAGES" env-delim:"," default:"en" default:"de" description:"Available languages. The first is the default"`
		Currencies []string `long:"currency" env:"CURRENCIES" env-delim:"," default:"USD" default:"EUR" description:"Available currencies. The first is the default"`
	} `group:"Site" namespace:"site" env-namespace:"SITE"`

	Sync struct {
		SiteContext string `long:"site-context" env:"SITE_CONTEXT" default:"local" choice:"none" choice:"local" choice:"session" description:"Storage of the active site context"`
		Cart        string `long:"cart" env:"CART" default:"local" choice:"none" choice:"local" choice:"session" description:"Storage of the active cart"`
		Checkout    string `long:"checkout" env:"CHECKOUT" default:"session" choice:"none" choice:"local" choice:"session" description:"Storage of checkout details"`
	} `group:"Sync" namespace:"sync" env-namespace:"SYNC"`

	Commerce struct {
		Latency  time.Duration `long:"latency" env:"LATENCY" default:"50ms" description:"Simulated latency of each commerce backend request"`
		Products []string      `long:"product" env:"PRODUCTS" env-delim:"," description:"Known product codes. If empty, any product may be added"`
	} `group:"Commerce" namespace:"commerce" env-namespace:"COMMERCE"`

	Storage     mbp.StorageConfig     `group:"Storage" namespace:"storage" env-namespace:"STORAGE"`
	Etcd        mbp.EtcdConfig        `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

// commands registered by the files of this package.
var commands = mbp.NewCommandRegistry()

type cmdServe struct {
	ShutdownTimeout time.Duration `long:"shutdown-timeout" default:"10s" description:"Time allowed for in-flight requests to complete on exit"`
}

func init() {
	commands.AddCommand("", "serve", "Serve a storefront", `
Serve the storefront HTTP API with the provided configuration, until signaled
to exit (via SIGTERM or SIGINT). The active site context, cart and checkout
details are persisted to configured storage as they change, and are restored
from it on start and whenever the base site or active cart changes.
`, &cmdServe{})
}

func (cmd cmdServe) Execute([]string) error {
	var mux = http.NewServeMux()
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics, mux)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":  Config,
		"id":      Config.Service.ProcessID(),
		"version": mbp.Version,
	}).Info("starting storefront")

	var syncTypes, err = parseSyncTypes()
	mbp.Must(err, "invalid sync configuration")

	var env = Config.Storage.MustOpen(&Config.Etcd)
	var commerce = memory.NewCommerce(Config.Commerce.Latency, Config.Commerce.Products...)

	rt, err := storefront.NewRuntime(storefront.Config{
		Site: sitecontext.Config{
			BaseSites:  Config.Site.BaseSites,
			Languages:  Config.Site.Languages,
			Currencies: Config.Site.Currencies,
		},
		Sync: syncTypes,
	}, env, commerce)
	mbp.Must(err, "failed to build storefront runtime")
	mux.Handle("/", storefront.NewHandler(rt))

	var tasks = task.NewGroup(context.Background())
	mbp.Must(rt.QueueTasks(tasks), "failed to queue synchronizers")

	var srv = &http.Server{
		Addr:              Config.Service.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tasks.Queue("http.ListenAndServe", func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("http.Shutdown", func() error {
		<-tasks.Context().Done()

		var ctx, cancel = context.WithTimeout(context.Background(), cmd.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	// Install signal handler & start storefront tasks.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signals", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
		case <-tasks.Context().Done():
		}
		return nil
	})
	tasks.GoRun()

	log.WithField("addr", srv.Addr).Info("serving storefront")

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "storefront task failed")
	log.Info("goodbye")

	return nil
}

func parseSyncTypes() (storefront.SyncTypes, error) {
	var out storefront.SyncTypes
	var err error

	if out.SiteContext, err = storage.ParseSyncType(Config.Sync.SiteContext); err != nil {
		return out, err
	} else if out.Cart, err = storage.ParseSyncType(Config.Sync.Cart); err != nil {
		return out, err
	}
	out.Checkout, err = storage.ParseSyncType(Config.Sync.Checkout)
	return out, err
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	parser.LongDescription = `storefront serves a storefront and inspects its storage.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure storefront with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/storefront/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the current configuration.
	`

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.Must(commands.AddCommands("", parser.Command), "could not add sub-commands")
	mbp.MustParseConfig(parser, iniFilename)
}
