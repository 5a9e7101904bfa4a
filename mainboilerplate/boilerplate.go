// Package mainboilerplate contains shared boilerplate of storefront programs:
// configuration parsing, logging, diagnostics, and construction of storage
// from configuration. Methods are narrowly scoped, so callers don't have to
// buy in to an all-or-nothing approach.
package mainboilerplate

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/metrics"
)

// Version and BuildDate of the program, set at link time with
// -ldflags "-X go.storefront.dev/core/mainboilerplate.Version=..."
var (
	Version   = "development"
	BuildDate = "unknown"
)

// DiagnosticsConfig configures pull-based application metrics and diagnostics.
type DiagnosticsConfig struct {
	MetricsPath string `long:"metrics-path" env:"METRICS_PATH" default:"/debug/metrics" description:"Path at which prometheus metrics are served. Empty disables metrics"`
}

// InitDiagnosticsAndRecover registers storefront collectors and serves
// diagnostics on |mux|: a readiness check at /debug/ready, and prometheus
// metrics at the configured path. It returns a closure which should be
// deferred, which attempts to record the termination message of a panic.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig, mux *http.ServeMux) func() {
	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if cfg.MetricsPath != "" {
		var reg = prometheus.NewRegistry()
		reg.MustRegister(metrics.StorefrontCollectors()...)
		reg.MustRegister(collectors.NewGoCollector())
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return func() {
		if r := recover(); r != nil {
			// Make a best effort attempt to write a termination message.
			if f, err := os.OpenFile(terminationLog, os.O_WRONLY, 0777); err == nil {
				fmt.Fprintf(f, "%+v", r)
				f.Close()
			}
			panic(r)
		}
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// terminationLog is where a container runtime may retrieve the message of a
// terminated process.
const terminationLog = "/dev/termination-log"
