package mainboilerplate

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.storefront.dev/core/storage"
)

type noopCmd struct{}

func (noopCmd) Execute([]string) error { return nil }

func TestCommandRegistryBuildsTree(t *testing.T) {
	var cr = NewCommandRegistry()
	// Registration order is independent of the tree's shape.
	cr.AddCommand("storage", "list", "List keys", "", &noopCmd{})
	cr.AddCommand("", "storage", "Inspect storage", "", &struct{}{})
	cr.AddCommand("", "serve", "Serve", "", &noopCmd{})

	var parser = flags.NewParser(nil, flags.None)
	require.NoError(t, cr.AddCommands("", parser.Command))

	var storageCmd = parser.Find("storage")
	require.NotNil(t, storageCmd)
	assert.NotNil(t, storageCmd.Find("list"))
	assert.NotNil(t, parser.Find("serve"))
}

func TestStorageConfigOpensBackends(t *testing.T) {
	var dir = t.TempDir()

	for _, cfg := range []StorageConfig{
		{Kind: "memory"},
		{Kind: "file", Dir: filepath.Join(dir, "files"), Codec: "snappy"},
		{Kind: "sqlite", DSN: filepath.Join(dir, "storage.db"), Table: "items"},
		{Kind: "file", Dir: filepath.Join(dir, "cached"), Codec: "none", CacheSize: 8},
	} {
		var env = cfg.MustOpen(nil)
		require.NotNil(t, env)

		var local = env.Backend(storage.LocalStorage)
		require.NoError(t, local.SetItem("k", "v"), cfg.Kind)
		var v, ok, err = local.GetItem("k")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)

		assert.IsType(t, &storage.MemoryBackend{}, env.Backend(storage.SessionStorage))
	}
	assert.Nil(t, (&StorageConfig{Disabled: true}).MustOpen(nil))
}

func TestDiagnostics(t *testing.T) {
	var mux = http.NewServeMux()
	var recoverFn = InitDiagnosticsAndRecover(DiagnosticsConfig{MetricsPath: "/debug/metrics"}, mux)
	defer recoverFn()

	var srv = httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/debug/ready", "/debug/metrics"} {
		var resp, err = http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
	assert.Panics(t, func() { Must(assert.AnError, "whoops", "key", "value") })
	assert.NotPanics(t, func() { Must(nil, "fine") })
}

func TestServiceConfig(t *testing.T) {
	assert.Equal(t, "fixed", ServiceConfig{ID: "fixed"}.ProcessID())
	assert.NotEmpty(t, ServiceConfig{}.ProcessID())
	assert.Equal(t, ":9000", ServiceConfig{Port: "9000"}.ListenAddr())
	assert.Equal(t, "host", ServiceConfig{Host: "host"}.AdvertisedHost())
}

func TestInitLog(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	InitLog(LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	InitLog(LogConfig{Level: "warn", Format: "text"})
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
}
