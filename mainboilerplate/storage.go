package mainboilerplate

import (
	"database/sql"
	"path"
	"time"

	_ "github.com/lib/pq"           // Import for the "postgres" driver.
	_ "github.com/mattn/go-sqlite3" // Import for the "sqlite3" driver.
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.storefront.dev/core/codecs"
	"go.storefront.dev/core/storage"
)

// StorageConfig configures the storage Backends of the process.
type StorageConfig struct {
	Disabled bool   `long:"disabled" env:"DISABLED" description:"Run without storage, as when rendering server-side"`
	Kind     string `long:"kind" env:"KIND" default:"file" choice:"memory" choice:"file" choice:"sqlite" choice:"postgres" choice:"etcd" description:"Kind of durable (local) storage"`

	Dir   string       `long:"dir" env:"DIR" default:"storefront-data" description:"Directory of file storage"`
	Codec codecs.Codec `long:"codec" env:"CODEC" default:"none" choice:"none" choice:"gzip" choice:"snappy" description:"Compression of file storage"`

	DSN   string `long:"dsn" env:"DSN" default:"storefront.db" description:"Data source name of sqlite or postgres storage"`
	Table string `long:"table" env:"TABLE" default:"storefront_storage" description:"Table of sqlite or postgres storage"`

	Prefix string `long:"prefix" env:"PREFIX" default:"/storefront/storage" description:"Etcd key prefix of etcd storage"`

	Timeout   time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"Timeout of each storage operation"`
	CacheSize int           `long:"cache-size" env:"CACHE_SIZE" default:"0" description:"Size of the read cache of durable storage. If <= zero, no cache is used"`
}

// MustOpen returns a storage.Environment of the config. Its Local Backend is
// durable, and its Session Backend is held in memory. |etcd| is dialed only
// if etcd storage is configured. A nil Environment is returned if storage is
// Disabled.
func (c *StorageConfig) MustOpen(etcd *EtcdConfig) *storage.Environment {
	if c.Disabled {
		log.Info("storage is disabled")
		return nil
	}
	var local = c.mustOpenLocal(etcd)

	if c.CacheSize > 0 {
		var cached, err = storage.NewCachedBackend(local, c.CacheSize)
		Must(err, "failed to build storage cache")
		local = cached
	}
	return &storage.Environment{
		Local:   local,
		Session: storage.NewMemoryBackend(),
	}
}

func (c *StorageConfig) mustOpenLocal(etcd *EtcdConfig) storage.Backend {
	var fields = log.Fields{"kind": c.Kind}
	defer func() { log.WithFields(fields).Info("opened storage") }()

	switch c.Kind {
	case "memory":
		return storage.NewMemoryBackend()

	case "file":
		fields["dir"], fields["codec"] = c.Dir, c.Codec
		var b, err = storage.NewFileBackend(afero.NewOsFs(), c.Dir, c.Codec)
		Must(err, "failed to open file storage", "dir", c.Dir)
		return b

	case "sqlite", "postgres":
		var driver = "postgres"
		if c.Kind == "sqlite" {
			driver = "sqlite3"
		}
		fields["table"] = c.Table

		var db, err = sql.Open(driver, c.DSN)
		Must(err, "failed to open database", "driver", driver)
		b, err := storage.NewSQLBackend(db, driver, c.Table, c.Timeout)
		Must(err, "failed to open SQL storage", "driver", driver)
		return b

	case "etcd":
		fields["prefix"] = c.Prefix
		var b, err = storage.NewEtcdBackend(etcd.MustDial(), path.Clean(c.Prefix), c.Timeout)
		Must(err, "failed to open etcd storage")
		return b

	default:
		panic("unexpected storage kind " + c.Kind)
	}
}
