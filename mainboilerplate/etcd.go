package mainboilerplate

import (
	"context"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures the application Etcd session.
type EtcdConfig struct {
	Address     string        `long:"address" env:"ADDRESS" default:"http://localhost:2379" description:"Etcd service address endpoint"`
	DialTimeout time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" default:"5s" description:"Timeout of dialing Etcd"`
}

// MustDial builds an Etcd client connection.
func (c *EtcdConfig) MustDial() *clientv3.Client {
	var addr, err = url.Parse(c.Address)
	Must(err, "failed to parse Etcd address", "address", c.Address)

	if addr.Scheme == "unix" {
		// The Etcd client requires hostname is stripped from unix:// URLs.
		addr.Host = ""
	}

	var timer = time.AfterFunc(time.Second, func() {
		log.WithField("addr", addr.String()).Warn("dialing Etcd is taking a while (is network okay?)")
	})
	defer timer.Stop()

	etcd, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{addr.String()},
		DialTimeout: c.DialTimeout,
		// Automatically and periodically sync the set of Etcd servers.
		AutoSyncInterval: time.Minute,
		// Require a reasonably recent server cluster.
		RejectOldCluster: true,
	})
	Must(err, "failed to build Etcd client")

	var ctx, cancel = context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()

	Must(etcd.Sync(ctx), "initial Etcd endpoint sync failed")
	return etcd
}
