package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.storefront.dev/core/async"
)

// EtcdBackend is a durable Backend of keys under an Etcd prefix.
type EtcdBackend struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

var _ Backend = &EtcdBackend{} // EtcdBackend is-a Backend.
var _ Lister = &EtcdBackend{}  // EtcdBackend is-a Lister.
var _ Watcher = &EtcdBackend{} // EtcdBackend is-a Watcher.

// NewEtcdBackend returns an EtcdBackend of keys under |prefix|, which must be
// a "Clean" path as defined by path.Clean. Each operation is bounded by |timeout|.
func NewEtcdBackend(client *clientv3.Client, prefix string, timeout time.Duration) (*EtcdBackend, error) {
	if c := path.Clean(prefix); c != prefix {
		return nil, errors.Errorf("expected prefix to be a cleaned path (%s != %s)", c, prefix)
	}
	return &EtcdBackend{client: client, prefix: prefix + "/", timeout: timeout}, nil
}

// GetItem implements Backend.
func (b *EtcdBackend) GetItem(key string) (string, bool, error) {
	var ctx, cancel = b.context()
	defer cancel()

	var resp, err = b.client.Get(ctx, b.prefix+key)
	if err != nil {
		return "", false, errors.WithMessage(err, "etcd get")
	} else if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// SetItem implements Backend.
func (b *EtcdBackend) SetItem(key, value string) error {
	var ctx, cancel = b.context()
	defer cancel()

	if _, err := b.client.Put(ctx, b.prefix+key, value); err != nil {
		return errors.WithMessage(err, "etcd put")
	}
	return nil
}

// RemoveItem implements Backend.
func (b *EtcdBackend) RemoveItem(key string) error {
	var ctx, cancel = b.context()
	defer cancel()

	if _, err := b.client.Delete(ctx, b.prefix+key); err != nil {
		return errors.WithMessage(err, "etcd delete")
	}
	return nil
}

// Keys implements Lister.
func (b *EtcdBackend) Keys(prefix string) ([]string, error) {
	var ctx, cancel = b.context()
	defer cancel()

	var resp, err = b.client.Get(ctx, b.prefix+prefix,
		clientv3.WithPrefix(), clientv3.WithKeysOnly(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.WithMessage(err, "etcd get")
	}

	var out = make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, strings.TrimPrefix(string(kv.Key), b.prefix))
	}
	return out, nil
}

// Events returns an Observable of changes to keys of the EtcdBackend, made
// by this or any other process.
func (b *EtcdBackend) Events() async.Observable[Event] {
	return func(ctx context.Context) <-chan Event {
		var out = make(chan Event)

		go func() {
			defer close(out)

			for resp := range b.client.Watch(ctx, b.prefix, clientv3.WithPrefix()) {
				for _, ev := range resp.Events {
					select {
					case out <- Event{Key: strings.TrimPrefix(string(ev.Kv.Key), b.prefix)}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

func (b *EtcdBackend) context() (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), b.timeout)
}
