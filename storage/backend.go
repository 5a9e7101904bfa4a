// Package storage adapts key/value stores for persistence of application
// state. A Backend is session-scoped (MemoryBackend) or durable (FileBackend,
// SQLBackend, EtcdBackend), and may be decorated with a read-through cache
// (CachedBackend).
//
// The absence of a Backend is a valid and expected configuration: when
// rendering server-side there is no client storage, and callers are handed a
// nil Backend rather than an error.
package storage

import (
	"fmt"
	"strings"

	"go.storefront.dev/core/async"
)

// Backend is a key/value store of strings. Implementations must be safe for
// concurrent use.
type Backend interface {
	// GetItem returns the value of |key| and true, or false if |key| is absent.
	GetItem(key string) (string, bool, error)
	// SetItem sets the value of |key|.
	SetItem(key, value string) error
	// RemoveItem removes |key|. Removing an absent key is not an error.
	RemoveItem(key string) error
}

// Lister is an optional interface of Backends which can enumerate keys.
type Lister interface {
	// Keys returns all present keys having |prefix|, in sorted order.
	Keys(prefix string) ([]string, error)
}

// Watcher is an optional interface of Backends which observe changes,
// including those of other processes sharing the store.
type Watcher interface {
	Events() async.Observable[Event]
}

// Event notifies of a change to a key, made by a writer which may be another
// process. Events are best-effort: they may be dropped or coalesced.
type Event struct {
	Key string
}

// SyncType selects the Backend used to persist a slice of state.
type SyncType int

const (
	// NoStorage disables persistence.
	NoStorage SyncType = iota
	// LocalStorage persists durably, across sessions.
	LocalStorage
	// SessionStorage persists for the lifetime of the session.
	SessionStorage
)

func (t SyncType) String() string {
	switch t {
	case NoStorage:
		return "none"
	case LocalStorage:
		return "local"
	case SessionStorage:
		return "session"
	default:
		return fmt.Sprintf("SyncType(%d)", int(t))
	}
}

// ParseSyncType parses the String form of a SyncType.
func ParseSyncType(s string) (SyncType, error) {
	switch s {
	case "none", "":
		return NoStorage, nil
	case "local":
		return LocalStorage, nil
	case "session":
		return SessionStorage, nil
	default:
		return NoStorage, fmt.Errorf("unknown storage sync type %q", s)
	}
}

// Environment holds the Backends available to the process. A nil
// *Environment, or one having nil Backends, describes an environment
// without client storage (eg, server-side rendering).
type Environment struct {
	Local   Backend
	Session Backend
}

// Backend returns the Backend of SyncType |t|, or nil if the SyncType is
// NoStorage or its Backend isn't available.
func (e *Environment) Backend(t SyncType) Backend {
	if e == nil {
		return nil
	}
	switch t {
	case LocalStorage:
		return e.Local
	case SessionStorage:
		return e.Session
	default:
		return nil
	}
}

// KeyWithContext composes the storage key of base key |key| under context
// |tuple|. Components are joined with "_", and each component escapes "%"
// and "_", so that distinct (|key|, |tuple|) pairs never yield the same key.
func KeyWithContext(key string, tuple []string) string {
	var b strings.Builder
	b.WriteString(keyEscaper.Replace(key))

	for _, c := range tuple {
		b.WriteByte('_')
		b.WriteString(keyEscaper.Replace(c))
	}
	return b.String()
}

var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F")
