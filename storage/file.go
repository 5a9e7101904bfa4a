package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/codecs"
)

// FileBackend is a durable Backend which materializes each key as a file of
// a directory. Values are written to a temporary file which is then renamed
// into place, so a reader always observes a complete value.
type FileBackend struct {
	fs    afero.Fs
	dir   string
	codec codecs.Codec
	mu    sync.Mutex // Serializes writes.
}

var _ Backend = &FileBackend{} // FileBackend is-a Backend.
var _ Lister = &FileBackend{}  // FileBackend is-a Lister.
var _ Watcher = &FileBackend{} // FileBackend is-a Watcher.

// NewFileBackend returns a FileBackend rooted at |dir| of |fs|, which is
// created if it doesn't exist. Values are compressed at rest with |codec|.
func NewFileBackend(fs afero.Fs, dir string, codec codecs.Codec) (*FileBackend, error) {
	if err := codec.Validate(); err != nil {
		return nil, err
	} else if err = fs.MkdirAll(dir, 0700); err != nil {
		return nil, errors.WithMessage(err, "creating storage directory")
	}
	return &FileBackend{fs: fs, dir: dir, codec: codec}, nil
}

// Dir is the root directory of the FileBackend.
func (b *FileBackend) Dir() string { return b.dir }

// GetItem implements Backend.
func (b *FileBackend) GetItem(key string) (string, bool, error) {
	var content, err = afero.ReadFile(b.fs, b.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.WithMessage(err, "reading item")
	}
	if content, err = codecs.Decode(b.codec, content); err != nil {
		return "", false, errors.WithMessagef(err, "decoding item (%s)", b.codec)
	}
	return string(content), true, nil
}

// SetItem implements Backend.
func (b *FileBackend) SetItem(key, value string) error {
	var content, err = codecs.Encode(b.codec, []byte(value))
	if err != nil {
		return errors.WithMessagef(err, "encoding item (%s)", b.codec)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var next = filepath.Join(b.dir, nextPrefix+url.PathEscape(key))

	if err = afero.WriteFile(b.fs, next, content, 0600); err != nil {
		return errors.WithMessage(err, "writing item")
	} else if err = b.fs.Rename(next, b.path(key)); err != nil {
		return errors.WithMessage(err, "renaming next => current")
	}
	return nil
}

// RemoveItem implements Backend.
func (b *FileBackend) RemoveItem(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "removing item")
	}
	return nil
}

// Keys implements Lister.
func (b *FileBackend) Keys(prefix string) ([]string, error) {
	var infos, err = afero.ReadDir(b.fs, b.dir)
	if err != nil {
		return nil, errors.WithMessage(err, "reading storage directory")
	}

	var out []string
	for _, info := range infos {
		if key, ok := b.keyOf(info.Name()); ok && strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Events returns an Observable of changes to the FileBackend directory, made
// by this or any other process. Events rely on OS file notifications, and
// are only delivered for FileBackends of an afero.OsFs.
func (b *FileBackend) Events() async.Observable[Event] {
	return func(ctx context.Context) <-chan Event {
		var out = make(chan Event)
		go b.watch(ctx, out)
		return out
	}
}

func (b *FileBackend) watch(ctx context.Context, out chan<- Event) {
	defer close(out)

	var watcher, err = fsnotify.NewWatcher()
	if err != nil {
		log.WithField("err", err).Warn("failed to build storage watcher (no storage events)")
		return
	}
	defer watcher.Close()

	if err = watcher.Add(b.dir); err != nil {
		log.WithFields(log.Fields{"err": err, "dir": b.dir}).
			Warn("failed to watch storage directory (no storage events)")
		return
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			} else if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			var key, isItem = b.keyOf(filepath.Base(ev.Name))
			if !isItem {
				continue
			}
			select {
			case out <- Event{Key: key}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithField("err", err).Warn("storage watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key)+b.suffix())
}

func (b *FileBackend) suffix() string { return ".json" + b.codec.Extension() }

// keyOf maps a file |name| of the directory to its item key.
func (b *FileBackend) keyOf(name string) (string, bool) {
	if strings.HasPrefix(name, nextPrefix) || !strings.HasSuffix(name, b.suffix()) {
		return "", false
	}
	var key, err = url.PathUnescape(strings.TrimSuffix(name, b.suffix()))
	return key, err == nil
}

// nextPrefix can never begin an escaped key, as PathEscape escapes "#".
const nextPrefix = "#next#"
