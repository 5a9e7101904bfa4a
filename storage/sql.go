package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// SQLBackend is a durable Backend of a database table. It supports the
// "sqlite3" and "postgres" drivers, which must be imported by the program.
type SQLBackend struct {
	db      *sql.DB
	timeout time.Duration

	getStmt, setStmt, removeStmt, keysStmt string
}

var _ Backend = &SQLBackend{} // SQLBackend is-a Backend.
var _ Lister = &SQLBackend{}  // SQLBackend is-a Lister.

// NewSQLBackend returns an SQLBackend of |table| in |db|, which uses the
// named |driver|. The table is created if it doesn't exist. Each operation
// is bounded by |timeout|.
func NewSQLBackend(db *sql.DB, driver, table string, timeout time.Duration) (*SQLBackend, error) {
	var b = &SQLBackend{db: db, timeout: timeout}

	var p1, p2 string
	switch driver {
	case "sqlite3":
		p1, p2 = "?1", "?2"
	case "postgres":
		p1, p2 = "$1", "$2"
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}
	// Both dialects share upsert syntax, differing only in placeholders.
	b.getStmt = fmt.Sprintf("SELECT item_value FROM %s WHERE item_key = %s", table, p1)
	b.setStmt = fmt.Sprintf("INSERT INTO %s (item_key, item_value) VALUES (%s, %s) "+
		"ON CONFLICT (item_key) DO UPDATE SET item_value = excluded.item_value", table, p1, p2)
	b.removeStmt = fmt.Sprintf("DELETE FROM %s WHERE item_key = %s", table, p1)
	b.keysStmt = fmt.Sprintf("SELECT item_key FROM %s "+
		"WHERE substr(item_key, 1, length(CAST(%s AS TEXT))) = CAST(%s AS TEXT)", table, p1, p1)

	var ctx, cancel = b.context()
	defer cancel()

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			item_key   TEXT PRIMARY KEY NOT NULL,
			item_value TEXT NOT NULL
		)`, table)); err != nil {
		return nil, errors.WithMessage(err, "creating storage table")
	}
	return b, nil
}

// GetItem implements Backend.
func (b *SQLBackend) GetItem(key string) (string, bool, error) {
	var ctx, cancel = b.context()
	defer cancel()

	var value string
	var err = b.db.QueryRowContext(ctx, b.getStmt, key).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.WithMessage(err, "querying item")
	}
	return value, true, nil
}

// SetItem implements Backend.
func (b *SQLBackend) SetItem(key, value string) error {
	var ctx, cancel = b.context()
	defer cancel()

	if _, err := b.db.ExecContext(ctx, b.setStmt, key, value); err != nil {
		return errors.WithMessage(err, "upserting item")
	}
	return nil
}

// RemoveItem implements Backend.
func (b *SQLBackend) RemoveItem(key string) error {
	var ctx, cancel = b.context()
	defer cancel()

	if _, err := b.db.ExecContext(ctx, b.removeStmt, key); err != nil {
		return errors.WithMessage(err, "deleting item")
	}
	return nil
}

// Keys implements Lister.
func (b *SQLBackend) Keys(prefix string) ([]string, error) {
	var ctx, cancel = b.context()
	defer cancel()

	var rows, err = b.db.QueryContext(ctx, b.keysStmt, prefix)
	if err != nil {
		return nil, errors.WithMessage(err, "querying keys")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, errors.WithMessage(err, "scanning key")
		}
		out = append(out, key)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "iterating keys")
	}
	sort.Strings(out)
	return out, nil
}

func (b *SQLBackend) context() (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), b.timeout)
}
