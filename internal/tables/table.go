package tables

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a requested key doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrScopeDone is returned when a write scope is used after flush or
	// discard.
	ErrScopeDone = errors.New("write scope already finished")
	// ErrReadOnly is returned when mutating through a read-only iterator.
	ErrReadOnly = errors.New("iterator is read-only")
)

// Table is one ordered key-value table stored as a single-bucket bolt file.
type Table struct {
	name string
	db   *bolt.DB
}

var dataBucket = []byte("data")

// Open opens (creating if necessary) the named table in dir.
func Open(dir, name string) (*Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create table directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, name), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", name, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize table %s: %w", name, err)
	}
	return &Table{name: name, db: db}, nil
}

// Name returns the table's file name.
func (t *Table) Name() string { return t.name }

// Close releases the underlying database.
func (t *Table) Close() error {
	return t.db.Close()
}

// Value returns a copy of the value stored at key, or ErrNotFound.
func (t *Table) Value(key []byte) ([]byte, error) {
	var out []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Contains reports whether key exists.
func (t *Table) Contains(key []byte) (bool, error) {
	_, err := t.Value(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set writes a single key outside any scope.
func (t *Table) Set(key, value []byte) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
}

// Size returns the number of keys in the table.
func (t *Table) Size() (int, error) {
	var n int
	err := t.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(dataBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// IsEmpty reports whether the table has no keys.
func (t *Table) IsEmpty() (bool, error) {
	n, err := t.Size()
	return n == 0, err
}

// Iterator returns a read-only iterator positioned at the first key. The
// iterator pins a snapshot; close it promptly.
func (t *Table) Iterator() (*Iterator, error) {
	return t.newReadIterator(nil)
}

// LowerBound returns a read-only iterator positioned at the first key >=
// the given key.
func (t *Table) LowerBound(key []byte) (*Iterator, error) {
	return t.newReadIterator(key)
}

func (t *Table) newReadIterator(seek []byte) (*Iterator, error) {
	tx, err := t.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read on %s: %w", t.name, err)
	}
	it := &Iterator{
		tx:     tx,
		bucket: tx.Bucket(dataBucket),
		ownsTx: true,
	}
	it.cursor = it.bucket.Cursor()
	if seek == nil {
		it.key, it.value = it.cursor.First()
	} else {
		it.key, it.value = it.cursor.Seek(seek)
	}
	return it, nil
}

// WriteScope begins a batch of writes on the table. All writes in the scope
// become visible to readers atomically at Flush; Discard drops them.
type WriteScope struct {
	table  *Table
	tx     *bolt.Tx
	bucket *bolt.Bucket
	done   bool
}

// WriteScope begins a write scope. Only one write scope per table can be
// open at a time; a second caller blocks until the first finishes.
func (t *Table) WriteScope() (*WriteScope, error) {
	tx, err := t.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("failed to begin write on %s: %w", t.name, err)
	}
	return &WriteScope{table: t, tx: tx, bucket: tx.Bucket(dataBucket)}, nil
}

// Set stages a write.
func (w *WriteScope) Set(key, value []byte) error {
	if w.done {
		return ErrScopeDone
	}
	return w.bucket.Put(key, value)
}

// Delete stages a removal.
func (w *WriteScope) Delete(key []byte) error {
	if w.done {
		return ErrScopeDone
	}
	return w.bucket.Delete(key)
}

// Value reads through the scope, observing staged writes.
func (w *WriteScope) Value(key []byte) ([]byte, error) {
	if w.done {
		return nil, ErrScopeDone
	}
	v := w.bucket.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Iterator returns an iterator over the scope positioned at the first key.
// Rows it visits include staged writes; Erase and SetValue are permitted.
func (w *WriteScope) Iterator() (*Iterator, error) {
	return w.newIterator(nil)
}

// LowerBound returns a scope iterator positioned at the first key >= the
// given key.
func (w *WriteScope) LowerBound(key []byte) (*Iterator, error) {
	return w.newIterator(key)
}

func (w *WriteScope) newIterator(seek []byte) (*Iterator, error) {
	if w.done {
		return nil, ErrScopeDone
	}
	it := &Iterator{
		tx:       w.tx,
		bucket:   w.bucket,
		writable: true,
	}
	it.cursor = it.bucket.Cursor()
	if seek == nil {
		it.key, it.value = it.cursor.First()
	} else {
		it.key, it.value = it.cursor.Seek(seek)
	}
	return it, nil
}

// Flush commits the batch. The scope is unusable afterwards.
func (w *WriteScope) Flush() error {
	if w.done {
		return ErrScopeDone
	}
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", w.table.name, err)
	}
	return nil
}

// Discard rolls back the batch unless it was already flushed. Safe to defer
// after a successful Flush.
func (w *WriteScope) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.tx.Rollback()
}
