package tables

import (
	bolt "go.etcd.io/bbolt"
)

// Iterator walks a table in key order. Read-only iterators own a snapshot
// transaction released by Close; scope iterators borrow their scope's
// transaction and additionally support Erase and SetValue.
type Iterator struct {
	tx       *bolt.Tx
	bucket   *bolt.Bucket
	cursor   *bolt.Cursor
	key      []byte
	value    []byte
	writable bool
	ownsTx   bool
}

// Valid reports whether the iterator is positioned on a row.
func (it *Iterator) Valid() bool { return it.key != nil }

// Key returns a copy of the current key.
func (it *Iterator) Key() []byte {
	if it.key == nil {
		return nil
	}
	return append([]byte(nil), it.key...)
}

// Value returns a copy of the current value.
func (it *Iterator) Value() []byte {
	if it.value == nil {
		return nil
	}
	return append([]byte(nil), it.value...)
}

// Next advances to the following key.
func (it *Iterator) Next() {
	if it.key == nil {
		return
	}
	it.key, it.value = it.cursor.Next()
}

// Prev steps back to the preceding key. Stepping back from past-the-end
// lands on the last key.
func (it *Iterator) Prev() {
	if it.key == nil {
		it.key, it.value = it.cursor.Last()
		return
	}
	it.key, it.value = it.cursor.Prev()
}

// Erase removes the current row and advances to the next one. Only valid on
// scope iterators.
func (it *Iterator) Erase() error {
	if !it.writable {
		return ErrReadOnly
	}
	if it.key == nil {
		return ErrNotFound
	}
	if err := it.cursor.Delete(); err != nil {
		return err
	}
	it.key, it.value = it.cursor.Next()
	return nil
}

// SetValue rewrites the current row's value in place. Only valid on scope
// iterators.
func (it *Iterator) SetValue(value []byte) error {
	if !it.writable {
		return ErrReadOnly
	}
	if it.key == nil {
		return ErrNotFound
	}
	key := append([]byte(nil), it.key...)
	if err := it.bucket.Put(key, value); err != nil {
		return err
	}
	// Put invalidates cursors; reposition on the same key.
	it.key, it.value = it.cursor.Seek(key)
	return nil
}

// Close releases the iterator's snapshot. Required for read-only iterators;
// a no-op for scope iterators, whose transaction belongs to the scope.
func (it *Iterator) Close() error {
	it.key, it.value = nil, nil
	if it.ownsTx {
		it.ownsTx = false
		return it.tx.Rollback()
	}
	return nil
}
