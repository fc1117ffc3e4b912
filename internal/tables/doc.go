// Package tables provides the ordered key-value tables backing a project's
// persistent symbol graph.
//
// Each table is a single-bucket bolt database in the project's data
// directory. Keys are raw bytes compared bytewise; callers encode composite
// keys big-endian so that byte order matches field order.
//
// Reads run against a snapshot: a reader opened before a write scope flushes
// never observes that scope's writes. Iterators support lower-bound seeks
// and bidirectional stepping; iterators opened inside a write scope can
// erase and rewrite the current row.
package tables
