// Package registry maintains the process-wide bijection between absolute
// filesystem paths and 32-bit file ids.
//
// Ids are allocated by sqlite and never reused; id 0 is reserved for "no
// file". Lookups in both directions are cached in LRUs so indexer workers
// can resolve ids concurrently without touching the database on the hot
// path.
package registry
