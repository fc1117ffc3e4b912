package tables

import (
	"errors"
	"fmt"
)

// Set is the full table complement of one project directory. File names are
// stable and independent of open order.
type Set struct {
	Symbols      *Table // Location -> SymbolInfo
	SymbolNames  *Table // string -> LocationSet
	Usr          *Table // string -> map[Location]Kind
	Dependencies *Table // FileID -> FileIDSet of including TUs
	Sources      *Table // (FileID, buildRootID) -> Source
	References   *Table // Location -> LocationSet
	Targets      *Table // Location -> map[Location]Kind
	General      *Table // small opaque blobs, e.g. "visitedFiles"
}

// OpenSet opens every project table in dir. Failure to open any table
// closes the ones already opened and returns the error.
func OpenSet(dir string) (*Set, error) {
	s := &Set{}
	for _, entry := range []struct {
		name  string
		table **Table
	}{
		{"symbols", &s.Symbols},
		{"symbolnames", &s.SymbolNames},
		{"usr", &s.Usr},
		{"dependencies", &s.Dependencies},
		{"sources", &s.Sources},
		{"references", &s.References},
		{"targets", &s.Targets},
		{"db", &s.General},
	} {
		t, err := Open(dir, entry.name)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open project tables: %w", err)
		}
		*entry.table = t
	}
	return s, nil
}

// SymbolFamily returns the tables keyed or valued by symbol locations, the
// ones purged when a file goes dirty.
func (s *Set) SymbolFamily() []*Table {
	return []*Table{s.Symbols, s.References, s.Targets, s.SymbolNames, s.Usr}
}

// Close closes every open table, returning the first error encountered.
func (s *Set) Close() error {
	var errs []error
	for _, t := range []*Table{
		s.Symbols, s.SymbolNames, s.Usr, s.Dependencies,
		s.Sources, s.References, s.Targets, s.General,
	} {
		if t != nil {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
