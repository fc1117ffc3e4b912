package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// FileID identifies a filesystem path. The mapping to and from absolute
// paths lives in the registry. 0 is reserved and means "no file".
type FileID uint32

// IsNull reports whether the id is the reserved "no file" value.
func (f FileID) IsNull() bool { return f == 0 }

// Location is a position in a file. Locations order lexicographically by
// (FileID, Line, Column), so all locations in one file are contiguous when
// used as table keys.
type Location struct {
	FileID FileID
	Line   uint32
	Column uint32
}

// NullLocation is the zero Location; its FileID is 0.
var NullLocation Location

// NewLocation builds a Location from its three fields.
func NewLocation(fileID FileID, line, column uint32) Location {
	return Location{FileID: fileID, Line: line, Column: column}
}

// IsNull reports whether the location refers to no file.
func (l Location) IsNull() bool { return l.FileID.IsNull() }

// Compare returns -1, 0 or 1 ordering locations by file, then line, then
// column.
func (l Location) Compare(other Location) int {
	switch {
	case l.FileID != other.FileID:
		if l.FileID < other.FileID {
			return -1
		}
		return 1
	case l.Line != other.Line:
		if l.Line < other.Line {
			return -1
		}
		return 1
	case l.Column != other.Column:
		if l.Column < other.Column {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether l orders before other.
func (l Location) Less(other Location) bool { return l.Compare(other) < 0 }

// String formats the location as fileID:line:column.
func (l Location) String() string {
	return fmt.Sprintf("%d:%d:%d", l.FileID, l.Line, l.Column)
}

// locationKeySize is the width of an encoded Location key.
const locationKeySize = 12

// Key encodes the location as a 12-byte big-endian key. Bytewise comparison
// of encoded keys matches Compare.
func (l Location) Key() []byte {
	key := make([]byte, locationKeySize)
	binary.BigEndian.PutUint32(key[0:4], uint32(l.FileID))
	binary.BigEndian.PutUint32(key[4:8], l.Line)
	binary.BigEndian.PutUint32(key[8:12], l.Column)
	return key
}

// DecodeLocationKey decodes a key produced by Key.
func DecodeLocationKey(key []byte) (Location, error) {
	if len(key) != locationKeySize {
		return NullLocation, fmt.Errorf("location key must be %d bytes, got %d", locationKeySize, len(key))
	}
	return Location{
		FileID: FileID(binary.BigEndian.Uint32(key[0:4])),
		Line:   binary.BigEndian.Uint32(key[4:8]),
		Column: binary.BigEndian.Uint32(key[8:12]),
	}, nil
}

// FileKeyPrefix returns the 4-byte key prefix shared by every location in
// the given file. Range scans bounded by this prefix visit exactly one
// file's rows.
func FileKeyPrefix(fileID FileID) []byte {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(fileID))
	return prefix
}

// EncodeFileID returns the 4-byte big-endian form of a file id for use as
// a table key.
func EncodeFileID(fileID FileID) []byte {
	return FileKeyPrefix(fileID)
}

// DecodeFileID decodes a key produced by EncodeFileID.
func DecodeFileID(key []byte) (FileID, error) {
	if len(key) != 4 {
		return 0, fmt.Errorf("file id key must be 4 bytes, got %d", len(key))
	}
	return FileID(binary.BigEndian.Uint32(key)), nil
}

// MarshalText implements encoding.TextMarshaler so Location can key JSON
// maps.
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Location) UnmarshalText(text []byte) error {
	var f, line, col uint32
	if _, err := fmt.Sscanf(string(text), "%d:%d:%d", &f, &line, &col); err != nil {
		return fmt.Errorf("malformed location %q: %w", text, err)
	}
	l.FileID = FileID(f)
	l.Line = line
	l.Column = col
	return nil
}

// LocationSet is a set of locations.
type LocationSet map[Location]struct{}

// NewLocationSet builds a set from the given locations.
func NewLocationSet(locs ...Location) LocationSet {
	s := make(LocationSet, len(locs))
	for _, l := range locs {
		s[l] = struct{}{}
	}
	return s
}

// Insert adds a location and reports whether it was not already present.
func (s LocationSet) Insert(l Location) bool {
	if _, ok := s[l]; ok {
		return false
	}
	s[l] = struct{}{}
	return true
}

// Contains reports membership.
func (s LocationSet) Contains(l Location) bool {
	_, ok := s[l]
	return ok
}

// Unite inserts every location from other and returns how many were new.
func (s LocationSet) Unite(other LocationSet) int {
	added := 0
	for l := range other {
		if s.Insert(l) {
			added++
		}
	}
	return added
}

// Clone returns a copy of the set.
func (s LocationSet) Clone() LocationSet {
	c := make(LocationSet, len(s))
	for l := range s {
		c[l] = struct{}{}
	}
	return c
}

// Sorted returns the locations in ascending order.
func (s LocationSet) Sorted() []Location {
	out := make([]Location, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// MarshalJSON emits the set as a sorted array so serialized sets are stable.
func (s LocationSet) MarshalJSON() ([]byte, error) {
	sorted := s.Sorted()
	buf := []byte{'['}
	for i, l := range sorted {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, l.String()...)
		buf = append(buf, '"')
	}
	return append(buf, ']'), nil
}

// UnmarshalJSON accepts the array form produced by MarshalJSON.
func (s *LocationSet) UnmarshalJSON(data []byte) error {
	var raw []Location
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(LocationSet, len(raw))
	for _, l := range raw {
		out[l] = struct{}{}
	}
	*s = out
	return nil
}

// FileIDSet is a set of file ids.
type FileIDSet map[FileID]struct{}

// NewFileIDSet builds a set from the given ids.
func NewFileIDSet(ids ...FileID) FileIDSet {
	s := make(FileIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Insert adds an id and reports whether it was not already present.
func (s FileIDSet) Insert(id FileID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Contains reports membership.
func (s FileIDSet) Contains(id FileID) bool {
	_, ok := s[id]
	return ok
}

// Remove deletes an id if present.
func (s FileIDSet) Remove(id FileID) { delete(s, id) }

// Unite inserts every id from other and returns how many were new.
func (s FileIDSet) Unite(other FileIDSet) int {
	added := 0
	for id := range other {
		if s.Insert(id) {
			added++
		}
	}
	return added
}

// Clone returns a copy of the set.
func (s FileIDSet) Clone() FileIDSet {
	c := make(FileIDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Sorted returns the ids in ascending order.
func (s FileIDSet) Sorted() []FileID {
	out := make([]FileID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON emits the set as a sorted array.
func (s FileIDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts the array form produced by MarshalJSON.
func (s *FileIDSet) UnmarshalJSON(data []byte) error {
	var raw []FileID
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FileIDSet, len(raw))
	for _, id := range raw {
		out[id] = struct{}{}
	}
	*s = out
	return nil
}
