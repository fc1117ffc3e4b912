package types

// JobFlags records how an indexer job was created and how it terminated.
type JobFlags uint32

const (
	// JobDirty marks a job created by dirty propagation rather than a
	// compile submission.
	JobDirty JobFlags = 1 << iota
	// JobCompile marks a job created from a compile invocation; only these
	// go through the argument and sibling checks before their Sources row
	// is written on admission.
	JobCompile
	// JobComplete is set when the indexer delivered a full result.
	JobComplete
	// JobCrashed is set when the indexer died before completing.
	JobCrashed
	// JobAborted is set when the job was cancelled by the core.
	JobAborted
)

// Has reports whether every bit in mask is set.
func (f JobFlags) Has(mask JobFlags) bool { return f&mask == mask }

// IndexData is the delta produced by indexing one translation unit. A
// completed IndexData is immutable until it is merged into the persistent
// tables and discarded.
type IndexData struct {
	// Key is the Source key of the translation unit.
	Key uint64 `json:"key"`

	// ParseTime is the unix-millisecond timestamp the front-end started
	// parsing; it becomes the Source's Parsed stamp on completion.
	ParseTime int64 `json:"parseTime"`

	Flags JobFlags `json:"flags,omitempty"`

	Symbols     map[Location]*SymbolInfo `json:"symbols,omitempty"`
	SymbolNames map[string]LocationSet   `json:"symbolNames,omitempty"`
	Targets     map[Location]map[Location]Kind `json:"targets,omitempty"`
	References  map[Location]LocationSet       `json:"references,omitempty"`

	// Usrs maps a universal symbol reference to the declaration locations
	// (with kinds) this TU saw for it.
	Usrs map[string]map[Location]Kind `json:"usrs,omitempty"`

	// PendingReferences maps a USR to references that could not be resolved
	// inside this TU; they resolve against the Usr table at sync time.
	PendingReferences map[string]map[Location]Kind `json:"pendingReferences,omitempty"`

	// Dependencies maps each transitively included header to the set of
	// translation units (by file id) that include it; every value set
	// contains this TU's file id.
	Dependencies map[FileID]FileIDSet `json:"dependencies,omitempty"`

	// Visited marks the files this TU's job owned while indexing.
	Visited map[FileID]bool `json:"visited,omitempty"`

	FixIts      map[FileID][]FixIt `json:"fixIts,omitempty"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty"`

	// Message is the human-readable one-line status for this TU.
	Message string `json:"message,omitempty"`
}

// FileID returns the translation unit's file id, recovered from Key.
func (d *IndexData) FileID() FileID {
	f, _ := DecodeSourceKey(d.Key)
	return f
}

// VisitedFileIDs returns the set of files this TU's job owned.
func (d *IndexData) VisitedFileIDs() FileIDSet {
	out := make(FileIDSet, len(d.Visited))
	for id, owned := range d.Visited {
		if owned {
			out[id] = struct{}{}
		}
	}
	return out
}
