package project

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/codegraph-mcp/internal/dirty"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Match selects paths for reindex/remove queries. An empty match selects
// everything; a regex pattern is used when it compiles, otherwise plain
// substring matching applies.
type Match struct {
	pattern string
	re      *regexp.Regexp
}

// NewMatch builds a matcher from a pattern.
func NewMatch(pattern string) Match {
	m := Match{pattern: pattern}
	if pattern != "" {
		if re, err := regexp.Compile(pattern); err == nil {
			m.re = re
		}
	}
	return m
}

// IsEmpty reports whether the match selects everything.
func (m Match) IsEmpty() bool { return m.pattern == "" }

// Matches reports whether the path is selected.
func (m Match) Matches(path string) bool {
	if m.pattern == "" {
		return true
	}
	if m.re != nil {
		return m.re.MatchString(path)
	}
	return strings.Contains(path, m.pattern)
}

// matchSymbolName reports whether needle selects the stored symbol name.
// Names of symbols nested inside a function signature (locals, parameters)
// restart matching after the ")::" sentinel so searching for the function
// doesn't hit its locals. Prefix matches must either consume the stored
// name or be followed by the argument list.
func matchSymbolName(needle, haystack string, maybeFunction bool) bool {
	start := 0
	if maybeFunction {
		if needle == haystack {
			return true
		}
		if idx := strings.Index(haystack, ")::"); idx != -1 {
			start = idx + 3
		}
	}
	rest := haystack[start:]
	if !strings.HasPrefix(rest, needle) {
		return false
	}
	tail := rest[len(needle):]
	if tail == "" {
		return true
	}
	if tail[0] != '(' {
		return false
	}
	// A name continuing past its argument list is a local nested in the
	// signature, not the entity itself.
	return !strings.Contains(tail, ")::")
}

// maybeFunction reports whether name matching for this kind must skip a
// possible enclosing signature.
func maybeFunction(kind types.Kind) bool {
	return kind.MaybeLocal()
}

// Locations resolves a symbol name to the locations carrying it. With a
// file id the search is confined to that file; an empty name yields every
// non-reference symbol location.
func (p *Project) Locations(symbolName string, fileID types.FileID) types.LocationSet {
	ret := make(types.LocationSet)
	if p.State() == Unloaded {
		return ret
	}

	switch {
	case !fileID.IsNull():
		for loc, info := range p.SymbolsForFile(fileID) {
			if info.Kind.IsReference() {
				continue
			}
			if symbolName == "" || matchSymbolName(symbolName, info.SymbolName, maybeFunction(info.Kind)) {
				ret.Insert(loc)
			}
		}
	case symbolName == "":
		it, err := p.tables.Symbols.Iterator()
		if err != nil {
			return ret
		}
		defer func() { _ = it.Close() }()
		for ; it.Valid(); it.Next() {
			info, derr := decodeSymbol(it.Value())
			if derr != nil || info.Kind.IsReference() {
				continue
			}
			if loc, derr := types.DecodeLocationKey(it.Key()); derr == nil {
				ret.Insert(loc)
			}
		}
	default:
		it, err := p.tables.SymbolNames.LowerBound([]byte(symbolName))
		if err != nil {
			return ret
		}
		defer func() { _ = it.Close() }()
		for ; it.Valid() && bytes.HasPrefix(it.Key(), []byte(symbolName)); it.Next() {
			if !matchSymbolName(symbolName, string(it.Key()), true) {
				continue
			}
			if locs, derr := decodeLocationSet(it.Value()); derr == nil {
				ret.Unite(locs)
			}
		}
	}
	return ret
}

// SymbolsForFile returns every symbol record in one file.
func (p *Project) SymbolsForFile(fileID types.FileID) map[types.Location]*types.SymbolInfo {
	ret := make(map[types.Location]*types.SymbolInfo)
	if fileID.IsNull() || p.State() == Unloaded {
		return ret
	}
	prefix := types.FileKeyPrefix(fileID)
	it, err := p.tables.Symbols.LowerBound(types.NewLocation(fileID, 0, 0).Key())
	if err != nil {
		return ret
	}
	defer func() { _ = it.Close() }()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		loc, derr := types.DecodeLocationKey(it.Key())
		if derr != nil {
			continue
		}
		info, derr := decodeSymbol(it.Value())
		if derr != nil {
			continue
		}
		ret[loc] = info
	}
	return ret
}

// CursorInfo returns the symbol record at or containing the location: an
// exact row, or the preceding row on the same line whose symbol length
// covers the column.
func (p *Project) CursorInfo(loc types.Location) (types.Location, *types.SymbolInfo, bool) {
	if p.State() == Unloaded {
		return types.NullLocation, nil, false
	}
	it, err := p.tables.Symbols.LowerBound(loc.Key())
	if err != nil {
		return types.NullLocation, nil, false
	}
	defer func() { _ = it.Close() }()

	if it.Valid() {
		found, derr := types.DecodeLocationKey(it.Key())
		if derr == nil && found == loc {
			if info, derr := decodeSymbol(it.Value()); derr == nil {
				return found, info, true
			}
		}
	}
	it.Prev()
	if !it.Valid() {
		return types.NullLocation, nil, false
	}
	found, derr := types.DecodeLocationKey(it.Key())
	if derr != nil || found.FileID != loc.FileID || found.Line != loc.Line {
		return types.NullLocation, nil, false
	}
	info, derr := decodeSymbol(it.Value())
	if derr != nil {
		return types.NullLocation, nil, false
	}
	if off := int(loc.Column) - int(found.Column); off >= 0 && int(info.SymbolLength) > off {
		return found, info, true
	}
	return types.NullLocation, nil, false
}

// symbolAt fetches the exact record at a location.
func (p *Project) symbolAt(loc types.Location) (*types.SymbolInfo, bool) {
	data, err := p.tables.Symbols.Value(loc.Key())
	if err != nil {
		return nil, false
	}
	info, derr := decodeSymbol(data)
	if derr != nil {
		return nil, false
	}
	return info, true
}

// bestTarget picks the preferred target of a symbol: definitions first,
// then the highest kind rank.
func (p *Project) bestTarget(info *types.SymbolInfo) (types.Location, *types.SymbolInfo, bool) {
	bestRank := -1
	var bestLoc types.Location
	var best *types.SymbolInfo
	for _, target := range info.Targets.Sorted() {
		tinfo, ok := p.symbolAt(target)
		if !ok {
			continue
		}
		rank := tinfo.Kind.TargetRank()
		if tinfo.IsDefinition() {
			rank += 100
		}
		if rank > bestRank {
			bestRank = rank
			bestLoc = target
			best = tinfo
		}
	}
	return bestLoc, best, best != nil
}

// FollowLocation resolves the location under the cursor to its best target:
// the definition when the cursor is on a use or declaration, the
// declaration when the cursor is already on the definition.
func (p *Project) FollowLocation(loc types.Location) (types.Location, bool) {
	_, info, ok := p.CursorInfo(loc)
	if !ok {
		return types.NullLocation, false
	}
	target, _, ok := p.bestTarget(info)
	return target, ok
}

// SortFlag adjusts Sort's output.
type SortFlag uint32

const (
	// SortNone is the default kind-rank-then-location order.
	SortNone SortFlag = 0
	// SortDeclarationOnly drops definitions whose best target is a live
	// declaration.
	SortDeclarationOnly SortFlag = 1 << iota
	// SortReverse reverses the order.
	SortReverse
)

// SortedCursor is one entry of a sorted location list.
type SortedCursor struct {
	Location     types.Location
	Kind         types.Kind
	IsDefinition bool
}

func (a SortedCursor) less(b SortedCursor) bool {
	ra, rb := a.Kind.TargetRank(), b.Kind.TargetRank()
	if ra != rb {
		return ra > rb
	}
	return a.Location.Less(b.Location)
}

// Sort produces ordered cursor records for a location set.
func (p *Project) Sort(locations types.LocationSet, flags SortFlag) []SortedCursor {
	sorted := make([]SortedCursor, 0, len(locations))
	for loc := range locations {
		node := SortedCursor{Location: loc}
		if info, ok := p.symbolAt(loc); ok {
			node.IsDefinition = info.IsDefinition()
			if flags&SortDeclarationOnly != 0 && node.IsDefinition {
				if _, decl, ok := p.bestTarget(info); ok && !decl.IsEmpty() {
					continue
				}
			}
			node.Kind = info.Kind
		}
		sorted = append(sorted, node)
	}
	if flags&SortReverse != 0 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[j].less(sorted[i]) })
	} else {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })
	}
	return sorted
}

// DependencyMode selects the direction of a dependency query.
type DependencyMode int

const (
	// DependsOnArg returns the TUs that include the argument.
	DependsOnArg DependencyMode = iota
	// ArgDependsOn returns the files the argument's TU includes. Slow:
	// scans the whole table.
	ArgDependsOn
)

// Dependencies answers include-graph queries.
func (p *Project) Dependencies(fileID types.FileID, mode DependencyMode) types.FileIDSet {
	ret := make(types.FileIDSet)
	if p.State() == Unloaded {
		return ret
	}
	if mode == DependsOnArg {
		data, err := p.tables.Dependencies.Value(types.EncodeFileID(fileID))
		if err != nil {
			return ret
		}
		if set, derr := decodeFileIDSet(data); derr == nil {
			return set
		}
		return ret
	}
	_ = p.forEachDependency(func(header types.FileID, dependents types.FileIDSet) error {
		if dependents.Contains(fileID) {
			ret.Insert(header)
		}
		return nil
	})
	return ret
}

// Sources returns every compile invocation recorded for a file.
func (p *Project) Sources(fileID types.FileID) []types.Source {
	var ret []types.Source
	if fileID.IsNull() || p.State() == Unloaded {
		return ret
	}
	it, err := p.tables.Sources.LowerBound(types.EncodeSourceKey(types.SourceKey(fileID, 0)))
	if err != nil {
		return ret
	}
	defer func() { _ = it.Close() }()
	for ; it.Valid(); it.Next() {
		f, _, derr := types.DecodeSourceKeyBytes(it.Key())
		if derr != nil || f != fileID {
			break
		}
		if source, derr := decodeSource(it.Value()); derr == nil {
			ret = append(ret, source)
		}
	}
	return ret
}

// ReindexMode selects between unconditional and modification-checked
// reindexing.
type ReindexMode int

const (
	// Reindex dirties every matching file unconditionally.
	Reindex ReindexMode = iota
	// CheckReindex dirties only files whose dependencies were modified.
	CheckReindex
)

// ReindexMatching schedules re-indexing for files selected by match and
// returns the number of jobs started.
func (p *Project) ReindexMatching(match Match, mode ReindexMode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Loaded {
		return 0
	}

	if mode == Reindex {
		dirtyFiles := make(types.FileIDSet)
		_ = p.forEachDependency(func(header types.FileID, _ types.FileIDSet) error {
			if dirtyFiles.Contains(header) {
				return nil
			}
			if match.IsEmpty() {
				dirtyFiles.Insert(header)
				return nil
			}
			if path, err := p.reg.Path(header); err == nil && match.Matches(path) {
				dirtyFiles.Insert(header)
			}
			return nil
		})
		if len(dirtyFiles) == 0 {
			return 0
		}
		detector := dirty.NewSimple(dirtyFiles, p.depReader())
		return p.startDirtyJobsLocked(detector)
	}

	var filter dirty.SourceFilter
	if !match.IsEmpty() {
		filter = func(source types.Source) bool {
			path, err := p.reg.Path(source.FileID)
			return err == nil && match.Matches(path)
		}
	}
	detector, err := dirty.NewIfModified(p.depReader(), p.reg.LastModified, filter)
	if err != nil {
		return 0
	}
	return p.startDirtyJobsLocked(detector)
}

// Remove erases the sources selected by match, aborts their jobs, and
// purges their rows from the symbol-family tables. Returns the number of
// sources removed.
func (p *Project) Remove(match Match) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Loaded {
		return 0
	}

	count := 0
	removed := make(types.FileIDSet)

	scope, err := p.tables.Sources.WriteScope()
	if err != nil {
		return 0
	}
	it, err := scope.Iterator()
	if err != nil {
		_ = scope.Discard()
		return 0
	}
	for it.Valid() {
		source, derr := decodeSource(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		path, perr := p.reg.Path(source.FileID)
		if perr != nil || !match.Matches(path) {
			it.Next()
			continue
		}
		if err := it.Erase(); err != nil {
			break
		}
		if job, ok := p.activeJobs[source.Key()]; ok {
			delete(p.activeJobs, source.Key())
			p.releaseJobFiles(job)
			p.sched.Abort(job)
		}
		delete(p.indexData, source.Key())
		removed.Insert(source.FileID)
		count++
	}
	if err := scope.Flush(); err != nil {
		p.log.Error("failed to flush source removal", slog.Any("error", err))
	}

	if count > 0 {
		if err := p.purgeDirtyFiles(removed); err != nil {
			p.log.Error("failed to purge removed files", slog.Any("error", err))
		}
	}
	return count
}

// MatchesProject reports whether the match selects this project, via an
// indexed file or the project root itself. The second return reports
// whether the hit was an indexed file.
func (p *Project) MatchesProject(match Match) (matched, indexed bool) {
	if match.IsEmpty() {
		return true, false
	}
	id, err := p.reg.FileID(match.pattern)
	if err == nil && !id.IsNull() && p.IsIndexed(id) {
		return true, true
	}
	return match.Matches(p.path), false
}

// Status renders a human-readable dump of the project state.
func (p *Project) Status() string {
	p.mu.Lock()
	state := p.state
	active := len(p.activeJobs)
	buffered := len(p.indexData)
	jobCounter := p.jobCounter
	suspended := p.suspendedFiles.Sorted()
	p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nState: %s\n", p.path, state)
	fmt.Fprintf(&b, "Jobs: %d active, %d buffered results, %d in batch\n", active, buffered, jobCounter)
	fmt.Fprintf(&b, "Visited files: %d\n", len(p.VisitedFiles()))

	if state != Unloaded {
		for _, entry := range []struct {
			name  string
			table interface{ Size() (int, error) }
		}{
			{"symbols", p.tables.Symbols},
			{"symbolnames", p.tables.SymbolNames},
			{"usr", p.tables.Usr},
			{"dependencies", p.tables.Dependencies},
			{"sources", p.tables.Sources},
			{"references", p.tables.References},
			{"targets", p.tables.Targets},
		} {
			if n, err := entry.table.Size(); err == nil {
				fmt.Fprintf(&b, "Table %s: %d rows\n", entry.name, n)
			}
		}
	}

	fmt.Fprintf(&b, "Watched paths: %d\n", len(p.WatchedPaths()))
	fmt.Fprintf(&b, "Suspended files: %d", len(suspended))
	for _, id := range suspended {
		if path, err := p.reg.Path(id); err == nil {
			fmt.Fprintf(&b, "\n  %s", path)
		}
	}
	return b.String()
}
