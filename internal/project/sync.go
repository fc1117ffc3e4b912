package project

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dshills/codegraph-mcp/internal/tables"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// SyncMode selects whether a sync runs inline or on the worker.
type SyncMode int

const (
	// SyncSynchronous folds deltas on the calling goroutine.
	SyncSynchronous SyncMode = iota
	// SyncAsynchronous folds deltas on a worker; at most one is in
	// flight, guarded by the Syncing state.
	SyncAsynchronous
)

// syncBatch is the frozen input to one sync run. Taking the batch under mu
// hands the worker exclusive ownership of the maps.
type syncBatch struct {
	indexData  map[uint64]*types.IndexData
	dirtyFiles types.FileIDSet
	batchStart time.Time
}

func (p *Project) takeSyncBatch() syncBatch {
	batch := syncBatch{
		indexData:  p.indexData,
		dirtyFiles: p.dirtyFiles,
		batchStart: p.batchStart,
	}
	p.indexData = make(map[uint64]*types.IndexData)
	p.dirtyFiles = make(types.FileIDSet)
	p.jobCounter = len(p.activeJobs)
	return batch
}

// StartSync transitions to Syncing and folds the buffered deltas into the
// persistent tables. Returns false when the project is not Loaded (an
// asynchronous request made while a sync runs re-arms the sync timer).
func (p *Project) StartSync(mode SyncMode) bool {
	p.mu.Lock()
	if p.state != Loaded {
		if mode == SyncAsynchronous && p.state == Syncing {
			p.restartSyncTimerLocked(p.cfg.SyncTimeout.Std())
		}
		p.mu.Unlock()
		return false
	}
	p.state = Syncing
	p.stopSyncTimerLocked()
	batch := p.takeSyncBatch()
	p.mu.Unlock()

	if mode == SyncSynchronous {
		p.finishSync(batch)
	} else {
		go p.finishSync(batch)
	}
	return true
}

// startSyncLocked begins an asynchronous sync with mu already held.
func (p *Project) startSyncLocked(mode SyncMode) bool {
	if p.state != Loaded {
		if mode == SyncAsynchronous {
			p.restartSyncTimerLocked(p.cfg.SyncTimeout.Std())
		}
		return false
	}
	p.state = Syncing
	p.stopSyncTimerLocked()
	batch := p.takeSyncBatch()
	go p.finishSync(batch)
	return true
}

// finishSync runs the merge and performs the Syncing -> Loaded transition,
// replaying work buffered while it ran.
func (p *Project) finishSync(batch syncBatch) {
	if msg := p.runSync(batch); msg != "" {
		p.log.Info(msg)
	}
	p.mu.Lock()
	p.onSyncedLocked()
	p.mu.Unlock()
}

// onSyncedLocked replays everything buffered while the sync ran.
func (p *Project) onSyncedLocked() {
	p.state = Loaded
	pending := p.pendingIndexData
	p.pendingIndexData = make(map[uint64]pendingResult)
	for _, result := range pending {
		p.onJobFinishedLocked(result.job, result.data)
	}
	jobs := p.pendingJobs
	p.pendingJobs = nil
	for _, job := range jobs {
		if err := p.indexLocked(job); err != nil {
			p.log.Warn("failed to replay pending job", slog.Any("error", err))
		}
	}
}

// runSync folds one batch into the tables. It runs without mu; the Syncing
// state guarantees the batch maps are not touched elsewhere. Readers keep
// seeing the pre-sync snapshot until each table's scope flushes.
func (p *Project) runSync(batch syncBatch) string {
	if len(batch.dirtyFiles) == 0 && len(batch.indexData) == 0 {
		return ""
	}
	sw := time.Now()

	if len(batch.dirtyFiles) > 0 {
		if err := p.purgeDirtyFiles(batch.dirtyFiles); err != nil {
			p.log.Error("failed to purge dirty files", slog.Any("error", err))
		}
	}
	dirtyTime := time.Since(sw)
	sw = time.Now()

	newFiles := make(types.FileIDSet)
	allUsrs := make(map[string]locationKindMap)
	allReferences := make(map[types.Location]types.LocationSet)
	allTargets := make(map[types.Location]locationKindMap)
	var pendingRefs []map[string]locationKindMap
	symbols, symbolNames, references, targets := 0, 0, 0, 0

	// Deterministic merge order keeps the result independent of map
	// iteration.
	keys := make([]uint64, 0, len(batch.indexData))
	for key := range batch.indexData {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	symbolScope, err := p.tables.Symbols.WriteScope()
	if err != nil {
		p.log.Error("failed to open symbols scope", slog.Any("error", err))
		return ""
	}
	defer func() { _ = symbolScope.Discard() }()

	for _, key := range keys {
		data := batch.indexData[key]
		p.addDependencies(data.Dependencies, newFiles)
		p.addFixIts(data.Dependencies, data.FixIts)
		for usr, locs := range data.Usrs {
			uniteLocationKinds(allUsrs, usr, locs)
		}
		n, err := p.writeSymbols(symbolScope, data.Symbols)
		if err != nil {
			p.log.Error("failed to write symbols", slog.Any("error", err))
		}
		symbols += n
		n, err = p.writeSymbolNames(data.SymbolNames)
		if err != nil {
			p.log.Error("failed to write symbol names", slog.Any("error", err))
		}
		symbolNames += n
		for loc, refs := range data.References {
			if allReferences[loc] == nil {
				allReferences[loc] = make(types.LocationSet, len(refs))
			}
			allReferences[loc].Unite(refs)
		}
		for loc, t := range data.Targets {
			uniteLocationKinds(allTargets, loc, t)
		}
		if len(data.PendingReferences) > 0 {
			pendingRefs = append(pendingRefs, data.PendingReferences)
		}
	}
	if err := symbolScope.Flush(); err != nil {
		p.log.Error("failed to flush symbols", slog.Any("error", err))
	}

	if err := p.writeUsrs(allUsrs, allTargets); err != nil {
		p.log.Error("failed to write usrs", slog.Any("error", err))
	}
	for _, pending := range pendingRefs {
		p.resolvePendingReferences(pending, allTargets, allReferences)
	}

	references, err = p.writeReferences(allReferences)
	if err != nil {
		p.log.Error("failed to write references", slog.Any("error", err))
	}
	targets, err = p.writeTargets(allTargets)
	if err != nil {
		p.log.Error("failed to write targets", slog.Any("error", err))
	}

	for fileID := range newFiles {
		if path, perr := p.reg.Path(fileID); perr == nil {
			p.watch(path)
		}
	}
	syncTime := time.Since(sw)
	sw = time.Now()

	// Persisting the registry is best-effort with a bounded retry.
	if err := p.reg.SaveWithRetry(3); err != nil {
		p.log.Warn("failed to save file id registry", slog.Any("error", err))
	}
	p.saveVisitedFiles()
	saveTime := time.Since(sw)

	return p.syncMessage(batch, dirtyTime, syncTime, saveTime,
		symbols, targets, references, symbolNames)
}

func (p *Project) syncMessage(batch syncBatch, dirtyTime, syncTime, saveTime time.Duration,
	symbols, targets, references, symbolNames int) string {

	jobsElapsed := time.Duration(0)
	if !batch.batchStart.IsZero() {
		jobsElapsed = time.Since(batch.batchStart)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Jobs took %.2fs", jobsElapsed.Seconds())
	if n := len(batch.indexData); n > 1 {
		fmt.Fprintf(&b, " (avg %.2fs)", jobsElapsed.Seconds()/float64(n))
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&b, ", dirtying took %.2fs, syncing took %.2fs, saving took %.2fs. We're using %dmb of memory. ",
		dirtyTime.Seconds(), syncTime.Seconds(), saveTime.Seconds(), mem.HeapAlloc/(1024*1024))
	fmt.Fprintf(&b, "%d symbols, %d targets, %d references, %d symbolNames",
		symbols, targets, references, symbolNames)
	return b.String()
}

func (p *Project) saveVisitedFiles() {
	p.visitedMu.Lock()
	visited := make(map[types.FileID]string, len(p.visitedFiles))
	for id, path := range p.visitedFiles {
		visited[id] = path
	}
	p.visitedMu.Unlock()

	data, err := encodeVisitedFiles(visited)
	if err != nil {
		p.log.Warn("failed to encode visited files", slog.Any("error", err))
		return
	}
	if err := p.tables.General.Set([]byte(visitedFilesKey), data); err != nil {
		p.log.Warn("failed to persist visited files", slog.Any("error", err))
	}
}

// purgeDirtyFiles erases every row keyed by a dirty file from the
// symbol-family tables and strips cross-links pointing into dirty files.
func (p *Project) purgeDirtyFiles(dirtyFiles types.FileIDSet) error {
	if err := p.purgeSymbols(dirtyFiles); err != nil {
		return err
	}
	if err := p.purgeLocationSetTable(p.tables.References, dirtyFiles); err != nil {
		return err
	}
	if err := p.purgeLocationKindTable(p.tables.Targets, dirtyFiles); err != nil {
		return err
	}
	if err := p.purgeStringSetTable(p.tables.SymbolNames, dirtyFiles); err != nil {
		return err
	}
	return p.purgeStringKindTable(p.tables.Usr, dirtyFiles)
}

func (p *Project) purgeSymbols(dirtyFiles types.FileIDSet) error {
	scope, err := p.tables.Symbols.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()
	it, err := scope.Iterator()
	if err != nil {
		return err
	}
	for it.Valid() {
		loc, derr := types.DecodeLocationKey(it.Key())
		if derr != nil {
			it.Next()
			continue
		}
		if dirtyFiles.Contains(loc.FileID) {
			if err := it.Erase(); err != nil {
				return err
			}
			continue
		}
		info, derr := decodeSymbol(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		if info.StripDirty(dirtyFiles) {
			if info.IsEmpty() {
				if err := it.Erase(); err != nil {
					return err
				}
				continue
			}
			value, eerr := encode(info)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return scope.Flush()
}

// purgeLocationSetTable handles tables keyed by Location with LocationSet
// values (References).
func (p *Project) purgeLocationSetTable(t *tables.Table, dirtyFiles types.FileIDSet) error {
	scope, err := t.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()
	it, err := scope.Iterator()
	if err != nil {
		return err
	}
	for it.Valid() {
		loc, derr := types.DecodeLocationKey(it.Key())
		if derr != nil {
			it.Next()
			continue
		}
		if dirtyFiles.Contains(loc.FileID) {
			if err := it.Erase(); err != nil {
				return err
			}
			continue
		}
		set, derr := decodeLocationSet(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		changed := false
		for l := range set {
			if dirtyFiles.Contains(l.FileID) {
				delete(set, l)
				changed = true
			}
		}
		if changed {
			if len(set) == 0 {
				if err := it.Erase(); err != nil {
					return err
				}
				continue
			}
			value, eerr := encode(set)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return scope.Flush()
}

// purgeLocationKindTable handles tables keyed by Location with
// map[Location]Kind values (Targets).
func (p *Project) purgeLocationKindTable(t *tables.Table, dirtyFiles types.FileIDSet) error {
	scope, err := t.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()
	it, err := scope.Iterator()
	if err != nil {
		return err
	}
	for it.Valid() {
		loc, derr := types.DecodeLocationKey(it.Key())
		if derr != nil {
			it.Next()
			continue
		}
		if dirtyFiles.Contains(loc.FileID) {
			if err := it.Erase(); err != nil {
				return err
			}
			continue
		}
		m, derr := decodeLocationKindMap(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		changed := false
		for l := range m {
			if dirtyFiles.Contains(l.FileID) {
				delete(m, l)
				changed = true
			}
		}
		if changed {
			if len(m) == 0 {
				if err := it.Erase(); err != nil {
					return err
				}
				continue
			}
			value, eerr := encode(m)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return scope.Flush()
}

// purgeStringSetTable handles tables keyed by string with LocationSet
// values (SymbolNames).
func (p *Project) purgeStringSetTable(t *tables.Table, dirtyFiles types.FileIDSet) error {
	scope, err := t.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()
	it, err := scope.Iterator()
	if err != nil {
		return err
	}
	for it.Valid() {
		set, derr := decodeLocationSet(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		changed := false
		for l := range set {
			if dirtyFiles.Contains(l.FileID) {
				delete(set, l)
				changed = true
			}
		}
		if changed {
			if len(set) == 0 {
				if err := it.Erase(); err != nil {
					return err
				}
				continue
			}
			value, eerr := encode(set)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return scope.Flush()
}

// purgeStringKindTable handles tables keyed by string with
// map[Location]Kind values (Usr).
func (p *Project) purgeStringKindTable(t *tables.Table, dirtyFiles types.FileIDSet) error {
	scope, err := t.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()
	it, err := scope.Iterator()
	if err != nil {
		return err
	}
	for it.Valid() {
		m, derr := decodeLocationKindMap(it.Value())
		if derr != nil {
			it.Next()
			continue
		}
		changed := false
		for l := range m {
			if dirtyFiles.Contains(l.FileID) {
				delete(m, l)
				changed = true
			}
		}
		if changed {
			if len(m) == 0 {
				if err := it.Erase(); err != nil {
					return err
				}
				continue
			}
			value, eerr := encode(m)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return scope.Flush()
}

// addDependencies merges one delta's include graph into the Dependencies
// table and collects every mentioned file into newFiles.
func (p *Project) addDependencies(deps map[types.FileID]types.FileIDSet, newFiles types.FileIDSet) {
	if len(deps) == 0 {
		return
	}
	scope, err := p.tables.Dependencies.WriteScope()
	if err != nil {
		p.log.Error("failed to open dependencies scope", slog.Any("error", err))
		return
	}
	defer func() { _ = scope.Discard() }()

	for header, tus := range deps {
		key := types.EncodeFileID(header)
		cur, verr := scope.Value(key)
		merged := tus
		if verr == nil {
			existing, derr := decodeFileIDSet(cur)
			if derr == nil {
				if existing.Unite(tus) == 0 {
					newFiles.Unite(tus)
					newFiles.Insert(header)
					continue
				}
				merged = existing
			}
		}
		value, eerr := encode(merged)
		if eerr != nil {
			continue
		}
		if err := scope.Set(key, value); err != nil {
			p.log.Error("failed to write dependency row", slog.Any("error", err))
		}
		newFiles.Unite(tus)
		newFiles.Insert(header)
	}
	if err := scope.Flush(); err != nil {
		p.log.Error("failed to flush dependencies", slog.Any("error", err))
	}
}

// addFixIts replaces or clears the fix-it list of every file keyed in the
// given map (the caller passes the delta's Dependencies).
func (p *Project) addFixIts(visited map[types.FileID]types.FileIDSet, fixIts map[types.FileID][]types.FixIt) {
	p.fixItsMu.Lock()
	defer p.fixItsMu.Unlock()
	for fileID := range visited {
		if fs, ok := fixIts[fileID]; ok {
			p.fixIts[fileID] = fs
		} else {
			delete(p.fixIts, fileID)
		}
	}
}

// writeSymbols merges a delta's symbols into the Symbols table. Targets,
// references and ranges union; a record carrying a symbol length supersedes
// the scalar fields.
func (p *Project) writeSymbols(scope *tables.WriteScope, symbols map[types.Location]*types.SymbolInfo) (int, error) {
	count := 0
	for loc, info := range symbols {
		key := loc.Key()
		merged := info
		if cur, err := scope.Value(key); err == nil {
			existing, derr := decodeSymbol(cur)
			if derr == nil {
				merged = mergeSymbol(existing, info)
			}
		}
		value, err := encode(merged)
		if err != nil {
			return count, err
		}
		if err := scope.Set(key, value); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// mergeSymbol folds an incoming record into an existing one for the same
// location.
func mergeSymbol(existing, incoming *types.SymbolInfo) *types.SymbolInfo {
	out := existing.Clone()
	if incoming.SymbolLength > 0 {
		out.SymbolLength = incoming.SymbolLength
		out.SymbolName = incoming.SymbolName
		out.Kind = incoming.Kind
		out.Type = incoming.Type
		out.EnumValue = incoming.EnumValue
		out.StartLine = incoming.StartLine
		out.StartColumn = incoming.StartColumn
		out.EndLine = incoming.EndLine
		out.EndColumn = incoming.EndColumn
	}
	if incoming.Definition {
		out.Definition = true
	}
	if out.Targets == nil {
		out.Targets = make(types.LocationSet)
	}
	out.Targets.Unite(incoming.Targets)
	if out.References == nil {
		out.References = make(types.LocationSet)
	}
	out.References.Unite(incoming.References)
	return out
}

// writeSymbolNames union-merges a delta's name index.
func (p *Project) writeSymbolNames(symbolNames map[string]types.LocationSet) (int, error) {
	if len(symbolNames) == 0 {
		return 0, nil
	}
	scope, err := p.tables.SymbolNames.WriteScope()
	if err != nil {
		return 0, err
	}
	defer func() { _ = scope.Discard() }()

	count := 0
	for name, locs := range symbolNames {
		key := []byte(name)
		merged := locs
		if cur, verr := scope.Value(key); verr == nil {
			existing, derr := decodeLocationSet(cur)
			if derr == nil {
				added := existing.Unite(locs)
				if added == 0 {
					continue
				}
				count += added
				merged = existing
			}
		} else {
			count += len(locs)
		}
		value, eerr := encode(merged)
		if eerr != nil {
			return count, eerr
		}
		if err := scope.Set(key, value); err != nil {
			return count, err
		}
	}
	return count, scope.Flush()
}

// uniteLocationKinds merges locs into m[key].
func uniteLocationKinds[K comparable](m map[K]locationKindMap, key K, locs locationKindMap) {
	cur, ok := m[key]
	if !ok {
		cur = make(locationKindMap, len(locs))
		m[key] = cur
	}
	for loc, kind := range locs {
		cur[loc] = kind
	}
}

// joinCursors cross-links every pair of locations sharing a USR so
// navigation resolves across translation-unit boundaries.
func joinCursors(allTargets map[types.Location]locationKindMap, locations locationKindMap) {
	for loc := range locations {
		t, ok := allTargets[loc]
		if !ok {
			t = make(locationKindMap)
			allTargets[loc] = t
		}
		for inner, kind := range locations {
			if inner != loc {
				t[inner] = kind
			}
		}
	}
}

// writeUsrs merges the accumulated USR map into the Usr table, emitting
// cross-edges for USRs with multiple locations.
func (p *Project) writeUsrs(allUsrs map[string]locationKindMap, allTargets map[types.Location]locationKindMap) error {
	if len(allUsrs) == 0 {
		return nil
	}
	scope, err := p.tables.Usr.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()

	for usr, locs := range allUsrs {
		key := []byte(usr)
		merged := locs
		if cur, verr := scope.Value(key); verr == nil {
			existing, derr := decodeLocationKindMap(cur)
			if derr == nil {
				added := 0
				for loc, kind := range locs {
					if _, ok := existing[loc]; !ok {
						existing[loc] = kind
						added++
					}
				}
				if added == 0 {
					if len(existing) > 1 {
						joinCursors(allTargets, existing)
					}
					continue
				}
				merged = existing
			}
		}
		value, eerr := encode(merged)
		if eerr != nil {
			return eerr
		}
		if err := scope.Set(key, value); err != nil {
			return err
		}
		if len(merged) > 1 {
			joinCursors(allTargets, merged)
		}
	}
	return scope.Flush()
}

// resolvePendingReferences resolves USR-keyed references against the merged
// Usr table, linking each reference to every declaration location found.
func (p *Project) resolvePendingReferences(pending map[string]locationKindMap,
	allTargets map[types.Location]locationKindMap,
	allReferences map[types.Location]types.LocationSet) {

	for usr, refs := range pending {
		candidates := []string{usr}
		if p.cfg.ObjCPropertyFallback {
			// Implicit property accessors decorate as instance methods;
			// retry with the property decoration.
			if idx := strings.LastIndex(usr, "(im)"); idx != -1 {
				candidates = append(candidates, usr[:idx]+"(py)"+usr[idx+4:])
			}
		}

		targetInfos := make(locationKindMap)
		for _, candidate := range candidates {
			data, err := p.tables.Usr.Value([]byte(candidate))
			if err != nil {
				continue
			}
			usrLocs, derr := decodeLocationKindMap(data)
			if derr != nil {
				continue
			}
			for usrLoc := range usrLocs {
				symData, serr := p.tables.Symbols.Value(usrLoc.Key())
				if serr != nil {
					continue
				}
				info, derr := decodeSymbol(symData)
				if derr != nil {
					continue
				}
				if info.Kind.IsCursor() {
					targetInfos[usrLoc] = info.Kind
				}
			}
		}
		if len(targetInfos) == 0 {
			continue
		}
		for refLoc := range refs {
			subTargets, ok := allTargets[refLoc]
			if !ok {
				subTargets = make(locationKindMap)
				allTargets[refLoc] = subTargets
			}
			for targetLoc, kind := range targetInfos {
				subTargets[targetLoc] = kind
				if allReferences[targetLoc] == nil {
					allReferences[targetLoc] = make(types.LocationSet)
				}
				allReferences[targetLoc].Insert(refLoc)
			}
		}
	}
}

// writeReferences commits the accumulated reverse edges; rows are written
// only when the union grows.
func (p *Project) writeReferences(all map[types.Location]types.LocationSet) (int, error) {
	if len(all) == 0 {
		return 0, nil
	}
	scope, err := p.tables.References.WriteScope()
	if err != nil {
		return 0, err
	}
	defer func() { _ = scope.Discard() }()

	count := 0
	for loc, refs := range all {
		key := loc.Key()
		merged := refs
		if cur, verr := scope.Value(key); verr == nil {
			existing, derr := decodeLocationSet(cur)
			if derr == nil {
				if existing.Unite(refs) == 0 {
					continue
				}
				merged = existing
			}
		}
		value, eerr := encode(merged)
		if eerr != nil {
			return count, eerr
		}
		if err := scope.Set(key, value); err != nil {
			return count, err
		}
		count++
	}
	return count, scope.Flush()
}

// writeTargets commits the accumulated forward edges; rows are written only
// when the union grows.
func (p *Project) writeTargets(all map[types.Location]locationKindMap) (int, error) {
	if len(all) == 0 {
		return 0, nil
	}
	scope, err := p.tables.Targets.WriteScope()
	if err != nil {
		return 0, err
	}
	defer func() { _ = scope.Discard() }()

	count := 0
	for loc, targets := range all {
		key := loc.Key()
		merged := targets
		if cur, verr := scope.Value(key); verr == nil {
			existing, derr := decodeLocationKindMap(cur)
			if derr == nil {
				added := 0
				for t, kind := range targets {
					if _, ok := existing[t]; !ok {
						existing[t] = kind
						added++
					}
				}
				if added == 0 {
					continue
				}
				merged = existing
			}
		}
		value, eerr := encode(merged)
		if eerr != nil {
			return count, eerr
		}
		if err := scope.Set(key, value); err != nil {
			return count, err
		}
		count++
	}
	return count, scope.Flush()
}
