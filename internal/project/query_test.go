package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/scheduler"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

func TestMatchSymbolName(t *testing.T) {
	tests := []struct {
		needle   string
		haystack string
		maybeFn  bool
		want     bool
	}{
		// A local nested in a signature never matches its function's name.
		{"foo", "foo(int)::bar", true, false},
		{"foo", "foo(int)::bar", false, false},
		// Exact and stripped-argument matches.
		{"foo", "foo", true, true},
		{"foo", "foo(int)", true, true},
		{"foo", "foo(int)", false, true},
		// Exact match on the full local name.
		{"foo(int)::bar", "foo(int)::bar", true, true},
		// The part after the sentinel matches.
		{"bar", "foo(int)::bar", true, true},
		// Plain prefixes without an argument list don't match.
		{"foo", "foobar", true, false},
		{"foo", "fo", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.needle+"/"+tt.haystack, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSymbolName(tt.needle, tt.haystack, tt.maybeFn))
		})
	}
}

func TestMatch(t *testing.T) {
	assert.True(t, Match{}.IsEmpty())
	assert.True(t, Match{}.Matches("/anything"))

	m := NewMatch("a.cpp")
	assert.False(t, m.IsEmpty())
	assert.True(t, m.Matches("/src/a.cpp"))
	assert.False(t, m.Matches("/src/b.cc"))

	re := NewMatch(`\.cpp$`)
	assert.True(t, re.Matches("/src/b.cpp"))
	assert.False(t, re.Matches("/src/b.cpp.bak"))
}

// seedSymbols loads one delta straight through the job/sync machinery.
func seedSymbols(t *testing.T, env *testEnv, tu types.FileID, tuPath string,
	data *types.IndexData) {
	t.Helper()
	job := scheduler.NewJob(types.Source{FileID: tu, BuildRootID: 1}, tuPath, types.JobCompile)
	require.NoError(t, env.project.Index(job))
	env.completeJob(job, data)
	require.True(t, env.project.StartSync(SyncSynchronous))
}

func TestLocationsEmptyNameReturnsNonReferences(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	defLoc := types.NewLocation(cppID, 1, 1)
	refLoc := types.NewLocation(cppID, 5, 1)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			defLoc: {SymbolLength: 3, SymbolName: "foo", Kind: types.KindFunction, Definition: true},
			refLoc: {SymbolLength: 3, SymbolName: "foo", Kind: types.KindCallExpression},
		},
		SymbolNames:  map[string]types.LocationSet{"foo": types.NewLocationSet(defLoc)},
		Dependencies: map[types.FileID]types.FileIDSet{cppID: types.NewFileIDSet(cppID)},
		Visited:      map[types.FileID]bool{cppID: true},
	})

	all := p.Locations("", 0)
	assert.True(t, all.Contains(defLoc))
	assert.False(t, all.Contains(refLoc), "references are filtered")

	inFile := p.Locations("", cppID)
	assert.Equal(t, all, inFile)

	named := p.Locations("foo", cppID)
	assert.True(t, named.Contains(defLoc))
}

func TestLocationsPrefixScan(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	fooLoc := types.NewLocation(cppID, 1, 1)
	fooIntLoc := types.NewLocation(cppID, 2, 1)
	foobarLoc := types.NewLocation(cppID, 3, 1)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			fooLoc:    {SymbolLength: 3, SymbolName: "foo", Kind: types.KindFunction},
			fooIntLoc: {SymbolLength: 3, SymbolName: "foo(int)", Kind: types.KindFunction},
			foobarLoc: {SymbolLength: 6, SymbolName: "foobar", Kind: types.KindFunction},
		},
		SymbolNames: map[string]types.LocationSet{
			"foo":      types.NewLocationSet(fooLoc),
			"foo(int)": types.NewLocationSet(fooIntLoc),
			"foobar":   types.NewLocationSet(foobarLoc),
		},
		Dependencies: map[types.FileID]types.FileIDSet{cppID: types.NewFileIDSet(cppID)},
		Visited:      map[types.FileID]bool{cppID: true},
	})

	got := p.Locations("foo", 0)
	assert.True(t, got.Contains(fooLoc))
	assert.True(t, got.Contains(fooIntLoc), "stripped-argument variant matches")
	assert.False(t, got.Contains(foobarLoc), "plain prefix does not match")
}

func TestCursorInfoContainment(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	symLoc := types.NewLocation(cppID, 4, 10)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			symLoc: {SymbolLength: 6, SymbolName: "widget", Kind: types.KindVariable},
		},
		Dependencies: map[types.FileID]types.FileIDSet{cppID: types.NewFileIDSet(cppID)},
		Visited:      map[types.FileID]bool{cppID: true},
	})

	// Exact hit.
	loc, info, ok := p.CursorInfo(symLoc)
	require.True(t, ok)
	assert.Equal(t, symLoc, loc)
	assert.Equal(t, "widget", info.SymbolName)

	// Inside the symbol's extent.
	loc, _, ok = p.CursorInfo(types.NewLocation(cppID, 4, 13))
	require.True(t, ok)
	assert.Equal(t, symLoc, loc)

	// Just past the extent.
	_, _, ok = p.CursorInfo(types.NewLocation(cppID, 4, 16))
	assert.False(t, ok)

	// Different line.
	_, _, ok = p.CursorInfo(types.NewLocation(cppID, 5, 11))
	assert.False(t, ok)
}

func TestFollowLocationPrefersDefinition(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	_, hID := env.addFile(t, "a.h", "")

	refLoc := types.NewLocation(cppID, 10, 1)
	declLoc := types.NewLocation(hID, 1, 1)
	defLoc := types.NewLocation(cppID, 20, 1)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			refLoc: {
				SymbolLength: 2, SymbolName: "fn", Kind: types.KindCallExpression,
				Targets: types.NewLocationSet(declLoc, defLoc),
			},
			declLoc: {SymbolLength: 2, SymbolName: "fn()", Kind: types.KindFunction},
			defLoc:  {SymbolLength: 2, SymbolName: "fn()", Kind: types.KindFunction, Definition: true},
		},
		Dependencies: map[types.FileID]types.FileIDSet{
			cppID: types.NewFileIDSet(cppID),
			hID:   types.NewFileIDSet(cppID),
		},
		Visited: map[types.FileID]bool{cppID: true, hID: true},
	})

	target, ok := p.FollowLocation(refLoc)
	require.True(t, ok)
	assert.Equal(t, defLoc, target, "definition outranks declaration")

	_, ok = p.FollowLocation(types.NewLocation(cppID, 99, 1))
	assert.False(t, ok)
}

func TestSortOrderAndReverse(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	fnLoc := types.NewLocation(cppID, 1, 1)
	classLoc := types.NewLocation(cppID, 2, 1)
	ctorLoc := types.NewLocation(cppID, 3, 1)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			fnLoc:    {SymbolLength: 2, SymbolName: "fn()", Kind: types.KindFunction},
			classLoc: {SymbolLength: 1, SymbolName: "C", Kind: types.KindClass},
			ctorLoc:  {SymbolLength: 1, SymbolName: "C()", Kind: types.KindConstructor},
		},
		Dependencies: map[types.FileID]types.FileIDSet{cppID: types.NewFileIDSet(cppID)},
		Visited:      map[types.FileID]bool{cppID: true},
	})

	locs := types.NewLocationSet(fnLoc, classLoc, ctorLoc)

	sorted := p.Sort(locs, SortNone)
	require.Len(t, sorted, 3)
	// Kind rank: function > class > constructor.
	assert.Equal(t, fnLoc, sorted[0].Location)
	assert.Equal(t, classLoc, sorted[1].Location)
	assert.Equal(t, ctorLoc, sorted[2].Location)

	// Reverse yields the default order back to front.
	reversed := p.Sort(locs, SortReverse)
	require.Len(t, reversed, 3)
	for i := range sorted {
		assert.Equal(t, sorted[i], reversed[len(reversed)-1-i])
	}
}

func TestSortDeclarationOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	_, hID := env.addFile(t, "a.h", "")

	declLoc := types.NewLocation(hID, 1, 1)
	defLoc := types.NewLocation(cppID, 5, 1)

	seedSymbols(t, env, cppID, cppPath, &types.IndexData{
		ParseTime: time.Now().UnixMilli(),
		Symbols: map[types.Location]*types.SymbolInfo{
			declLoc: {SymbolLength: 2, SymbolName: "fn()", Kind: types.KindFunction},
			defLoc: {
				SymbolLength: 2, SymbolName: "fn()", Kind: types.KindFunction,
				Definition: true,
				Targets:    types.NewLocationSet(declLoc),
			},
		},
		Dependencies: map[types.FileID]types.FileIDSet{
			cppID: types.NewFileIDSet(cppID),
			hID:   types.NewFileIDSet(cppID),
		},
		Visited: map[types.FileID]bool{cppID: true, hID: true},
	})

	locs := types.NewLocationSet(declLoc, defLoc)

	all := p.Sort(locs, SortNone)
	assert.Len(t, all, 2)

	// The definition's best target is a live declaration, so it drops.
	declOnly := p.Sort(locs, SortDeclarationOnly)
	require.Len(t, declOnly, 1)
	assert.Equal(t, declLoc, declOnly[0].Location)
}

func TestDependenciesModes(t *testing.T) {
	env := newTestEnv(t)
	p := env.project
	require.NoError(t, p.Load())

	cppPath, cppID := env.addFile(t, "a.cpp", "")
	_, hID := env.addFile(t, "a.h", "")

	data, _, _ := coldIndexResult(cppID, hID, time.Now().UnixMilli())
	seedSymbols(t, env, cppID, cppPath, data)

	// DependsOnArg: who includes a.h.
	assert.True(t, p.Dependencies(hID, DependsOnArg).Contains(cppID))

	// ArgDependsOn: what a.cpp includes.
	assert.True(t, p.Dependencies(cppID, ArgDependsOn).Contains(hID))
}
