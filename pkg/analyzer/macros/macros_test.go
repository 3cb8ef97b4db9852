package macros

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/ccdead/internal/store"
	"github.com/panbanda/ccdead/pkg/analyzer"
	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/models"
	tu "github.com/panbanda/ccdead/pkg/testutil"
	"github.com/panbanda/ccdead/pkg/traverse"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Create(afero.NewMemMapFs(), "/runs", "run")
	require.NoError(t, err)
	return st
}

// runWorker traverses units with a fresh analyzer and stores the result in
// the worker's slot.
func runWorker(t *testing.T, st *store.Store, worker int, opts Options, units ...*tu.Node) {
	t.Helper()
	a := New(opts)
	for _, u := range units {
		_, err := traverse.Walk(context.Background(), u, zerolog.Nop(), a)
		require.NoError(t, err)
	}
	require.NoError(t, a.Store(st.Slot(worker)))
}

func merge(t *testing.T, st *store.Store, opts Options) []models.Finding {
	t.Helper()
	res, err := New(opts).Merge(st)
	require.NoError(t, err)
	return res.Findings
}

func names(fs []models.Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

func TestExpansionInOtherUnitCountsAsUse(t *testing.T) {
	st := newStore(t)
	foo := tu.MacroDef("FOO", tu.At("/src/foo.h", 3, 9))
	unused := tu.MacroDef("UNUSED", tu.At("/src/foo.h", 4, 9))

	// unit 1 defines FOO and UNUSED, expands neither
	runWorker(t, st, 0, Options{}, tu.Unit(foo, unused))
	// unit 2 includes the same header and expands FOO once
	foo2 := tu.MacroDef("FOO", tu.At("/src/foo.h", 3, 9))
	runWorker(t, st, 1, Options{}, tu.Unit(foo2, tu.MacroExp(foo2, tu.At("/src/b.c", 10, 5))))

	got := merge(t, st, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, models.Finding{
		Analysis: "macros", Kind: "macro", Name: "UNUSED", File: "/src/foo.h", Line: 4, Column: 9,
	}, got[0])
}

func TestExpansionInSameUnit(t *testing.T) {
	st := newStore(t)
	foo := tu.MacroDef("FOO", tu.At("/src/a.c", 1, 9))
	runWorker(t, st, 0, Options{}, tu.Unit(foo, tu.MacroExp(foo, tu.At("/src/a.c", 7, 12))))
	assert.Empty(t, merge(t, st, Options{}))
}

func TestCompilerInjectedAndBuiltinMacrosIgnored(t *testing.T) {
	st := newStore(t)
	injected := tu.MacroDef("DEBUG", ast.Location{})
	builtin := tu.MacroDef("__FILE__", ast.Location{})
	builtin.IsBuiltin = true
	builtinExp := tu.MacroExp(builtin, tu.At("/src/a.c", 2, 1))
	builtinExp.IsBuiltin = true

	runWorker(t, st, 0, Options{}, tu.Unit(
		injected,
		tu.MacroExp(injected, tu.At("/src/a.c", 1, 5)),
		builtinExp,
	))

	refs, err := store.Load[Record](st, analyzer.Variant(Name, "refs"))
	require.NoError(t, err)
	assert.Empty(t, refs)
	decls, err := store.Load[Record](st, analyzer.Variant(Name, "decls"))
	require.NoError(t, err)
	assert.Empty(t, decls)
}

func TestExcludedPrefixes(t *testing.T) {
	st := newStore(t)
	runWorker(t, st, 0, Options{}, tu.Unit(
		tu.MacroDef("EOF", tu.At("/usr/include/stdio.h", 100, 9)),
		tu.MacroDef("MINE", tu.At("/home/dev/src/a.h", 1, 9)),
	))

	assert.Equal(t, []string{"MINE"}, names(merge(t, st, Options{Filter: analyzer.NewPathFilter(nil)})))
	assert.Len(t, merge(t, st, Options{}), 2)
}

func TestConditionalUse(t *testing.T) {
	st := newStore(t)
	guard := tu.MacroDef("HAVE_X", tu.At("/src/config.h", 1, 9))
	tested := &tu.Node{K: ast.KindMacroReference, Name: "HAVE_X", Loc: tu.At("/src/a.c", 3, 8), Def: guard}
	runWorker(t, st, 0, Options{ConditionalUse: true}, tu.Unit(guard, tested))

	other := newStore(t)
	runWorker(t, other, 0, Options{}, tu.Unit(guard, tested))

	assert.Empty(t, merge(t, st, Options{}))
	assert.Equal(t, []string{"HAVE_X"}, names(merge(t, other, Options{})))
}

func TestQueryErrorPropagates(t *testing.T) {
	a := New(Options{})
	broken := &tu.Node{K: ast.KindMacroExpansion, Name: "X", Err: &ast.QueryError{Kind: ast.KindMacroExpansion, Query: "definition"}}
	err := a.Visit(broken)
	assert.True(t, ast.IsQueryError(err))

	// the walker recovers it and keeps going
	foo := tu.MacroDef("FOO", tu.At("/src/a.c", 1, 9))
	stats, err := traverse.Walk(context.Background(), tu.Unit(broken, foo), zerolog.Nop(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)
	assert.True(t, a.decls.Has(Record{Name: "FOO", Line: 1, Column: 9, File: "/src/a.c"}))
}

func TestMergeIdempotentOverDuplicateUnits(t *testing.T) {
	build := func() *tu.Node {
		foo := tu.MacroDef("FOO", tu.At("/src/h.h", 1, 9))
		bar := tu.MacroDef("BAR", tu.At("/src/h.h", 2, 9))
		return tu.Unit(foo, bar, tu.MacroExp(foo, tu.At("/src/a.c", 5, 1)))
	}

	once := newStore(t)
	runWorker(t, once, 0, Options{}, build())

	twice := newStore(t)
	runWorker(t, twice, 0, Options{}, build(), build())
	runWorker(t, twice, 1, Options{}, build())

	assert.Equal(t, merge(t, once, Options{}), merge(t, twice, Options{}))
	assert.Equal(t, []string{"BAR"}, names(merge(t, twice, Options{})))
}

func TestOptions(t *testing.T) {
	opts := New(Options{}).Options()
	assert.True(t, opts.Has(ast.OptDetailedPreprocessingRecord))
	assert.True(t, opts.Has(ast.OptSkipFunctionBodies))
}
