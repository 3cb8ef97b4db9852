package treesitter

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/ccdead/pkg/ast"
)

func newTestProvider(t *testing.T, files map[string]string) *Provider {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	}
	return New(Options{Fs: fs})
}

func parseUnit(t *testing.T, files map[string]string, opts ast.ParseOptions, args ...string) ast.Tree {
	t.Helper()
	p := newTestProvider(t, files)
	idx, err := p.NewIndex()
	require.NoError(t, err)
	t.Cleanup(idx.Close)

	tree, err := idx.Parse(context.Background(), args, opts)
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func collect(n ast.Node, kind ast.Kind) []ast.Node {
	var out []ast.Node
	if n.Kind() == kind {
		out = append(out, n)
	}
	for _, c := range n.Children() {
		out = append(out, collect(c, kind)...)
	}
	return out
}

func spellings(nodes []ast.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Spelling())
	}
	return out
}

func TestProviderImplementsInterface(t *testing.T) {
	var _ ast.Provider = (*Provider)(nil)
	p := New(Options{})
	assert.Equal(t, "treesitter", p.Name())
	assert.True(t, p.Supports(ast.OptDetailedPreprocessingRecord|ast.OptSkipFunctionBodies))
}

func TestMacroDefinitionsAndExpansions(t *testing.T) {
	src := `#define FOO 1
#define BAR(x) ((x) + FOO)
#define UNUSED 3

int value = BAR(2);
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src},
		ast.OptDetailedPreprocessingRecord, "cc", "-c", "/src/a.c")
	root := tree.Root()
	require.Equal(t, ast.KindTranslationUnit, root.Kind())

	defs := collect(root, ast.KindMacroDefinition)
	assert.Equal(t, []string{"FOO", "BAR", "UNUSED"}, spellings(defs))
	assert.Equal(t, ast.Location{File: "/src/a.c", Line: 1, Column: 9}, defs[0].Location())

	expansions := collect(root, ast.KindMacroExpansion)
	assert.ElementsMatch(t, []string{"BAR", "FOO"}, spellings(expansions))
	for _, exp := range expansions {
		def, err := exp.Definition()
		require.NoError(t, err)
		require.NotNil(t, def)
		assert.Equal(t, exp.Spelling(), def.Spelling())
		assert.True(t, def.Location().Valid())
		assert.Equal(t, 5, exp.Location().Line)
	}
}

func TestExpansionResolvesToHeaderDefinition(t *testing.T) {
	files := map[string]string{
		"/src/foo.h": "#ifndef FOO_H\n#define FOO_H\n#define FOO 42\n#endif\n",
		"/src/main.c": `#include "foo.h"
int x = FOO;
`,
	}
	tree := parseUnit(t, files, ast.OptDetailedPreprocessingRecord, "cc", "/src/main.c")
	root := tree.Root()

	incs := collect(root, ast.KindInclusionDirective)
	require.Len(t, incs, 1)
	assert.Equal(t, `"foo.h"`, incs[0].Spelling())

	expansions := collect(root, ast.KindMacroExpansion)
	require.Len(t, expansions, 1)
	def, err := expansions[0].Definition()
	require.NoError(t, err)
	assert.Equal(t, ast.Location{File: "/src/foo.h", Line: 3, Column: 9}, def.Location())
}

func TestIncludeSearchPath(t *testing.T) {
	files := map[string]string{
		"/inc/lib.h":  "#define LIB 1\n",
		"/src/main.c": "#include <lib.h>\nint y = LIB;\n",
	}
	tree := parseUnit(t, files, ast.OptDetailedPreprocessingRecord, "cc", "-I", "/inc", "/src/main.c")
	assert.Equal(t, []string{"LIB"}, spellings(collect(tree.Root(), ast.KindMacroExpansion)))

	tree = parseUnit(t, files, ast.OptDetailedPreprocessingRecord|ast.OptSingleFileParse, "cc", "-I/inc", "/src/main.c")
	assert.Empty(t, collect(tree.Root(), ast.KindMacroDefinition))
}

func TestCommandLineDefines(t *testing.T) {
	src := "#if DEBUG\nint dbg;\n#endif\n"

	tree := parseUnit(t, map[string]string{"/src/a.c": src},
		ast.OptDetailedPreprocessingRecord, "cc", "-DDEBUG=1", "/src/a.c")
	assert.Equal(t, []string{"dbg"}, spellings(collect(tree.Root(), ast.KindVarDecl)))

	expansions := collect(tree.Root(), ast.KindMacroExpansion)
	require.Len(t, expansions, 1)
	def, err := expansions[0].Definition()
	require.NoError(t, err)
	assert.False(t, def.Location().Valid())

	tree = parseUnit(t, map[string]string{"/src/a.c": src},
		ast.OptDetailedPreprocessingRecord, "cc", "-DDEBUG", "-UDEBUG", "/src/a.c")
	assert.Empty(t, collect(tree.Root(), ast.KindVarDecl))
}

func TestConditionalBranches(t *testing.T) {
	src := `#define LEVEL 2
#if LEVEL > 1 && defined(LEVEL)
int high;
#elif LEVEL == 1
int mid;
#else
int low;
#endif
#ifdef MISSING
int missing;
#endif
#ifndef MISSING
int present;
#endif
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptDetailedPreprocessingRecord, "cc", "/src/a.c")
	assert.Equal(t, []string{"high", "present"}, spellings(collect(tree.Root(), ast.KindVarDecl)))
	assert.Equal(t, []string{"LEVEL"}, spellings(collect(tree.Root(), ast.KindMacroReference)))
}

func TestBuiltinMacro(t *testing.T) {
	src := "const char *where = __FILE__;\n"
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptDetailedPreprocessingRecord, "cc", "/src/a.c")
	expansions := collect(tree.Root(), ast.KindMacroExpansion)
	require.Len(t, expansions, 1)
	assert.True(t, expansions[0].Builtin())
}

func TestFunctionDeclarationsAndCalls(t *testing.T) {
	src := `static int helper(int);
static int helper(int x) { return x + 1; }
int unused_fn(const char *s, ...) { return 0; }
int main(void) {
	int local = helper(3);
	return local;
}
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptNone, "cc", "/src/a.c")
	root := tree.Root()

	decls := collect(root, ast.KindFunctionDecl)
	require.Len(t, decls, 4)
	assert.Equal(t, []string{"helper", "helper", "unused_fn", "main"}, spellings(decls))
	assert.Equal(t, "int (int)", decls[0].Type())
	assert.Equal(t, "int (int)", decls[1].Type())
	assert.Equal(t, "int (const char *, ...)", decls[2].Type())
	assert.Equal(t, "int (void)", decls[3].Type())
	assert.Equal(t, 1, decls[0].Location().Line)
	assert.Equal(t, 2, decls[1].Location().Line)

	calls := collect(root, ast.KindCallExpr)
	require.Len(t, calls, 1)
	ref, err := calls[0].Referenced()
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, ast.KindFunctionDecl, ref.Kind())
	assert.Equal(t, "helper", ref.Spelling())
	assert.Equal(t, "int (int)", ref.Type())
	assert.Equal(t, 2, ref.Location().Line)
}

func TestUnresolvedCall(t *testing.T) {
	src := "void run(void) { external_thing(1); }\n"
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptNone, "cc", "/src/a.c")
	calls := collect(tree.Root(), ast.KindCallExpr)
	require.Len(t, calls, 1)
	assert.Equal(t, "external_thing", calls[0].Spelling())
	ref, err := calls[0].Referenced()
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestSameArityOverloadsStayUnresolved(t *testing.T) {
	src := `void g(int x) {}
void g(double x) {}
void h(int x) {}
void h(int x, int y) {}
void run() { g(1); h(1, 2); }
`
	tree := parseUnit(t, map[string]string{"/src/a.cpp": src}, ast.OptNone, "c++", "/src/a.cpp")
	calls := collect(tree.Root(), ast.KindCallExpr)
	require.Len(t, calls, 2)

	// Argument types are unknown, so g(1) cannot pick between g(int) and g(double).
	ref, err := calls[0].Referenced()
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = calls[1].Referenced()
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "void (int, int)", ref.Type())
}

func TestGlobalVariableReferences(t *testing.T) {
	src := `int counter;
static int hidden = 5;
void bump(void) { counter++; }
void shadow(int hidden) { hidden = 1; }
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptNone, "cc", "/src/a.c")
	root := tree.Root()

	var globals []ast.Node
	for _, v := range collect(root, ast.KindVarDecl) {
		if v.FileScope() {
			globals = append(globals, v)
		}
	}
	assert.Equal(t, []string{"counter", "hidden"}, spellings(globals))
	assert.Equal(t, "int", globals[0].Type())

	var targets []string
	for _, r := range collect(root, ast.KindDeclRefExpr) {
		ref, err := r.Referenced()
		require.NoError(t, err)
		if ref != nil && ref.Kind() == ast.KindVarDecl {
			targets = append(targets, ref.Spelling())
		}
	}
	assert.Equal(t, []string{"counter"}, targets)
}

func TestSkipFunctionBodies(t *testing.T) {
	src := `#define ONE 1
int g(int);
int f(void) { return g(ONE); }
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src},
		ast.OptDetailedPreprocessingRecord|ast.OptSkipFunctionBodies, "cc", "/src/a.c")
	root := tree.Root()
	assert.Empty(t, collect(root, ast.KindCallExpr))
	assert.Equal(t, []string{"ONE"}, spellings(collect(root, ast.KindMacroExpansion)))
	assert.Len(t, collect(root, ast.KindFunctionDecl), 2)
}

func TestMacroBodyReferencesFunctions(t *testing.T) {
	src := `static void cleanup(void) {}
#define CLEANUP() cleanup()
void run(void) { CLEANUP(); }
`
	tree := parseUnit(t, map[string]string{"/src/a.c": src}, ast.OptDetailedPreprocessingRecord, "cc", "/src/a.c")
	calls := collect(tree.Root(), ast.KindCallExpr)
	require.Len(t, calls, 1)
	ref, err := calls[0].Referenced()
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "cleanup", ref.Spelling())
	assert.Equal(t, 3, calls[0].Location().Line)
}

func TestParseErrors(t *testing.T) {
	p := newTestProvider(t, map[string]string{"/src/notes.txt": "hello"})
	idx, err := p.NewIndex()
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Parse(context.Background(), []string{"cc", "/src/notes.txt"}, ast.OptNone)
	assert.ErrorIs(t, err, ast.ErrUnsupportedLanguage)

	_, err = idx.Parse(context.Background(), []string{"cc", "/src/missing.c"}, ast.OptNone)
	assert.Error(t, err)

	_, err = idx.Parse(context.Background(), nil, ast.OptNone)
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	p := newTestProvider(t, map[string]string{"/src/a.c": "int a;\n"})
	idx, err := p.NewIndex()
	require.NoError(t, err)
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.Parse(ctx, []string{"cc", "/src/a.c"}, ast.OptNone)
	assert.ErrorIs(t, err, context.Canceled)
}
