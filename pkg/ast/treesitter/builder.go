package treesitter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/parser"
)

// builder maps the tree-sitter trees of one translation unit, and of every
// header it includes, onto provider nodes while tracking preprocessor state.
type builder struct {
	ctx    context.Context
	fs     afero.Fs
	parser *parser.Parser
	log    zerolog.Logger
	cfg    Options
	opts   ast.ParseOptions
	flags  compileFlags
	lang   parser.Language
	macros *macroTable
	unit   *unit

	// current file
	path string
	src  []byte

	once       map[string]bool
	depth      int
	namespaces []string
	classes    []string
	scopes     []map[string]bool
	inBody     bool
	inError    int
	noRefs     int
	template   int
	quiet      int
	evalDepth  int
	pending    []ast.Node
}

func newBuilder(ctx context.Context, p *parser.Parser, cfg Options, flags compileFlags, opts ast.ParseOptions) *builder {
	return &builder{
		ctx:    ctx,
		fs:     cfg.Fs,
		parser: p,
		log:    cfg.Logger,
		cfg:    cfg,
		opts:   opts,
		flags:  flags,
		lang:   flags.lang,
		macros: newMacroTable(flags.lang, flags.defines),
		unit:   newUnit(),
		once:   make(map[string]bool),
	}
}

func (b *builder) detailed() bool {
	return b.opts.Has(ast.OptDetailedPreprocessingRecord)
}

// parseFile maps every top-level item of path in the current preprocessor
// state.
func (b *builder) parseFile(path string) ([]ast.Node, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if b.once[path] {
		return nil, nil
	}

	src, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	result, err := b.parser.Parse(b.ctx, src, b.lang, path)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	prevPath, prevSrc := b.path, b.src
	b.path, b.src = path, src
	b.depth++
	defer func() {
		b.path, b.src = prevPath, prevSrc
		b.depth--
	}()

	return b.visitChildren(result.Tree.RootNode()), nil
}

func (b *builder) loc(n *sitter.Node) ast.Location {
	line, col := parser.Position(n)
	return ast.Location{File: b.path, Line: line, Column: col}
}

func (b *builder) text(n *sitter.Node) string {
	return parser.GetNodeText(n, b.src)
}

// visit dispatches on the current mode: file-scope items or statements.
func (b *builder) visit(n *sitter.Node) []ast.Node {
	if b.inBody {
		return b.expr(n)
	}
	return b.item(n)
}

func (b *builder) visitChildren(n *sitter.Node) []ast.Node {
	if n == nil {
		return nil
	}
	var out []ast.Node
	for i := range int(n.NamedChildCount()) {
		out = append(out, b.visit(n.NamedChild(i))...)
	}
	return out
}

func (b *builder) exprChildren(n *sitter.Node) []ast.Node {
	if n == nil {
		return nil
	}
	var out []ast.Node
	for i := range int(n.NamedChildCount()) {
		out = append(out, b.expr(n.NamedChild(i))...)
	}
	return out
}

// macrosIn maps n looking only for macro uses.
func (b *builder) macrosIn(n *sitter.Node) []ast.Node {
	if n == nil {
		return nil
	}
	b.noRefs++
	defer func() { b.noRefs-- }()
	return b.expr(n)
}

func (b *builder) item(n *sitter.Node) []ast.Node {
	if out, ok := b.directive(n); ok {
		return out
	}
	switch n.Type() {
	case "comment":
		return nil
	case "function_definition":
		return b.functionDefinition(n)
	case "declaration":
		return b.declaration(n)
	case "field_declaration":
		return b.fieldDeclaration(n)
	case "namespace_definition":
		return b.namespace(n)
	case "linkage_specification":
		body := n.ChildByFieldName("body")
		if body == nil {
			return nil
		}
		return []ast.Node{&node{kind: ast.KindOther, spelling: "extern", loc: b.loc(n), children: b.item(body)}}
	case "template_declaration":
		b.template++
		defer func() { b.template-- }()
		var out []ast.Node
		for i := range int(n.NamedChildCount()) {
			c := n.NamedChild(i)
			if c.Type() == "template_parameter_list" {
				out = append(out, b.macrosIn(c)...)
				continue
			}
			out = append(out, b.item(c)...)
		}
		return out
	case "declaration_list", "field_declaration_list", "translation_unit":
		return b.visitChildren(n)
	case "struct_specifier", "class_specifier", "union_specifier", "enum_specifier":
		return b.typeSpecifier(n)
	case "type_definition", "alias_declaration", "using_declaration", "static_assert_declaration",
		"friend_declaration", "access_specifier", "concept_definition":
		return b.typeDefinition(n)
	case "ERROR":
		b.inError++
		defer func() { b.inError-- }()
		return b.visitChildren(n)
	default:
		return b.expr(n)
	}
}

func (b *builder) typeDefinition(n *sitter.Node) []ast.Node {
	var out []ast.Node
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		switch c.Type() {
		case "struct_specifier", "class_specifier", "union_specifier", "enum_specifier":
			out = append(out, b.typeSpecifier(c)...)
		default:
			out = append(out, b.macrosIn(c)...)
		}
	}
	return out
}

func (b *builder) namespace(n *sitter.Node) []ast.Node {
	name := ""
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = compact(b.text(nameNode))
	}
	if name != "" {
		b.namespaces = append(b.namespaces, name)
		defer func() { b.namespaces = b.namespaces[:len(b.namespaces)-1] }()
	}
	return []ast.Node{&node{
		kind:     ast.KindOther,
		spelling: name,
		loc:      b.loc(n),
		children: b.visitChildren(n.ChildByFieldName("body")),
	}}
}

// typeSpecifier maps struct, class, union and enum bodies. C++ records
// become classes whose member functions are methods.
func (b *builder) typeSpecifier(n *sitter.Node) []ast.Node {
	body := n.ChildByFieldName("body")
	nameNode := n.ChildByFieldName("name")
	var out []ast.Node
	if nameNode != nil {
		out = append(out, b.macrosIn(nameNode)...)
	}
	if body == nil {
		return out
	}

	if n.Type() == "enum_specifier" {
		for i := range int(body.NamedChildCount()) {
			e := body.NamedChild(i)
			if e.Type() != "enumerator" {
				out = append(out, b.visit(e)...)
				continue
			}
			out = append(out, b.macrosIn(e.ChildByFieldName("name"))...)
			if v := e.ChildByFieldName("value"); v != nil {
				out = append(out, b.expr(v)...)
			}
		}
		return out
	}

	if b.lang == parser.LangCPP && nameNode != nil && !b.inBody {
		name := compact(b.text(nameNode))
		b.unit.classes[b.qualify(name)] = true
		b.classes = append(b.classes, name)
		defer func() { b.classes = b.classes[:len(b.classes)-1] }()
	}

	prevBody := b.inBody
	b.inBody = false
	kids := b.visitChildren(body)
	b.inBody = prevBody
	if prevBody && b.opts.Has(ast.OptSkipFunctionBodies) {
		kids = onlyMacros(kids)
	}
	return append(out, &node{kind: ast.KindOther, spelling: b.text(nameNode), loc: b.loc(n), children: kids})
}

// scopeName is the enclosing namespace and class path.
func (b *builder) scopeName() string {
	parts := append(append([]string(nil), b.namespaces...), b.classes...)
	return strings.Join(parts, "::")
}

func (b *builder) qualify(name string) string {
	if strings.HasPrefix(name, "::") {
		return strings.TrimPrefix(name, "::")
	}
	if s := b.scopeName(); s != "" {
		return s + "::" + name
	}
	return name
}

func (b *builder) push(names ...string) {
	scope := make(map[string]bool, len(names))
	for _, n := range names {
		scope[n] = true
	}
	b.scopes = append(b.scopes, scope)
}

func (b *builder) pop() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

func (b *builder) declareLocal(name string) {
	if len(b.scopes) > 0 {
		b.scopes[len(b.scopes)-1][name] = true
	}
}

func (b *builder) shadowed(name string) bool {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if b.scopes[i][name] {
			return true
		}
	}
	return false
}

// typePart maps the declaration specifiers of a declaration.
func (b *builder) typePart(n *sitter.Node) []ast.Node {
	t := n.ChildByFieldName("type")
	if t == nil {
		return nil
	}
	switch t.Type() {
	case "struct_specifier", "class_specifier", "union_specifier", "enum_specifier":
		return b.typeSpecifier(t)
	default:
		return b.macrosIn(t)
	}
}

// declarators returns the declarator children of a declaration.
func declarators(n *sitter.Node) []*sitter.Node {
	t := n.ChildByFieldName("type")
	var out []*sitter.Node
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		if parser.SameNode(c, t) {
			continue
		}
		if isDeclarator(c.Type()) {
			out = append(out, c)
		}
	}
	return out
}

func isDeclarator(t string) bool {
	switch t {
	case "identifier", "field_identifier", "qualified_identifier", "operator_name", "destructor_name",
		"pointer_declarator", "reference_declarator", "function_declarator", "array_declarator",
		"init_declarator", "parenthesized_declarator", "attributed_declarator":
		return true
	}
	return false
}

// declaration maps a file-scope or namespace-scope declaration. Function
// declarators become prototypes, everything else a variable.
func (b *builder) declaration(n *sitter.Node) []ast.Node {
	if b.inBody {
		return b.localDeclaration(n)
	}
	out := b.typePart(n)
	base := b.baseType(n)
	external := hasStorageClass(n, b.src, "extern")
	typedef := hasStorageClass(n, b.src, "typedef")

	for _, d := range declarators(n) {
		desc := describe(d)
		if desc.name == nil {
			out = append(out, b.macrosIn(d)...)
			continue
		}
		if m, ok := b.macroAt(desc.name); ok {
			out = append(out, b.expandAt(b.loc(desc.name), m, map[string]bool{}, false)...)
			if desc.fn != nil {
				out = append(out, b.macrosIn(desc.fn.ChildByFieldName("parameters"))...)
			}
			continue
		}
		if desc.fn != nil && !desc.fnPtr {
			out = append(out, b.functionDecl(desc, base, nil)...)
			continue
		}

		out = append(out, b.macrosIn(declaratorOnly(d))...)
		if typedef {
			continue
		}
		name := compact(b.text(desc.name))
		v := &node{
			kind:       ast.KindVarDecl,
			spelling:   lastComponent(name),
			loc:        b.loc(desc.name),
			typ:        b.varType(base, desc),
			fileScope:  true,
			definition: !external || d.Type() == "init_declarator",
		}
		if value := d.ChildByFieldName("value"); d.Type() == "init_declarator" && value != nil {
			v.children = b.expr(value)
		}
		b.unit.addVar(b.qualify(name), v)
		out = append(out, v)
	}
	return out
}

// localDeclaration maps a block-scope declaration, recording the declared
// names so they shadow file-scope symbols.
func (b *builder) localDeclaration(n *sitter.Node) []ast.Node {
	out := b.typePart(n)
	base := b.baseType(n)
	for _, d := range declarators(n) {
		desc := describe(d)
		if desc.name == nil {
			out = append(out, b.macrosIn(d)...)
			continue
		}
		if m, ok := b.macroAt(desc.name); ok {
			out = append(out, b.expandAt(b.loc(desc.name), m, map[string]bool{}, false)...)
			continue
		}
		if desc.fn != nil && !desc.fnPtr {
			out = append(out, b.functionDecl(desc, base, nil)...)
			continue
		}

		name := b.text(desc.name)
		b.declareLocal(name)
		out = append(out, b.macrosIn(declaratorOnly(d))...)
		v := &node{
			kind:     ast.KindVarDecl,
			spelling: name,
			loc:      b.loc(desc.name),
			typ:      b.varType(base, desc),
		}
		if value := d.ChildByFieldName("value"); d.Type() == "init_declarator" && value != nil {
			v.children = b.expr(value)
		}
		out = append(out, v)
	}
	return out
}

// fieldDeclaration maps a member declaration inside a record body.
func (b *builder) fieldDeclaration(n *sitter.Node) []ast.Node {
	out := b.typePart(n)
	base := b.baseType(n)
	for _, d := range declarators(n) {
		desc := describe(d)
		if desc.name != nil && desc.fn != nil && !desc.fnPtr {
			if m, ok := b.macroAt(desc.name); ok {
				out = append(out, b.expandAt(b.loc(desc.name), m, map[string]bool{}, false)...)
				continue
			}
			out = append(out, b.functionDecl(desc, base, nil)...)
			continue
		}
		out = append(out, b.macrosIn(declaratorOnly(d))...)
	}
	if v := n.ChildByFieldName("default_value"); v != nil {
		out = append(out, b.expr(v)...)
	}
	return out
}

// declaratorOnly strips the initializer from an init_declarator.
func declaratorOnly(d *sitter.Node) *sitter.Node {
	if d.Type() == "init_declarator" {
		return d.ChildByFieldName("declarator")
	}
	return d
}

func (b *builder) functionDefinition(n *sitter.Node) []ast.Node {
	out := b.typePart(n)
	d := n.ChildByFieldName("declarator")
	if d == nil {
		return append(out, b.exprChildren(n)...)
	}
	desc := describe(d)
	if desc.name == nil || desc.fn == nil {
		return append(out, b.exprChildren(n)...)
	}
	return append(out, b.functionDecl(desc, b.baseType(n), n.ChildByFieldName("body"))...)
}

// functionDecl builds a function or method declaration. body is nil for
// prototypes.
func (b *builder) functionDecl(desc declarator, base string, body *sitter.Node) []ast.Node {
	name := compact(b.text(desc.name))
	simple := lastComponent(name)
	ret := joinType(base, desc.ptr)
	sig := b.signature(ret, desc.fn.ChildByFieldName("parameters"))

	fn := &node{
		kind:       ast.KindFunctionDecl,
		spelling:   simple,
		loc:        b.loc(desc.name),
		typ:        sig.typ,
		fileScope:  !b.inBody,
		params:     sig.count,
		variadic:   sig.variadic,
		definition: body != nil,
	}

	qualified := b.qualify(name)
	switch {
	case b.template > 0:
		fn.kind = ast.KindOther
	case len(b.classes) > 0 || desc.name.Type() == "destructor_name":
		fn.kind = ast.KindMethodDecl
	case simple != name && b.unit.classes[b.qualify(scopeOf(name))]:
		fn.kind = ast.KindMethodDecl
	case simple != name && b.unit.classes[strings.TrimPrefix(scopeOf(name), "::")]:
		fn.kind = ast.KindMethodDecl
	}
	if fn.kind == ast.KindFunctionDecl {
		if b.inBody {
			qualified = strings.Join(append(append([]string(nil), b.namespaces...), name), "::")
		}
		b.unit.addFunc(qualified, fn)
	}

	fn.children = append(fn.children, sig.nodes...)
	if body == nil {
		return []ast.Node{fn}
	}

	prevBody := b.inBody
	b.inBody = true
	b.push(sig.names...)
	kids := b.expr(body)
	b.pop()
	b.inBody = prevBody

	if b.opts.Has(ast.OptSkipFunctionBodies) {
		kids = onlyMacros(kids)
	}
	fn.children = append(fn.children, kids...)
	return []ast.Node{fn}
}

// onlyMacros prunes statement-level nodes, keeping preprocessor nodes.
func onlyMacros(nodes []ast.Node) []ast.Node {
	var out []ast.Node
	for _, n := range nodes {
		switch n.Kind() {
		case ast.KindMacroExpansion, ast.KindMacroReference, ast.KindMacroDefinition, ast.KindInclusionDirective:
			if nn, ok := n.(*node); ok {
				nn.children = onlyMacros(nn.children)
			}
			out = append(out, n)
		default:
			out = append(out, onlyMacros(n.Children())...)
		}
	}
	return out
}

// expr maps statements and expressions inside function bodies and
// initializers.
func (b *builder) expr(n *sitter.Node) []ast.Node {
	if n == nil {
		return nil
	}
	if out, ok := b.directive(n); ok {
		return out
	}
	switch n.Type() {
	case "comment", "string_literal", "raw_string_literal", "char_literal", "number_literal",
		"system_lib_string", "escape_sequence", "string_content", "true", "false", "null", "nullptr":
		return nil
	case "identifier":
		return b.identifier(n, true)
	case "type_identifier", "field_identifier", "namespace_identifier", "statement_identifier", "primitive_type":
		return b.identifier(n, false)
	case "qualified_identifier":
		if b.noRefs > 0 {
			return b.exprChildren(n)
		}
		name := compact(b.text(n))
		return []ast.Node{b.reference(b.loc(n), lastComponent(name), name, false, -1)}
	case "call_expression":
		return b.callExpr(n)
	case "field_expression":
		out := b.expr(n.ChildByFieldName("argument"))
		return append(out, b.identifier(n.ChildByFieldName("field"), false)...)
	case "declaration":
		return b.localDeclaration(n)
	case "function_definition":
		return b.functionDefinition(n)
	case "struct_specifier", "class_specifier", "union_specifier", "enum_specifier":
		return b.typeSpecifier(n)
	case "enumerator":
		out := b.macrosIn(n.ChildByFieldName("name"))
		return append(out, b.expr(n.ChildByFieldName("value"))...)
	case "compound_statement", "for_statement", "for_range_loop", "lambda_expression", "catch_clause":
		b.push()
		defer b.pop()
		return b.exprChildren(n)
	case "parameter_declaration", "optional_parameter_declaration":
		out := b.typePart(n)
		if d := n.ChildByFieldName("declarator"); d != nil {
			if desc := describe(d); desc.name != nil {
				b.declareLocal(b.text(desc.name))
			}
			out = append(out, b.macrosIn(declaratorOnly(d))...)
		}
		return append(out, b.expr(n.ChildByFieldName("default_value"))...)
	case "ERROR":
		b.inError++
		defer func() { b.inError-- }()
		return b.exprChildren(n)
	default:
		return b.exprChildren(n)
	}
}

// macroAt reports the macro n expands, if any. A function-like macro only
// expands when followed by an argument list.
func (b *builder) macroAt(n *sitter.Node) (*macro, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Type() {
	case "identifier", "type_identifier", "field_identifier", "namespace_identifier", "statement_identifier", "primitive_type":
	default:
		return nil, false
	}
	m, ok := b.macros.lookup(b.text(n))
	if !ok {
		return nil, false
	}
	if m.function && !b.followedByParen(n) {
		return nil, false
	}
	return m, true
}

func (b *builder) followedByParen(n *sitter.Node) bool {
	for i := int(n.EndByte()); i < len(b.src); i++ {
		switch b.src[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '(':
			return true
		default:
			return false
		}
	}
	return false
}

func (b *builder) identifier(n *sitter.Node, ref bool) []ast.Node {
	if n == nil {
		return nil
	}
	if m, ok := b.macroAt(n); ok {
		return b.expandAt(b.loc(n), m, map[string]bool{}, b.noRefs == 0)
	}
	name := b.text(n)
	if !ref || b.noRefs > 0 || b.shadowed(name) || isKeyword(name) {
		return nil
	}
	return []ast.Node{b.reference(b.loc(n), name, name, false, -1)}
}

// reference builds a lazily resolved call or declaration reference.
func (b *builder) reference(loc ast.Location, spelling, target string, call bool, argc int) *node {
	ref := &node{
		kind:     ast.KindDeclRefExpr,
		spelling: spelling,
		target:   target,
		loc:      loc,
		unit:     b.unit,
		scope:    strings.Join(b.namespaces, "::"),
		argc:     argc,
		inError:  b.inError > 0,
	}
	if !call {
		return ref
	}
	ref.argc = -1
	return &node{
		kind:     ast.KindCallExpr,
		spelling: spelling,
		target:   target,
		loc:      loc,
		unit:     b.unit,
		scope:    ref.scope,
		argc:     argc,
		inError:  ref.inError,
		children: []ast.Node{ref},
	}
}

func (b *builder) callExpr(n *sitter.Node) []ast.Node {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	argc := countArgs(args)
	if fn == nil {
		return b.exprChildren(n)
	}

	if m, ok := b.macroAt(fn); ok {
		out := b.expandAt(b.loc(fn), m, map[string]bool{}, b.noRefs == 0)
		return append(out, b.expr(args)...)
	}
	if b.noRefs > 0 {
		return append(b.expr(fn), b.expr(args)...)
	}

	switch fn.Type() {
	case "identifier":
		name := b.text(fn)
		if b.shadowed(name) || isKeyword(name) {
			return b.expr(args)
		}
		call := b.reference(b.loc(fn), name, name, true, argc)
		call.children = append(call.children, b.expr(args)...)
		return []ast.Node{call}
	case "qualified_identifier":
		name := compact(b.text(fn))
		call := b.reference(b.loc(fn), lastComponent(name), name, true, argc)
		call.children = append(call.children, b.expr(args)...)
		return []ast.Node{call}
	case "template_function":
		nameNode := fn.ChildByFieldName("name")
		name := compact(b.text(nameNode))
		call := b.reference(b.loc(fn), lastComponent(name), name, true, argc)
		call.children = append(call.children, b.macrosIn(fn.ChildByFieldName("arguments"))...)
		call.children = append(call.children, b.expr(args)...)
		return []ast.Node{call}
	case "field_expression":
		field := fn.ChildByFieldName("field")
		member := &node{
			kind:     ast.KindMemberCallExpr,
			spelling: b.text(field),
			loc:      b.loc(fn),
			argc:     argc,
		}
		member.children = append(b.expr(fn.ChildByFieldName("argument")), b.expr(args)...)
		return []ast.Node{member}
	default:
		// Calls through function pointers or other expressions name no
		// declaration.
		call := &node{
			kind:     ast.KindCallExpr,
			loc:      b.loc(n),
			argc:     argc,
			resolved: true,
			inError:  b.inError > 0,
		}
		call.children = append(b.expr(fn), b.expr(args)...)
		return []ast.Node{call}
	}
}

func countArgs(args *sitter.Node) int {
	if args == nil {
		return 0
	}
	count := 0
	for i := range int(args.NamedChildCount()) {
		if args.NamedChild(i).Type() != "comment" {
			count++
		}
	}
	return count
}

// expandAt records one expansion of m. Macros named in the body are
// expanded as nested expansions; with refs set, functions and variables
// named in the body become references at the expansion site.
func (b *builder) expandAt(loc ast.Location, m *macro, active map[string]bool, refs bool) []ast.Node {
	var kids []ast.Node
	if !m.builtin && !active[m.name] {
		active[m.name] = true
		params := make(map[string]bool, len(m.params))
		for _, p := range m.params {
			params[p] = true
		}
		for _, tok := range identifiers(m.body) {
			if tok.stringy || params[tok.text] || tok.text == "__VA_ARGS__" || tok.text == "defined" {
				continue
			}
			if inner, ok := b.macros.lookup(tok.text); ok {
				if inner.function && !tok.call {
					continue
				}
				kids = append(kids, b.expandAt(loc, inner, active, refs)...)
				continue
			}
			if !refs || b.shadowed(tok.text) || isKeyword(tok.text) {
				continue
			}
			kids = append(kids, b.reference(loc, tok.text, tok.text, tok.call, -1))
		}
		delete(active, m.name)
	}

	if !b.detailed() {
		return kids
	}
	return []ast.Node{&node{
		kind:     ast.KindMacroExpansion,
		spelling: m.name,
		loc:      loc,
		def:      m.node,
		builtin:  m.builtin,
		children: kids,
	}}
}

// macroRef records a conditional test of a defined macro.
func (b *builder) macroRef(loc ast.Location, m *macro) []ast.Node {
	if !b.detailed() {
		return nil
	}
	return []ast.Node{&node{
		kind:     ast.KindMacroReference,
		spelling: m.name,
		loc:      loc,
		def:      m.node,
		builtin:  m.builtin,
	}}
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func lastComponent(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

func scopeOf(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[:i]
	}
	return ""
}

var keywords = map[string]bool{
	"auto": true, "break": true, "case": true, "char": true, "const": true, "continue": true,
	"default": true, "do": true, "double": true, "else": true, "enum": true, "extern": true,
	"float": true, "for": true, "goto": true, "if": true, "inline": true, "int": true,
	"long": true, "register": true, "restrict": true, "return": true, "short": true,
	"signed": true, "sizeof": true, "static": true, "struct": true, "switch": true,
	"typedef": true, "union": true, "unsigned": true, "void": true, "volatile": true,
	"while": true, "_Alignas": true, "_Alignof": true, "_Atomic": true, "_Bool": true,
	"_Generic": true, "_Noreturn": true, "_Static_assert": true, "_Thread_local": true,
	"alignas": true, "alignof": true, "bool": true, "catch": true, "class": true,
	"constexpr": true, "decltype": true, "delete": true, "explicit": true, "false": true,
	"friend": true, "mutable": true, "namespace": true, "new": true, "noexcept": true,
	"nullptr": true, "operator": true, "private": true, "protected": true, "public": true,
	"static_assert": true, "static_cast": true, "dynamic_cast": true, "reinterpret_cast": true,
	"const_cast": true, "template": true, "this": true, "throw": true, "true": true,
	"try": true, "typeid": true, "typename": true, "using": true, "virtual": true,
	"typeof": true, "__typeof__": true, "__attribute__": true, "__declspec": true,
	"__extension__": true, "__asm__": true, "asm": true, "NULL": true,
}

func isKeyword(name string) bool {
	return keywords[name] || strings.HasPrefix(name, "__builtin_")
}
