package treesitter

import (
	"path/filepath"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/parser"
)

const maxEvalDepth = 32

// directive handles preprocessor nodes. Only the active branch of a
// conditional is mapped.
func (b *builder) directive(n *sitter.Node) ([]ast.Node, bool) {
	switch n.Type() {
	case "preproc_include":
		return b.include(n), true
	case "preproc_def":
		return b.defineMacro(n, false), true
	case "preproc_function_def":
		return b.defineMacro(n, true), true
	case "preproc_call":
		b.call(n)
		return nil, true
	case "preproc_ifdef", "preproc_elifdef":
		return b.ifdef(n), true
	case "preproc_if", "preproc_elif":
		return b.ifCondition(n), true
	case "preproc_else":
		return b.branch(n, nil, nil), true
	}
	return nil, false
}

func (b *builder) defineMacro(n *sitter.Node, function bool) []ast.Node {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	m := &macro{name: b.text(nameNode), function: function}
	if value := n.ChildByFieldName("value"); value != nil {
		m.body = strings.TrimSpace(b.text(value))
	}
	if function {
		if params := n.ChildByFieldName("parameters"); params != nil {
			for i := range int(params.NamedChildCount()) {
				if p := params.NamedChild(i); p.Type() == "identifier" {
					m.params = append(m.params, b.text(p))
				}
			}
		}
	}
	m.node = &node{
		kind:     ast.KindMacroDefinition,
		spelling: m.name,
		loc:      b.loc(nameNode),
	}
	b.macros.define(m)

	if !b.detailed() {
		return nil
	}
	return []ast.Node{m.node}
}

// call handles #undef and #pragma once; other directives are ignored.
func (b *builder) call(n *sitter.Node) {
	directive := strings.TrimSpace(b.text(n.ChildByFieldName("directive")))
	arg := strings.TrimSpace(b.text(n.ChildByFieldName("argument")))
	switch directive {
	case "#undef":
		if fields := strings.Fields(arg); len(fields) > 0 {
			b.macros.undefine(fields[0])
		}
	case "#pragma":
		if arg == "once" {
			b.once[b.path] = true
		}
	case "#error":
		b.log.Debug().Str("file", b.path).Str("message", arg).Msg("#error in active region")
	}
}

func (b *builder) ifdef(n *sitter.Node) []ast.Node {
	directive := ""
	if n.ChildCount() > 0 {
		directive = strings.TrimSpace(n.Child(0).Type())
	}
	nameNode := n.ChildByFieldName("name")
	var out []ast.Node
	defined := false
	if nameNode != nil {
		if m, ok := b.macros.lookup(b.text(nameNode)); ok {
			defined = true
			out = append(out, b.macroRef(b.loc(nameNode), m)...)
		}
	}

	active := defined
	if strings.HasSuffix(directive, "ndef") {
		active = !defined
	}
	return append(out, b.branch(n, nameNode, &active)...)
}

func (b *builder) ifCondition(n *sitter.Node) []ast.Node {
	cond := n.ChildByFieldName("condition")
	b.pending = nil
	value := b.eval(cond)
	out := b.pending
	b.pending = nil

	active := value != 0
	return append(out, b.branch(n, cond, &active)...)
}

// branch maps the content of a conditional when active, otherwise its
// alternative. A nil active maps an #else unconditionally.
func (b *builder) branch(n, skip *sitter.Node, active *bool) []ast.Node {
	alt := n.ChildByFieldName("alternative")
	if active != nil && !*active {
		if alt == nil {
			return nil
		}
		out, _ := b.directive(alt)
		return out
	}

	var out []ast.Node
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		if (skip != nil && parser.SameNode(c, skip)) || (alt != nil && parser.SameNode(c, alt)) {
			continue
		}
		out = append(out, b.visit(c)...)
	}
	return out
}

func (b *builder) include(n *sitter.Node) []ast.Node {
	pathNode := n.ChildByFieldName("path")
	if pathNode == nil {
		return nil
	}
	spelled := b.text(pathNode)

	var out []ast.Node
	if b.detailed() {
		out = append(out, &node{kind: ast.KindInclusionDirective, spelling: spelled, loc: b.loc(n)})
	}
	if b.opts.Has(ast.OptSingleFileParse) {
		return out
	}

	var name string
	var angled bool
	switch pathNode.Type() {
	case "string_literal":
		name = strings.Trim(spelled, `"`)
	case "system_lib_string":
		name = strings.TrimSuffix(strings.TrimPrefix(spelled, "<"), ">")
		angled = true
	default:
		// computed includes are not followed
		return append(out, b.macrosIn(pathNode)...)
	}

	path, ok := b.resolveInclude(name, angled)
	if !ok {
		b.log.Debug().Str("file", b.path).Str("include", spelled).Msg("include not resolved")
		return out
	}
	if b.depth >= b.cfg.MaxIncludeDepth {
		b.log.Warn().Str("file", b.path).Str("include", spelled).Int("depth", b.depth).Msg("include depth exceeded")
		return out
	}

	items, err := b.parseFile(path)
	if err != nil {
		b.log.Debug().Err(err).Str("include", path).Msg("include skipped")
		return out
	}
	return append(out, items...)
}

// searchDirs lists include directories in lookup order.
func (b *builder) searchDirs(angled bool) []string {
	var dirs []string
	if !angled {
		dirs = append(dirs, filepath.Dir(b.path))
		dirs = append(dirs, b.flags.quoteDirs...)
	}
	dirs = append(dirs, b.flags.includeDirs...)
	dirs = append(dirs, b.flags.systemDirs...)
	if b.cfg.ParseSystemHeaders {
		dirs = append(dirs, b.cfg.SystemIncludeDirs...)
	}
	return dirs
}

func (b *builder) resolveInclude(name string, angled bool) (string, bool) {
	if filepath.IsAbs(name) {
		ok, _ := afero.Exists(b.fs, name)
		return name, ok
	}
	for _, dir := range b.searchDirs(angled) {
		candidate := filepath.Join(dir, name)
		if ok, _ := afero.Exists(b.fs, candidate); ok {
			return candidate, true
		}
	}
	return "", false
}

// eval computes the value of a #if condition. Macros it names are
// recorded in b.pending.
func (b *builder) eval(n *sitter.Node) int64 {
	if n == nil {
		return 0
	}
	switch n.Type() {
	case "number_literal":
		return parseNumber(b.text(n))
	case "char_literal":
		return charValue(b.text(n))
	case "true":
		return 1
	case "false":
		return 0
	case "identifier":
		m, ok := b.macros.lookup(b.text(n))
		if !ok {
			return 0
		}
		b.emit(b.expandAt(b.loc(n), m, map[string]bool{}, false))
		if m.builtin || m.function {
			return 0
		}
		return b.evalText(m.body)
	case "preproc_defined":
		for i := range int(n.NamedChildCount()) {
			c := n.NamedChild(i)
			if c.Type() != "identifier" {
				continue
			}
			if m, ok := b.macros.lookup(b.text(c)); ok {
				b.emit(b.macroRef(b.loc(c), m))
				return 1
			}
			return 0
		}
		return 0
	case "call_expression":
		return b.evalCall(n)
	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return 0
		}
		return b.eval(n.NamedChild(0))
	case "unary_expression":
		v := b.eval(n.ChildByFieldName("argument"))
		switch b.operator(n) {
		case "!":
			return boolInt(v == 0)
		case "-":
			return -v
		case "~":
			return ^v
		default:
			return v
		}
	case "binary_expression":
		l := b.eval(n.ChildByFieldName("left"))
		r := b.eval(n.ChildByFieldName("right"))
		return binary(b.operator(n), l, r)
	case "conditional_expression":
		c := b.eval(n.ChildByFieldName("condition"))
		t := b.eval(n.ChildByFieldName("consequence"))
		f := b.eval(n.ChildByFieldName("alternative"))
		if c != 0 {
			return t
		}
		return f
	default:
		return 0
	}
}

func (b *builder) operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	return ""
}

// evalCall handles function-like macros and __has_include in conditions.
func (b *builder) evalCall(n *sitter.Node) int64 {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil {
		return 0
	}
	name := b.text(fn)
	if m, ok := b.macros.lookup(name); ok {
		b.emit(b.expandAt(b.loc(fn), m, map[string]bool{}, false))
	}
	if (name == "__has_include" || name == "__has_include_next") && args != nil && args.NamedChildCount() > 0 {
		arg := args.NamedChild(0)
		spelled := b.text(arg)
		angled := strings.HasPrefix(spelled, "<")
		target := strings.Trim(spelled, `"<>`)
		if _, ok := b.resolveInclude(target, angled); ok {
			return 1
		}
	}
	return 0
}

// evalText evaluates a macro body by parsing it as a #if condition.
func (b *builder) evalText(body string) int64 {
	if body == "" || b.evalDepth >= maxEvalDepth {
		return 0
	}
	src := []byte("#if " + body + "\n#endif\n")
	result, err := b.parser.Parse(b.ctx, src, b.lang, b.path)
	if err != nil {
		return 0
	}
	defer result.Close()

	root := result.Tree.RootNode()
	if root.NamedChildCount() == 0 {
		return 0
	}
	directive := root.NamedChild(0)
	if directive.Type() != "preproc_if" {
		return 0
	}

	prevSrc := b.src
	b.src = src
	b.evalDepth++
	b.quiet++
	defer func() {
		b.src = prevSrc
		b.evalDepth--
		b.quiet--
	}()
	return b.eval(directive.ChildByFieldName("condition"))
}

func (b *builder) emit(nodes []ast.Node) {
	if b.quiet > 0 {
		return
	}
	b.pending = append(b.pending, nodes...)
}

func parseNumber(s string) int64 {
	s = strings.ReplaceAll(s, "'", "")
	s = strings.TrimRight(s, "uUlL")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return 0
		}
		return int64(u)
	}
	return v
}

func charValue(s string) int64 {
	s = strings.Trim(s, "'")
	if s == "" {
		return 0
	}
	if s[0] == '\\' && len(s) > 1 {
		switch s[1] {
		case 'n':
			return '\n'
		case 't':
			return '\t'
		case 'r':
			return '\r'
		case '0':
			return 0
		default:
			return int64(s[1])
		}
	}
	return int64(s[0])
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func binary(op string, l, r int64) int64 {
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return 0
		}
		return l / r
	case "%":
		if r == 0 {
			return 0
		}
		return l % r
	case "<<":
		return l << uint64(r&63)
	case ">>":
		return l >> uint64(r&63)
	case "<":
		return boolInt(l < r)
	case ">":
		return boolInt(l > r)
	case "<=":
		return boolInt(l <= r)
	case ">=":
		return boolInt(l >= r)
	case "==":
		return boolInt(l == r)
	case "!=":
		return boolInt(l != r)
	case "&":
		return l & r
	case "|":
		return l | r
	case "^":
		return l ^ r
	case "&&":
		return boolInt(l != 0 && r != 0)
	case "||":
		return boolInt(l != 0 || r != 0)
	default:
		return 0
	}
}
