package treesitter

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/ccdead/pkg/ast"
)

// declarator is a C declarator unwound from the outside in.
type declarator struct {
	name *sitter.Node
	// fn is the outermost function declarator, if any.
	fn *sitter.Node
	// ptr holds pointer and reference operators applied to the declared
	// type, or to the return type of a function.
	ptr string
	// fnPtr is set when a pointer applies to the function itself.
	fnPtr  bool
	arrays []*sitter.Node
}

func describe(d *sitter.Node) declarator {
	var out declarator
	for d != nil {
		switch d.Type() {
		case "pointer_declarator", "abstract_pointer_declarator":
			if out.fn != nil {
				out.fnPtr = true
			} else {
				out.ptr += "*"
			}
			d = d.ChildByFieldName("declarator")
		case "reference_declarator", "abstract_reference_declarator":
			op := "&"
			if d.ChildCount() > 0 && d.Child(0).Type() == "&&" {
				op = "&&"
			}
			if out.fn != nil {
				out.fnPtr = true
			} else {
				out.ptr += op
			}
			d = lastNamedChild(d)
		case "array_declarator", "abstract_array_declarator":
			out.arrays = append(out.arrays, d)
			d = d.ChildByFieldName("declarator")
		case "function_declarator", "abstract_function_declarator":
			if out.fn == nil {
				out.fn = d
			}
			d = d.ChildByFieldName("declarator")
		case "init_declarator":
			d = d.ChildByFieldName("declarator")
		case "parenthesized_declarator", "abstract_parenthesized_declarator", "attributed_declarator":
			d = firstDeclaratorChild(d)
		case "identifier", "field_identifier", "qualified_identifier", "operator_name",
			"destructor_name", "type_identifier", "template_function":
			out.name = d
			return out
		default:
			return out
		}
	}
	return out
}

func lastNamedChild(n *sitter.Node) *sitter.Node {
	if c := int(n.NamedChildCount()); c > 0 {
		return n.NamedChild(c - 1)
	}
	return nil
}

func firstDeclaratorChild(n *sitter.Node) *sitter.Node {
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		if c.Type() != "attribute_declaration" && c.Type() != "attribute_specifier" {
			return c
		}
	}
	return nil
}

// baseType spells the declaration specifiers of n: qualifiers first, then
// the type specifier, without storage classes.
func (b *builder) baseType(n *sitter.Node) string {
	t := n.ChildByFieldName("type")
	var quals []string
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		if c.Type() == "type_qualifier" {
			q := b.text(c)
			if q == "const" || q == "volatile" {
				quals = append(quals, q)
			}
		}
	}
	spec := ""
	if t != nil {
		switch t.Type() {
		case "struct_specifier", "class_specifier", "union_specifier", "enum_specifier":
			keyword := strings.TrimSuffix(t.Type(), "_specifier")
			if name := t.ChildByFieldName("name"); name != nil {
				spec = keyword + " " + compact(b.text(name))
			} else {
				spec = keyword + " (anonymous)"
			}
		default:
			spec = canonicalType(strings.Join(strings.Fields(b.text(t)), " "))
		}
	}
	return strings.Join(append(quals, spec), " ")
}

// canonicalType normalizes the spellings of sized integer types.
func canonicalType(s string) string {
	switch s {
	case "unsigned", "unsigned int", "int unsigned":
		return "unsigned int"
	case "signed", "signed int", "int signed":
		return "int"
	case "short int", "signed short", "signed short int", "short signed int":
		return "short"
	case "unsigned short int", "short unsigned", "short unsigned int":
		return "unsigned short"
	case "long int", "signed long", "signed long int", "long signed int":
		return "long"
	case "unsigned long int", "long unsigned", "long unsigned int":
		return "unsigned long"
	case "long long int", "signed long long", "signed long long int":
		return "long long"
	case "unsigned long long int", "long long unsigned", "long long unsigned int":
		return "unsigned long long"
	}
	return s
}

func joinType(base, ptr string) string {
	if ptr == "" {
		return base
	}
	return base + " " + ptr
}

func (b *builder) arraySuffix(arrays []*sitter.Node) string {
	var sb strings.Builder
	for _, a := range arrays {
		sb.WriteByte('[')
		if size := a.ChildByFieldName("size"); size != nil {
			sb.WriteString(compact(b.text(size)))
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (b *builder) varType(base string, desc declarator) string {
	t := joinType(base, desc.ptr)
	if desc.fnPtr && desc.fn != nil {
		sig := b.signature(t, desc.fn.ChildByFieldName("parameters"))
		ret, params, _ := strings.Cut(sig.typ, "(")
		return strings.TrimSpace(ret) + " (*)(" + params
	}
	if len(desc.arrays) > 0 {
		return t + " " + b.arraySuffix(desc.arrays)
	}
	return t
}

type signature struct {
	typ      string
	count    int
	variadic bool
	names    []string
	nodes    []ast.Node
}

// signature spells a function type as "ret (param, param)". Parameter
// arrays decay to pointers; names are dropped.
func (b *builder) signature(ret string, params *sitter.Node) signature {
	var sig signature
	var types []string
	if params != nil {
		for i := range int(params.ChildCount()) {
			p := params.Child(i)
			switch p.Type() {
			case "...", "variadic_parameter":
				sig.variadic = true
			case "parameter_declaration", "optional_parameter_declaration":
				sig.nodes = append(sig.nodes, b.typePart(p)...)
				base := b.baseType(p)
				d := p.ChildByFieldName("declarator")
				desc := describe(d)
				if desc.name != nil {
					sig.names = append(sig.names, b.text(desc.name))
				}
				if d != nil {
					sig.nodes = append(sig.nodes, b.macrosIn(declaratorOnly(d))...)
				}
				ptr := desc.ptr
				if len(desc.arrays) > 0 {
					ptr += "*"
				}
				t := joinType(base, ptr)
				if desc.fn != nil {
					inner := b.signature(t, desc.fn.ChildByFieldName("parameters"))
					r, rest, _ := strings.Cut(inner.typ, "(")
					t = strings.TrimSpace(r) + " (*)(" + rest
				}
				types = append(types, t)
				if v := p.ChildByFieldName("default_value"); v != nil {
					sig.nodes = append(sig.nodes, b.expr(v)...)
				}
			case "comment":
			default:
				if p.IsNamed() {
					sig.nodes = append(sig.nodes, b.macrosIn(p)...)
				}
			}
		}
	}

	sig.count = len(types)
	if sig.count == 1 && types[0] == "void" {
		sig.count = 0
	}
	if sig.variadic {
		types = append(types, "...")
	}

	sep := " "
	if strings.HasSuffix(ret, "*") || strings.HasSuffix(ret, "&") {
		sep = ""
	}
	sig.typ = ret + sep + "(" + strings.Join(types, ", ") + ")"
	return sig
}

// hasStorageClass reports whether n carries the given storage class.
func hasStorageClass(n *sitter.Node, src []byte, class string) bool {
	for i := range int(n.ChildCount()) {
		c := n.Child(i)
		switch c.Type() {
		case "storage_class_specifier", "type_qualifier":
			if strings.TrimSpace(string(src[c.StartByte():c.EndByte()])) == class {
				return true
			}
		case class:
			return true
		}
	}
	return false
}
