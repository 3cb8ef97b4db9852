package treesitter

import (
	"runtime"
	"strings"

	"github.com/panbanda/ccdead/pkg/ast"
	"github.com/panbanda/ccdead/pkg/parser"
)

// macro is one live #define. Its node is shared by every expansion that
// resolves to it.
type macro struct {
	name     string
	params   []string
	function bool
	body     string
	builtin  bool
	node     *node
}

// builtinMacros are expanded by the compiler itself and never have a
// definition site.
var builtinMacros = []string{
	"__FILE__", "__LINE__", "__DATE__", "__TIME__", "__TIMESTAMP__",
	"__COUNTER__", "__INCLUDE_LEVEL__", "__BASE_FILE__", "__FILE_NAME__",
	"_Pragma", "__has_include", "__has_include_next", "__has_feature",
	"__has_extension", "__has_builtin", "__has_attribute",
	"__has_cpp_attribute", "__has_c_attribute", "__has_declspec_attribute",
	"__is_identifier", "__has_warning",
}

// predefined returns compiler-predefined object-like macros. They carry
// no location, like macros defined with -D.
func predefined(lang parser.Language) map[string]string {
	m := map[string]string{
		"__STDC__":        "1",
		"__STDC_HOSTED__": "1",
		"__GNUC__":        "4",
		"__GNUC_MINOR__":  "2",
		"__clang__":       "1",
		"__CHAR_BIT__":    "8",
	}
	if lang == parser.LangCPP {
		m["__cplusplus"] = "201703L"
	} else {
		m["__STDC_VERSION__"] = "201710L"
	}

	switch runtime.GOOS {
	case "linux":
		m["__linux__"] = "1"
		m["__unix__"] = "1"
	case "darwin":
		m["__APPLE__"] = "1"
		m["__MACH__"] = "1"
	case "freebsd", "openbsd", "netbsd":
		m["__unix__"] = "1"
	case "windows":
		m["_WIN32"] = "1"
	}
	switch runtime.GOARCH {
	case "amd64":
		m["__x86_64__"] = "1"
		m["__LP64__"] = "1"
	case "arm64":
		m["__aarch64__"] = "1"
		m["__LP64__"] = "1"
	case "386":
		m["__i386__"] = "1"
	}
	return m
}

// macroTable holds the macros defined at the current point of one
// translation unit.
type macroTable struct {
	defs map[string]*macro
}

func newMacroTable(lang parser.Language, defines []define) *macroTable {
	t := &macroTable{defs: make(map[string]*macro)}
	for _, name := range builtinMacros {
		t.define(&macro{name: name, builtin: true})
	}
	for name, value := range predefined(lang) {
		t.define(&macro{name: name, body: value})
	}
	for _, d := range defines {
		if d.undef {
			t.undefine(d.name)
			continue
		}
		name, params, function := splitDefineName(d.name)
		t.define(&macro{name: name, params: params, function: function, body: d.value})
	}
	return t
}

// splitDefineName handles -D'NAME(a,b)=...'.
func splitDefineName(s string) (string, []string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return s, nil, false
	}
	var params []string
	for _, p := range strings.Split(s[open+1:len(s)-1], ",") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	return s[:open], params, true
}

func (t *macroTable) define(m *macro) {
	if m.node == nil {
		m.node = &node{
			kind:     ast.KindMacroDefinition,
			spelling: m.name,
			builtin:  m.builtin,
		}
	}
	t.defs[m.name] = m
}

func (t *macroTable) undefine(name string) {
	delete(t.defs, name)
}

func (t *macroTable) lookup(name string) (*macro, bool) {
	m, ok := t.defs[name]
	return m, ok
}

// token is an identifier found in a macro body.
type token struct {
	text    string
	call    bool // followed by '('
	stringy bool // operand of # or ##
}

// identifiers scans text for identifiers, skipping string and character
// literals and comments.
func identifiers(text string) []token {
	var out []token
	prevHash := false
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '"' || c == '\'':
			i = skipLiteral(text, i)
			prevHash = false
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			return out
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return out
			}
			i += end + 4
		case c == '#':
			prevHash = true
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			k := j
			for k < len(text) && (text[k] == ' ' || text[k] == '\t') {
				k++
			}
			pasted := k+1 < len(text) && text[k] == '#' && text[k+1] == '#'
			out = append(out, token{
				text:    text[i:j],
				call:    k < len(text) && text[k] == '(',
				stringy: prevHash || pasted,
			})
			prevHash = false
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(text) && (isIdentPart(text[j]) || text[j] == '.') {
				j++
			}
			i = j
			prevHash = false
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\\':
			i++
		default:
			prevHash = false
			i++
		}
	}
	return out
}

func skipLiteral(text string, i int) int {
	quote := text[i]
	i++
	for i < len(text) {
		switch text[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
