package treesitter

import (
	"path/filepath"
	"strings"

	"github.com/panbanda/ccdead/pkg/parser"
)

// define is a -D or -U flag, kept in command-line order.
type define struct {
	name  string
	value string
	undef bool
}

// compileFlags is the subset of a compiler argument vector the
// preprocessor cares about.
type compileFlags struct {
	file          string
	dir           string
	quoteDirs     []string
	includeDirs   []string
	systemDirs    []string
	forceIncludes []string
	defines       []define
	lang          parser.Language
}

// flags taking a separate value when not joined.
var separateValue = map[string]bool{
	"-o": true, "-MF": true, "-MT": true, "-MQ": true, "-arch": true,
	"-target": true, "-isysroot": true, "-Xclang": true, "-idirafter": true,
	"-imacros": true, "--sysroot": true,
}

func parseFlags(args []string) compileFlags {
	var f compileFlags
	if len(args) == 0 {
		return f
	}
	f.file = args[len(args)-1]
	f.dir = filepath.Dir(f.file)

	// args[0] is the compiler, the last element the source file.
	rest := args[1 : len(args)-1]
	if len(args) == 1 {
		rest = nil
	}
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		value := func(prefix string) (string, bool) {
			if arg == prefix {
				if i+1 < len(rest) {
					i++
					return rest[i], true
				}
				return "", false
			}
			if strings.HasPrefix(arg, prefix) {
				return strings.TrimPrefix(arg, prefix), true
			}
			return "", false
		}

		switch {
		case strings.HasPrefix(arg, "-iquote"):
			if v, ok := value("-iquote"); ok {
				f.quoteDirs = append(f.quoteDirs, v)
			}
		case strings.HasPrefix(arg, "-isystem"):
			if v, ok := value("-isystem"); ok {
				f.systemDirs = append(f.systemDirs, v)
			}
		case strings.HasPrefix(arg, "-include"):
			if v, ok := value("-include"); ok {
				f.forceIncludes = append(f.forceIncludes, v)
			}
		case strings.HasPrefix(arg, "-I"):
			if v, ok := value("-I"); ok {
				f.includeDirs = append(f.includeDirs, v)
			}
		case strings.HasPrefix(arg, "-D"):
			if v, ok := value("-D"); ok {
				name, val, found := strings.Cut(v, "=")
				if !found {
					val = "1"
				}
				f.defines = append(f.defines, define{name: name, value: val})
			}
		case strings.HasPrefix(arg, "-U"):
			if v, ok := value("-U"); ok {
				f.defines = append(f.defines, define{name: v, undef: true})
			}
		case strings.HasPrefix(arg, "-x"):
			if v, ok := value("-x"); ok {
				if lang := parser.LanguageFromFlag(v); lang != parser.LangUnknown {
					f.lang = lang
				}
			}
		case strings.HasPrefix(arg, "-std="):
			if f.lang == "" {
				if lang := parser.LanguageFromFlag(strings.TrimPrefix(arg, "-std=")); lang != parser.LangUnknown {
					f.lang = lang
				}
			}
		case separateValue[arg]:
			i++
		}
	}

	if f.lang == "" || f.lang == parser.LangUnknown {
		f.lang = parser.DetectLanguage(f.file)
		if f.lang == parser.LangUnknown && len(args) > 1 && strings.Contains(filepath.Base(args[0]), "++") {
			f.lang = parser.LangCPP
		}
	}
	return f
}
