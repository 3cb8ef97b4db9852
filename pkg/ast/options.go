package ast

import "strings"

// ParseOptions is a bitset passed verbatim to the provider for each parse.
// Values follow libclang's CXTranslationUnit_Flags so that option sets read
// the same regardless of backend.
type ParseOptions uint32

const (
	OptNone ParseOptions = 0x0

	// OptDetailedPreprocessingRecord asks for macro definition and expansion nodes.
	OptDetailedPreprocessingRecord ParseOptions = 0x01

	OptIncomplete ParseOptions = 0x02

	// OptSkipFunctionBodies drops statement-level nodes inside function bodies.
	// Macro expansions inside bodies are still reported.
	OptSkipFunctionBodies ParseOptions = 0x40

	// OptKeepGoing continues past fatal parse errors.
	OptKeepGoing ParseOptions = 0x200

	OptSingleFileParse ParseOptions = 0x400
)

// restrictive options remove information; they only survive a combine when
// every participant asked for them.
const restrictive = OptSkipFunctionBodies | OptSingleFileParse

// Has reports whether all bits in flag are set.
func (o ParseOptions) Has(flag ParseOptions) bool {
	return o&flag == flag
}

func (o ParseOptions) String() string {
	if o == OptNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag ParseOptions
		name string
	}{
		{OptDetailedPreprocessingRecord, "detailed-preprocessing-record"},
		{OptIncomplete, "incomplete"},
		{OptSkipFunctionBodies, "skip-function-bodies"},
		{OptKeepGoing, "keep-going"},
		{OptSingleFileParse, "single-file-parse"},
	} {
		if o.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// CombineOptions merges the options of several analyses sharing one parse.
func CombineOptions(opts ...ParseOptions) ParseOptions {
	if len(opts) == 0 {
		return OptNone
	}
	var additive ParseOptions
	strict := restrictive
	for _, o := range opts {
		additive |= o &^ restrictive
		strict &= o
	}
	return additive | strict
}
