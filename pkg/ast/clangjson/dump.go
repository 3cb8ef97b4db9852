package clangjson

import "path/filepath"

// dumpNode is a node from clang's -ast-dump=json output.
type dumpNode struct {
	ID    string      `json:"id"`
	Kind  string      `json:"kind"`
	Loc   loc         `json:"loc"`
	Range rangeStruct `json:"range"`
	Inner []*dumpNode `json:"inner,omitempty"`

	// Fields that matter depending on Kind.
	Name                 string      `json:"name,omitempty"`
	IsImplicit           bool        `json:"isImplicit,omitempty"`
	PreviousDecl         string      `json:"previousDecl,omitempty"`
	StorageClass         string      `json:"storageClass,omitempty"`
	Type                 *typeStruct `json:"type,omitempty"`
	ReferencedDecl       *dumpNode   `json:"referencedDecl,omitempty"`
	ReferencedMemberDecl string      `json:"referencedMemberDecl,omitempty"`
}

type typeStruct struct {
	QualType          string `json:"qualType,omitempty"`
	DesugaredQualType string `json:"desugaredQualType,omitempty"`
}

// canonical returns the type after expanding typedefs.
func (t *typeStruct) canonical() string {
	if t == nil {
		return ""
	}
	if t.DesugaredQualType != "" {
		return t.DesugaredQualType
	}
	return t.QualType
}

type rangeStruct struct {
	Begin *loc `json:"begin,omitempty"`
	End   *loc `json:"end,omitempty"`
}

type loc struct {
	File         string `json:"file,omitempty"`
	Line         int    `json:"line,omitempty"`
	Col          int    `json:"col,omitempty"`
	Offset       int    `json:"offset,omitempty"`
	TokLen       int    `json:"tokLen,omitempty"`
	SpellingLoc  *loc   `json:"spellingLoc,omitempty"`
	ExpansionLoc *loc   `json:"expansionLoc,omitempty"`
}

// expansion returns where a location lands after macro expansion.
func (l loc) expansion() loc {
	if l.ExpansionLoc != nil {
		return *l.ExpansionLoc
	}
	if l.SpellingLoc != nil {
		return *l.SpellingLoc
	}
	return l
}

type decompressCtx struct {
	file string
	line int
}

// decompress undoes the file and line elision of clang's JSON dumper,
// which only prints them when they change from the previous location.
func (l *loc) decompress(last *decompressCtx) {
	if l == nil {
		return
	}
	l.SpellingLoc.decompress(last)
	l.ExpansionLoc.decompress(last)
	if l.SpellingLoc != nil || l.ExpansionLoc != nil {
		return
	}
	if l.Col == 0 && l.Offset == 0 && l.File == "" && l.Line == 0 {
		// invalid location, e.g. an implicit declaration
		return
	}
	if l.File == "" {
		l.File = last.file
	} else {
		last.file = l.File
	}
	if l.Line == 0 {
		l.Line = last.line
	} else {
		last.line = l.Line
	}
}

// decompressLocs must run on the whole tree in document order right after
// decoding.
func (n *dumpNode) decompressLocs() {
	n.decompressLocsInternal(&decompressCtx{})
}

func (n *dumpNode) decompressLocsInternal(last *decompressCtx) {
	n.Loc.decompress(last)
	n.Range.Begin.decompress(last)
	n.Range.End.decompress(last)
	for _, child := range n.Inner {
		child.decompressLocsInternal(last)
	}
}

func (l loc) path() string {
	if l.File == "" {
		return ""
	}
	return filepath.Clean(l.File)
}
