package analyzer

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Set is an unordered collection of records. Duplicates collapse, so facts
// from a header parsed into several translation units count once.
type Set[T comparable] map[T]struct{}

func NewSet[T comparable]() Set[T] {
	return make(Set[T])
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Slice returns the members in unspecified order.
func (s Set[T]) Slice() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}

// Interner assigns dense uint32 ids to keys so key sets can be held in
// roaring bitmaps.
type Interner[K comparable] struct {
	ids  map[K]uint32
	keys []K
}

func NewInterner[K comparable]() *Interner[K] {
	return &Interner[K]{ids: make(map[K]uint32)}
}

// ID returns the id of k, assigning the next one if k is new.
func (in *Interner[K]) ID(k K) uint32 {
	if id, ok := in.ids[k]; ok {
		return id
	}
	id := uint32(len(in.keys))
	in.ids[k] = id
	in.keys = append(in.keys, k)
	return id
}

// Lookup returns the id of k without assigning one.
func (in *Interner[K]) Lookup(k K) (uint32, bool) {
	id, ok := in.ids[k]
	return id, ok
}

func (in *Interner[K]) Key(id uint32) K {
	return in.keys[id]
}

func (in *Interner[K]) Len() int {
	return len(in.keys)
}

// Difference returns the keys of decls that are not in refs, in first-seen
// order of decls. Duplicates in either input are ignored.
func Difference[K comparable](decls, refs []K) []K {
	in := NewInterner[K]()
	declared := roaring.New()
	for _, k := range decls {
		declared.Add(in.ID(k))
	}
	referenced := roaring.New()
	for _, k := range refs {
		if id, ok := in.Lookup(k); ok {
			referenced.Add(id)
		}
	}
	declared.AndNot(referenced)

	out := make([]K, 0, declared.GetCardinality())
	it := declared.Iterator()
	for it.HasNext() {
		out = append(out, in.Key(it.Next()))
	}
	return out
}
