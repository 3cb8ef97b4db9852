package analyzer

import "strings"

// DefaultExcludedPrefixes cover standard system and framework install
// locations.
var DefaultExcludedPrefixes = []string{
	"/usr/include",
	"/usr/lib",
	"/usr/local/include",
	"/usr/local/lib",
	"/opt/homebrew",
	"/Library/Developer",
	"/Applications/Xcode.app",
	"/System/Library",
}

// PathFilter drops facts located under excluded path prefixes.
type PathFilter struct {
	prefixes []string
}

// NewPathFilter builds a filter. A nil prefixes slice selects the defaults;
// an empty non-nil slice excludes nothing.
func NewPathFilter(prefixes []string) *PathFilter {
	if prefixes == nil {
		prefixes = DefaultExcludedPrefixes
	}
	var kept []string
	for _, p := range prefixes {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return &PathFilter{prefixes: kept}
}

// Excluded reports whether path starts with any excluded prefix.
func (f *PathFilter) Excluded(path string) bool {
	if f == nil {
		return false
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (f *PathFilter) Prefixes() []string {
	return append([]string(nil), f.prefixes...)
}
