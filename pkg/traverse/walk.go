// Package traverse walks a translation unit's tree and feeds every node to
// a set of visitors.
package traverse

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/panbanda/ccdead/pkg/ast"
)

// Visitor receives every node of a tree.
type Visitor interface {
	Visit(node ast.Node) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(node ast.Node) error

func (f VisitorFunc) Visit(node ast.Node) error {
	return f(node)
}

type named interface {
	Name() string
}

// Stats summarizes one walk.
type Stats struct {
	Nodes     int
	Recovered int
}

// Add accumulates another walk's counts.
func (s *Stats) Add(o Stats) {
	s.Nodes += o.Nodes
	s.Recovered += o.Recovered
}

// Walk visits root and its descendants depth-first in pre-order. Every
// visitor sees a node before any of its children, children in order. Query
// errors from a visitor are logged and the walk continues; any other error
// stops the walk and is returned.
//
// ctx is checked once before the walk starts, so cancellation takes effect
// between translation units.
func Walk(ctx context.Context, root ast.Node, log zerolog.Logger, visitors ...Visitor) (Stats, error) {
	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if root == nil {
		return stats, nil
	}
	err := walk(root, &stats, log, visitors)
	return stats, err
}

func walk(node ast.Node, stats *Stats, log zerolog.Logger, visitors []Visitor) error {
	stats.Nodes++
	for _, v := range visitors {
		if err := v.Visit(node); err != nil {
			if !ast.IsQueryError(err) {
				return err
			}
			stats.Recovered++
			ev := log.Warn().Err(err).
				Stringer("kind", node.Kind()).
				Str("spelling", node.Spelling()).
				Stringer("location", node.Location())
			if n, ok := v.(named); ok {
				ev = ev.Str("visitor", n.Name())
			}
			ev.Msg("recovered from node query error")
		}
	}
	for _, child := range node.Children() {
		if err := walk(child, stats, log, visitors); err != nil {
			return err
		}
	}
	return nil
}
