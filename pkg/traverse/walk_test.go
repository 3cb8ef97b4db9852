package traverse

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/ccdead/pkg/ast"
)

type fakeNode struct {
	name     string
	kind     ast.Kind
	children []ast.Node
}

func (n *fakeNode) Kind() ast.Kind                { return n.kind }
func (n *fakeNode) Spelling() string              { return n.name }
func (n *fakeNode) Location() ast.Location        { return ast.Location{} }
func (n *fakeNode) Type() string                  { return "" }
func (n *fakeNode) Definition() (ast.Node, error) { return nil, nil }
func (n *fakeNode) Referenced() (ast.Node, error) { return nil, nil }
func (n *fakeNode) Builtin() bool                 { return false }
func (n *fakeNode) FileScope() bool               { return false }
func (n *fakeNode) Children() []ast.Node          { return n.children }

func leaf(name string) *fakeNode { return &fakeNode{name: name, kind: ast.KindOther} }

func tree(name string, children ...ast.Node) *fakeNode {
	return &fakeNode{name: name, kind: ast.KindOther, children: children}
}

// root
// ├── a
// │   ├── a1
// │   └── a2
// └── b
func sample() ast.Node {
	return tree("root", tree("a", leaf("a1"), leaf("a2")), leaf("b"))
}

type recorder struct {
	seen []string
}

func (r *recorder) Visit(n ast.Node) error {
	r.seen = append(r.seen, n.Spelling())
	return nil
}

func TestWalkPreOrder(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	stats, err := Walk(context.Background(), sample(), zerolog.Nop(), r1, r2)
	require.NoError(t, err)

	want := []string{"root", "a", "a1", "a2", "b"}
	assert.Equal(t, want, r1.seen)
	assert.Equal(t, want, r2.seen)
	assert.Equal(t, Stats{Nodes: 5}, stats)
}

func TestWalkVisitorOrderPerNode(t *testing.T) {
	var order []string
	first := VisitorFunc(func(n ast.Node) error { order = append(order, "1:"+n.Spelling()); return nil })
	second := VisitorFunc(func(n ast.Node) error { order = append(order, "2:"+n.Spelling()); return nil })

	_, err := Walk(context.Background(), tree("r", leaf("c")), zerolog.Nop(), first, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:r", "2:r", "1:c", "2:c"}, order)
}

type namedVisitor struct{ VisitorFunc }

func (namedVisitor) Name() string { return "probe" }

func TestWalkRecoversQueryErrors(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	r := &recorder{}
	failing := namedVisitor{VisitorFunc(func(n ast.Node) error {
		if n.Spelling() == "a" {
			return &ast.QueryError{Kind: n.Kind(), Query: "definition", Err: errors.New("bad node")}
		}
		return nil
	})}

	stats, err := Walk(context.Background(), sample(), log, failing, r)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Nodes)
	assert.Equal(t, 1, stats.Recovered)
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b"}, r.seen)
	assert.Contains(t, buf.String(), `"visitor":"probe"`)
	assert.Contains(t, buf.String(), `"spelling":"a"`)
}

func TestWalkAbortsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{}
	failing := VisitorFunc(func(n ast.Node) error {
		if n.Spelling() == "a1" {
			return boom
		}
		return nil
	})

	stats, err := Walk(context.Background(), sample(), zerolog.Nop(), failing, r)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, []string{"root", "a"}, r.seen)
}

func TestWalkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &recorder{}
	_, err := Walk(ctx, sample(), zerolog.Nop(), r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.seen)
}

func TestWalkNilRoot(t *testing.T) {
	stats, err := Walk(context.Background(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
}

func TestStatsAdd(t *testing.T) {
	s := Stats{Nodes: 2, Recovered: 1}
	s.Add(Stats{Nodes: 3, Recovered: 2})
	assert.Equal(t, Stats{Nodes: 5, Recovered: 3}, s)
}
