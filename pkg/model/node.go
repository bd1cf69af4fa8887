package model

import (
	"maps"

	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
)

// Ref points at another model node of the same session.
type Ref struct {
	ID string `json:"id"`
}

// Node mirrors the displayed state of one parameterized object inside one
// session. Props holds wire-ready values: scalars, lists, Ref and []Ref.
type Node struct {
	ID    string
	Type  string
	Props map[string]any

	source param.Parameterized
	obj    *param.Object
	graph  *depgraph.Graph

	toProp   map[string]string // parameter or computed name -> property
	toParam  map[string]string // property -> parameter or computed name
	children map[string][]*Node
	order    []string        // properties in declaration order
	inbound  map[string]bool // properties written only by the peer

	restructured bool
}

// Source returns the object this node mirrors.
func (n *Node) Source() param.Parameterized { return n.source }

// Object returns the parameter store behind the node.
func (n *Node) Object() *param.Object { return n.obj }

// Graph returns the dependency graph of the source, or nil.
func (n *Node) Graph() *depgraph.Graph { return n.graph }

// Property returns the model property a parameter or computed value maps to.
func (n *Node) Property(name string) (string, bool) {
	p, ok := n.toProp[name]
	return p, ok
}

// Parameter returns the parameter or computed name behind a property.
func (n *Node) Parameter(prop string) (string, bool) {
	p, ok := n.toParam[prop]
	return p, ok
}

// Exposed returns the parameter and computed names that map to properties,
// in declaration order.
func (n *Node) Exposed() []string {
	out := make([]string, 0, len(n.order))
	for _, prop := range n.order {
		out = append(out, n.toParam[prop])
	}
	return out
}

// Children returns the direct child nodes in property declaration order.
func (n *Node) Children() []*Node {
	var out []*Node
	for _, prop := range n.order {
		out = append(out, n.children[prop]...)
	}
	return out
}

// ChildIDs returns the ids of the nested models mirrored under prop.
func (n *Node) ChildIDs(prop string) []string {
	kids := n.children[prop]
	out := make([]string, len(kids))
	for i, k := range kids {
		out[i] = k.ID
	}
	return out
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Spec returns the flat wire form of this node alone.
func (n *Node) Spec() domain.ModelSpec {
	return domain.ModelSpec{ID: n.ID, Type: n.Type, Props: maps.Clone(n.Props)}
}

// Specs returns the specs of n and all its descendants, parents first.
func (n *Node) Specs() []domain.ModelSpec {
	var out []domain.ModelSpec
	n.Walk(func(x *Node) { out = append(out, x.Spec()) })
	return out
}

// Restructured reports whether a patch replaced child nodes since the last
// call, and resets the flag.
func (n *Node) Restructured() bool {
	r := n.restructured
	n.restructured = false
	return r
}
