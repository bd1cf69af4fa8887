package model

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
	"github.com/google/uuid"
)

// Option configures a Mapper.
type Option func(*Mapper)

// WithIDGenerator replaces the uuid based model id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Mapper) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithLogger sets the mapper logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mapper translates parameterized objects into model nodes and property
// patches, and inbound patches back into parameter updates.
type Mapper struct {
	newID  func() string
	logger *slog.Logger
}

// NewMapper creates a mapper.
func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{newID: uuid.NewString, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Build constructs the model node tree of obj. Nested objects become child
// nodes referenced by Ref; sequences of objects become ordered []Ref.
func (m *Mapper) Build(obj param.Parameterized) (*Node, error) {
	return m.build(obj, map[*param.Object]bool{})
}

func (m *Mapper) build(src param.Parameterized, path map[*param.Object]bool) (*Node, error) {
	if src == nil || src.Params() == nil {
		return nil, fmt.Errorf("model: nil parameterized object")
	}
	o := src.Params()
	if path[o] {
		return nil, fmt.Errorf("model: %s contains itself", o.Name())
	}
	path[o] = true
	defer delete(path, o)

	n := &Node{
		ID:       m.newID(),
		Type:     o.Name(),
		Props:    map[string]any{},
		source:   src,
		obj:      o,
		toProp:   map[string]string{},
		toParam:  map[string]string{},
		children: map[string][]*Node{},
	}
	if t, ok := src.(Typed); ok {
		n.Type = t.ModelType()
	}
	var renames map[string]string
	if r, ok := src.(Renamer); ok {
		renames = r.PropertyNames()
	}
	if c, ok := src.(InboundConverter); ok {
		n.inbound = map[string]bool{}
		for _, prop := range c.InboundProperties() {
			n.inbound[prop] = true
		}
	}
	expose := func(name string) (string, bool) {
		prop := name
		if r, ok := renames[name]; ok {
			prop = r
		}
		if prop == "" {
			return "", false
		}
		n.toProp[name] = prop
		n.toParam[prop] = name
		n.order = append(n.order, prop)
		return prop, true
	}

	for _, p := range o.Parameters() {
		if p.Hidden {
			continue
		}
		prop, ok := expose(p.Name)
		if !ok {
			continue
		}
		if n.inbound[prop] {
			continue
		}
		v, _ := o.Get(p.Name)
		wire, kids, err := m.toWire(p, v, path)
		if err != nil {
			return nil, fmt.Errorf("model: %s.%s: %w", o.Name(), p.Name, err)
		}
		n.Props[prop] = wire
		if len(kids) > 0 {
			n.children[prop] = kids
		}
	}

	if c, ok := src.(Computed); ok && c.Graph() != nil {
		n.graph = c.Graph()
		for _, name := range n.graph.Names() {
			prop, ok := expose(name)
			if !ok {
				continue
			}
			v, err := n.graph.Get(name)
			if err != nil {
				m.logger.Warn("computed property unavailable", "object", o.Name(), "property", name, "err", err)
				v = nil
			}
			n.Props[prop] = v
		}
	}
	return n, nil
}

// toWire converts a parameter value to its property form.
func (m *Mapper) toWire(p param.Parameter, v any, path map[*param.Object]bool) (any, []*Node, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil, nil
	case param.Parameterized:
		child, err := m.build(val, path)
		if err != nil {
			return nil, nil, err
		}
		return Ref{ID: child.ID}, []*Node{child}, nil
	case []param.Parameterized:
		refs := make([]Ref, 0, len(val))
		kids := make([]*Node, 0, len(val))
		for _, item := range val {
			child, err := m.build(item, path)
			if err != nil {
				return nil, nil, err
			}
			refs = append(refs, Ref{ID: child.ID})
			kids = append(kids, child)
		}
		return refs, kids, nil
	}
	if sel, ok := p.Type.(*param.SelectorType); ok {
		if err := sel.Validate(v); err != nil {
			return nil, nil, err
		}
	}
	return v, nil, nil
}

// Diff returns the patch describing the change of a parameter or computed
// value from prev to next, or nil if the change is not observable by the peer.
func (m *Mapper) Diff(n *Node, name string, prev, next any) (*domain.Patch, error) {
	if _, ok := n.toProp[name]; !ok {
		return nil, nil
	}
	if domain.Equal(prev, next) {
		return nil, nil
	}
	return m.Patch(n, name, next)
}

// Patch records value as the current state of name on n and returns the patch
// carrying it, regardless of the previous value. Nested objects get freshly
// built child nodes whose specs travel in Patch.Models.
func (m *Mapper) Patch(n *Node, name string, value any) (*domain.Patch, error) {
	prop, ok := n.toProp[name]
	if !ok || n.inbound[prop] {
		return nil, nil
	}
	patch := &domain.Patch{ModelID: n.ID, Property: prop}

	p, isParam := n.obj.Lookup(name)
	if !isParam {
		// computed values are passed through
		n.Props[prop] = value
		patch.Value = value
		return patch, nil
	}
	patch.KeepAll = p.KeepAll

	wire, kids, err := m.toWire(p, value, map[*param.Object]bool{n.obj: true})
	if err != nil {
		return nil, fmt.Errorf("model: %s.%s: %w", n.obj.Name(), name, err)
	}
	if len(kids) > 0 || len(n.children[prop]) > 0 {
		n.restructured = true
	}
	if len(kids) > 0 {
		n.children[prop] = kids
		for _, k := range kids {
			patch.Models = append(patch.Models, k.Specs()...)
		}
	} else {
		delete(n.children, prop)
	}
	n.Props[prop] = wire
	patch.Value = wire
	return patch, nil
}

// ApplyInbound maps a browser-originated patch to parameter updates for the
// node's object. Values are converted by an InboundConverter source, then
// coerced by the parameter type when it supports it. Validation against the
// constraint happens when the updates are applied.
func (m *Mapper) ApplyInbound(n *Node, patch domain.Patch) (map[string]any, error) {
	name, ok := n.toParam[patch.Property]
	if !ok {
		return nil, &domain.UnknownPropertyError{ModelID: n.ID, Property: patch.Property}
	}
	p, isParam := n.obj.Lookup(name)
	if !isParam {
		return nil, &domain.ValidationError{Object: n.obj.Name(), Key: name, Reason: "computed property is read-only", Value: patch.Value}
	}
	if _, nested := n.children[patch.Property]; nested {
		return nil, &domain.ValidationError{Object: n.obj.Name(), Key: name, Reason: "nested models cannot be replaced remotely", Value: patch.Value}
	}
	switch p.Type.(type) {
	case *param.ObjectType, *param.ObjectListType:
		return nil, &domain.ValidationError{Object: n.obj.Name(), Key: name, Reason: "nested models cannot be replaced remotely", Value: patch.Value}
	}

	v := patch.Value
	if n.inbound[patch.Property] {
		cv, err := n.source.(InboundConverter).ConvertInbound(n, patch.Property, v)
		if err != nil {
			return nil, &domain.ValidationError{Object: n.obj.Name(), Key: name, Reason: err.Error(), Value: v}
		}
		v = cv
	}
	if c, ok := p.Type.(param.Coercer); ok && v != nil {
		cv, err := c.Coerce(v)
		if err != nil {
			return nil, &domain.ValidationError{Object: n.obj.Name(), Key: name, Reason: err.Error(), Value: v}
		}
		v = cv
	}
	return map[string]any{name: v}, nil
}
