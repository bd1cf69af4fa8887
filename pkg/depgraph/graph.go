package depgraph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
)

// ComputeFunc derives a value from the current values of its dependencies,
// keyed by dependency name.
type ComputeFunc func(in map[string]any) (any, error)

// Change is delivered to watchers of a computed value after an eager
// recomputation that produced a different value or an error.
type Change struct {
	Name string
	Old  any
	New  any
	Err  error
}

// WatchFunc observes a computed value.
type WatchFunc func(Change)

// Deferrer runs fn later, once, before outbound patches are flushed.
// *scheduler.Scheduler implements it.
type Deferrer interface {
	Defer(fn func())
}

// Option configures a Graph.
type Option func(*Graph)

// WithDeferrer batches eager recomputation into the deferrer's phase, so that
// several upstream changes in one tick cause a single recomputation.
func WithDeferrer(d Deferrer) Option {
	return func(g *Graph) { g.deferrer = d }
}

// WithLogger sets the graph logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

type node struct {
	name     string
	deps     []string
	fn       ComputeFunc
	value    any
	err      error
	dirty    bool
	watchers []*watcher
}

type watcher struct {
	fn     WatchFunc
	active bool
}

// Graph holds computed values derived from the parameters of a host object.
// Declaration order is the evaluation order: a computed value may only depend
// on parameters or on computed values declared before it.
type Graph struct {
	host     *param.Object
	sub      *param.Subscription
	order    []string
	nodes    map[string]*node
	deferrer Deferrer
	pending  bool
	logger   *slog.Logger
}

// New creates a graph over host and subscribes to its changes.
func New(host *param.Object, opts ...Option) (*Graph, error) {
	if host == nil {
		return nil, errors.New("depgraph: nil host")
	}
	g := &Graph{
		host:   host,
		nodes:  make(map[string]*node),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	sub, err := host.Watch(nil, g.onHostChange, param.ModeValue)
	if err != nil {
		return nil, err
	}
	g.sub = sub
	return g, nil
}

// DependsOn declares the computed value name, derived by fn from deps.
func (g *Graph) DependsOn(name string, fn ComputeFunc, deps ...string) error {
	if fn == nil {
		return fmt.Errorf("depgraph: %s has no compute function", name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("depgraph: %s is already declared", name)
	}
	if _, ok := g.host.Lookup(name); ok {
		return fmt.Errorf("depgraph: %s shadows a parameter of %s", name, g.host.Name())
	}
	for _, d := range deps {
		if _, ok := g.host.Lookup(d); ok {
			continue
		}
		if _, ok := g.nodes[d]; ok {
			continue
		}
		return fmt.Errorf("depgraph: %s depends on %s: %w", name, d, domain.ErrUnknownParameter)
	}
	g.nodes[name] = &node{name: name, deps: append([]string(nil), deps...), fn: fn, dirty: true}
	g.order = append(g.order, name)
	return nil
}

// MustDependsOn is like DependsOn but panics on error.
func (g *Graph) MustDependsOn(name string, fn ComputeFunc, deps ...string) {
	if err := g.DependsOn(name, fn, deps...); err != nil {
		panic(err)
	}
}

// Host returns the object the graph derives from.
func (g *Graph) Host() *param.Object { return g.host }

// Names returns computed value names in declaration order.
func (g *Graph) Names() []string { return append([]string(nil), g.order...) }

// Has reports whether name is a computed value of this graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Deps returns the direct dependencies of a computed value.
func (g *Graph) Deps(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return append([]string(nil), n.deps...)
}

// Dirty reports whether name will be recomputed on its next read.
func (g *Graph) Dirty(name string) bool {
	n, ok := g.nodes[name]
	return ok && n.dirty
}

// Get returns the value of a parameter or computed value, recomputing it first
// if any input changed since the last evaluation. A failed evaluation is
// memoized and returned until an input changes again.
func (g *Graph) Get(name string) (any, error) {
	n, ok := g.nodes[name]
	if !ok {
		return g.host.Get(name)
	}
	if n.dirty {
		g.compute(n)
	}
	return n.value, n.err
}

// Watch registers fn for eager updates of a computed value. The value is
// evaluated immediately so that later changes have a baseline.
func (g *Graph) Watch(name string, fn WatchFunc) (cancel func(), err error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("depgraph: %s: %w", name, domain.ErrUnknownParameter)
	}
	if n.dirty {
		g.compute(n)
	}
	w := &watcher{fn: fn, active: true}
	n.watchers = append(n.watchers, w)
	return func() {
		if !w.active {
			return
		}
		w.active = false
		for i, x := range n.watchers {
			if x == w {
				n.watchers = append(n.watchers[:i:i], n.watchers[i+1:]...)
				return
			}
		}
	}, nil
}

// Close unsubscribes the graph from its host. Computed values keep their
// last state and are no longer invalidated.
func (g *Graph) Close() {
	g.sub.Cancel()
}

func (g *Graph) compute(n *node) {
	in := make(map[string]any, len(n.deps))
	for _, d := range n.deps {
		v, err := g.Get(d)
		if err != nil {
			n.value, n.err, n.dirty = nil, fmt.Errorf("%s: dependency %s: %w", n.name, d, err), false
			return
		}
		in[d] = v
	}
	n.value, n.err = n.fn(in)
	n.dirty = false
	if n.err != nil {
		g.logger.Debug("computed value failed", "object", g.host.Name(), "property", n.name, "err", n.err)
	}
}

func (g *Graph) onHostChange(changes []param.Change) error {
	touched := make(map[string]bool, len(changes))
	for _, c := range changes {
		touched[c.Name] = true
	}
	eager := false
	for _, name := range g.order {
		n := g.nodes[name]
		for _, d := range n.deps {
			if touched[d] {
				n.dirty = true
				touched[name] = true
				break
			}
		}
		if touched[name] && len(n.watchers) > 0 {
			eager = true
		}
	}
	if !eager {
		return nil
	}
	if g.deferrer == nil {
		g.refresh()
		return nil
	}
	if !g.pending {
		g.pending = true
		g.deferrer.Defer(func() {
			g.pending = false
			g.refresh()
		})
	}
	return nil
}

// refresh recomputes watched dirty values in declaration order.
func (g *Graph) refresh() {
	for _, name := range g.order {
		n := g.nodes[name]
		if !n.dirty || len(n.watchers) == 0 {
			continue
		}
		old, oldErr := n.value, n.err
		g.compute(n)
		if n.err == nil && oldErr == nil && domain.Equal(old, n.value) {
			continue
		}
		c := Change{Name: name, Old: old, New: n.value, Err: n.err}
		for _, w := range append([]*watcher(nil), n.watchers...) {
			if w.active {
				w.fn(c)
			}
		}
	}
}
