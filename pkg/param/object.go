package param

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// DefaultMaxDepth bounds reentrant watcher dispatch on a single object.
const DefaultMaxDepth = 64

// Parameter declares one typed, observable attribute of an Object.
type Parameter struct {
	Name      string
	Type      Type
	Default   any
	AllowNone bool
	Readonly  bool

	// Hidden parameters are stored and observable but never mapped to a model.
	Hidden bool
	// KeepAll asks sessions to deliver every intermediate value instead of
	// coalescing writes within a tick.
	KeepAll bool
	Doc     string
}

// Parameterized is the capability every attachable state holder provides.
type Parameterized interface {
	Params() *Object
}

// Option configures an Object.
type Option func(*Object)

// WithMaxDepth overrides the reentrant dispatch bound.
func WithMaxDepth(n int) Option {
	return func(o *Object) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Object) {
		if l != nil {
			o.logger = l
		}
	}
}

// Object holds an ordered set of parameters, their current values and the
// watchers observing them. It is not safe for concurrent use: every mutation
// is expected to run on the scheduler's goroutine.
type Object struct {
	name   string
	order  []string
	params map[string]*Parameter
	values map[string]any

	watchers []*Subscription

	depth    int
	maxDepth int
	batching int
	pending  []Change
	discard  int
	editing  int

	logger *slog.Logger
}

// NewObject creates an object with the given parameters. Every default must
// satisfy its parameter's constraint.
func NewObject(name string, params []Parameter, opts ...Option) (*Object, error) {
	o := &Object{
		name:     name,
		params:   make(map[string]*Parameter, len(params)),
		values:   make(map[string]any, len(params)),
		maxDepth: DefaultMaxDepth,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var errs []error
	for i := range params {
		p := params[i]
		if p.Name == "" {
			return nil, fmt.Errorf("%s: parameter %d has no name", name, i)
		}
		if _, dup := o.params[p.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate parameter %q", name, p.Name)
		}
		if p.Type == nil {
			p.Type = Any()
		}
		dv, err := o.check(&p, p.Default, true)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Default = dv
		o.params[p.Name] = &p
		o.order = append(o.order, p.Name)
		o.values[p.Name] = dv
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return o, nil
}

// MustObject is like NewObject but panics on error. Intended for static
// widget declarations.
func MustObject(name string, params []Parameter, opts ...Option) *Object {
	o, err := NewObject(name, params, opts...)
	if err != nil {
		panic(err)
	}
	return o
}

// Params makes *Object itself Parameterized.
func (o *Object) Params() *Object { return o }

// Name returns the object name used in errors and logs.
func (o *Object) Name() string { return o.name }

// Names returns parameter names in declaration order.
func (o *Object) Names() []string {
	return append([]string(nil), o.order...)
}

// Parameters returns copies of the parameter declarations in declaration order.
func (o *Object) Parameters() []Parameter {
	out := make([]Parameter, 0, len(o.order))
	for _, n := range o.order {
		out = append(out, *o.params[n])
	}
	return out
}

// Lookup returns the declaration of a parameter.
func (o *Object) Lookup(name string) (Parameter, bool) {
	p, ok := o.params[name]
	if !ok {
		return Parameter{}, false
	}
	return *p, true
}

// Get returns the current value of a parameter.
func (o *Object) Get(name string) (any, error) {
	if _, ok := o.params[name]; !ok {
		return nil, o.unknown(name)
	}
	return o.values[name], nil
}

// Values returns a copy of all current values.
func (o *Object) Values() map[string]any {
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Decode copies the current values into target (a pointer to a struct or map),
// matching fields by their `param` tag or name.
func (o *Object) Decode(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "param",
		Result:  target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(o.Values()); err != nil {
		return fmt.Errorf("decode %s: %w", o.name, err)
	}
	return nil
}

// Set validates and assigns a value, then synchronously invokes the watchers
// of that parameter in registration order. Numeric values are stored in the
// representation of the parameter type, so an int assigned to a Number reads
// back as float64. On a validation failure the stored value is left unchanged. Watcher errors are joined and returned; the
// assignment itself is not rolled back.
func (o *Object) Set(name string, value any) error {
	p, ok := o.params[name]
	if !ok {
		return o.unknown(name)
	}
	value, err := o.check(p, value, false)
	if err != nil {
		return err
	}
	old := o.values[name]
	o.values[name] = value
	return o.notify([]Change{{Name: name, Old: old, New: value, changed: !domain.Equal(old, value)}})
}

// Update validates every value first and applies them only if all are valid.
// Watchers run once with all their events, as in Batch.
func (o *Object) Update(values map[string]any) error {
	var errs []error
	canonical := make(map[string]any, len(values))
	for name, v := range values {
		p, ok := o.params[name]
		if !ok {
			errs = append(errs, o.unknown(name))
			continue
		}
		cv, err := o.check(p, v, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		canonical[name] = cv
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	changes := make([]Change, 0, len(values))
	for _, name := range o.order {
		v, ok := canonical[name]
		if !ok {
			continue
		}
		old := o.values[name]
		o.values[name] = v
		changes = append(changes, Change{Name: name, Old: old, New: v, changed: !domain.Equal(old, v)})
	}
	return o.notify(changes)
}

// Batch defers watcher dispatch until fn returns. Repeated writes to the same
// parameter collapse into one change from the first old value to the last new one.
// If fn panics the collected changes are dropped and the panic propagates.
func (o *Object) Batch(fn func() error) error {
	o.batching++
	returned := false
	defer func() {
		if returned {
			return
		}
		o.batching--
		if o.batching == 0 {
			o.pending = nil
		}
	}()
	err := fn()
	returned = true
	o.batching--
	if o.batching > 0 || len(o.pending) == 0 {
		return err
	}
	changes := collapse(o.pending)
	o.pending = nil
	return errors.Join(err, o.notify(changes))
}

// Discard applies the assignments made by fn without notifying any watcher.
func (o *Object) Discard(fn func() error) error {
	o.discard++
	defer func() { o.discard-- }()
	return fn()
}

// EditReadonly allows fn to assign readonly parameters.
func (o *Object) EditReadonly(fn func() error) error {
	o.editing++
	defer func() { o.editing-- }()
	return fn()
}

// Trigger fires the watchers of the named parameters as if they had changed.
func (o *Object) Trigger(names ...string) error {
	changes := make([]Change, 0, len(names))
	for _, name := range names {
		if _, ok := o.params[name]; !ok {
			return o.unknown(name)
		}
		v := o.values[name]
		changes = append(changes, Change{Name: name, Old: v, New: v, Triggered: true})
	}
	return o.notify(changes)
}

// Watch registers fn for changes of the named parameters. An empty names list
// watches every parameter.
func (o *Object) Watch(names []string, fn WatchFunc, mode Mode) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("param: nil watch function")
	}
	if len(names) == 0 {
		names = o.order
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := o.params[n]; !ok {
			return nil, o.unknown(n)
		}
		set[n] = struct{}{}
	}
	s := &Subscription{obj: o, names: set, fn: fn, mode: mode, active: true}
	o.watchers = append(o.watchers, s)
	return s, nil
}

// Unwatch removes a subscription. Removing it twice is a no-op.
func (o *Object) Unwatch(s *Subscription) {
	if s == nil || !s.active || s.obj != o {
		return
	}
	s.active = false
	for i, w := range o.watchers {
		if w == s {
			o.watchers = append(o.watchers[:i:i], o.watchers[i+1:]...)
			break
		}
	}
}

// Watchers returns the number of active subscriptions.
func (o *Object) Watchers() int { return len(o.watchers) }

// check validates value for p and returns it in the representation of p.Type.
func (o *Object) check(p *Parameter, value any, initial bool) (any, error) {
	if p.Readonly && !initial && o.editing == 0 {
		return nil, &domain.ValidationError{Object: o.name, Key: p.Name, Reason: "parameter is readonly", Value: value}
	}
	if value == nil {
		if p.AllowNone {
			return nil, nil
		}
		return nil, &domain.ValidationError{Object: o.name, Key: p.Name, Reason: "None is not allowed"}
	}
	if c, ok := p.Type.(Coercer); ok {
		cv, err := c.Coerce(value)
		if err != nil {
			return nil, &domain.ValidationError{Object: o.name, Key: p.Name, Reason: err.Error(), Value: value}
		}
		value = cv
	}
	if err := p.Type.Validate(value); err != nil {
		return nil, &domain.ValidationError{Object: o.name, Key: p.Name, Reason: err.Error(), Value: value}
	}
	return value, nil
}

func (o *Object) unknown(name string) error {
	return fmt.Errorf("%s.%s: %w", o.name, name, domain.ErrUnknownParameter)
}

func (o *Object) notify(changes []Change) error {
	if o.discard > 0 || len(changes) == 0 {
		return nil
	}
	if o.batching > 0 {
		o.pending = append(o.pending, changes...)
		return nil
	}
	return o.dispatch(changes)
}

func (o *Object) dispatch(changes []Change) error {
	if o.depth >= o.maxDepth {
		o.logger.Warn("watcher recursion limit reached", "object", o.name, "property", changes[0].Name, "depth", o.depth)
		return &domain.RecursionLimitError{Object: o.name, Key: changes[0].Name, Depth: o.depth}
	}
	o.depth++
	defer func() { o.depth-- }()

	// Watchers added during dispatch are not called for this change.
	subs := append([]*Subscription(nil), o.watchers...)
	var errs []error
	for _, s := range subs {
		if !s.active {
			continue
		}
		events := s.filter(changes)
		if len(events) == 0 {
			continue
		}
		if err := s.fn(events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func collapse(changes []Change) []Change {
	idx := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		i, seen := idx[c.Name]
		if !seen {
			idx[c.Name] = len(out)
			out = append(out, c)
			continue
		}
		prev := out[i]
		prev.New = c.New
		prev.Triggered = prev.Triggered || c.Triggered
		prev.changed = !domain.Equal(prev.Old, prev.New)
		out[i] = prev
	}
	return out
}
