package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/model"
	"github.com/aretw0/tether/pkg/param"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/scheduler"
	"github.com/google/uuid"
)

// ErrUnhandledEvent is returned when a model event targets an object that does
// not implement model.EventHandler.
var ErrUnhandledEvent = errors.New("model does not handle events")

// Loop is the part of the scheduler a session needs.
type Loop interface {
	EnqueuePatch(target scheduler.Target, p domain.Patch)
	Touch(target scheduler.Target)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. The session ID is added to every record.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMapper sets the model mapper. By default each session has its own.
func WithMapper(m *model.Mapper) Option {
	return func(s *Session) {
		if m != nil {
			s.mapper = m
		}
	}
}

// WithRegistry registers the session on creation and removes it once closed.
func WithRegistry(r *Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithHooks registers lifecycle hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(s *Session) { s.hooks = s.hooks.Merge(h) }
}

// subscription ties one model node to the watchers feeding it.
type subscription struct {
	node    *model.Node
	cancels []func()
}

// Session owns the model tree of one remote peer, the watchers that keep it
// current and the outbox of patches waiting for the next flush.
//
// A session is driven by the loop goroutine: every method except ID must be
// called from inside a scheduler tick or before the loop starts.
type Session struct {
	id        string
	state     domain.SessionState
	transport ports.Transport
	loop      Loop
	mapper    *model.Mapper
	registry  *Registry

	roots  []*model.Node
	nodes  map[string]*model.Node
	subs   map[*model.Node]*subscription
	outbox *Outbox
	guard  map[propKey]any
	seq    uint64

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// New creates a session in the CONNECTING state. An empty id is replaced by a
// random one.
func New(id string, transport ports.Transport, loop Loop, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, errors.New("session: nil transport")
	}
	if loop == nil {
		return nil, errors.New("session: nil loop")
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:        id,
		state:     domain.StateConnecting,
		transport: transport,
		loop:      loop,
		nodes:     make(map[string]*model.Node),
		subs:      make(map[*model.Node]*subscription),
		outbox:    NewOutbox(),
		guard:     make(map[propKey]any),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mapper == nil {
		s.mapper = model.NewMapper(model.WithLogger(s.logger))
	}
	s.logger = s.logger.With("session_id", id)
	if s.registry != nil {
		if err := s.registry.add(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() domain.SessionState { return s.state }

// Roots returns the root model nodes in attach order.
func (s *Session) Roots() []*model.Node { return append([]*model.Node(nil), s.roots...) }

// Node returns the model node with the given id.
func (s *Session) Node(id string) (*model.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// NodeFor returns the root node mirroring obj.
func (s *Session) NodeFor(obj param.Parameterized) (*model.Node, bool) {
	for _, r := range s.roots {
		if r.Object() == obj.Params() {
			return r, true
		}
	}
	return nil, false
}

// Snapshot returns the specs of every model of the session, roots first in
// attach order, each followed by its descendants.
func (s *Session) Snapshot() []domain.ModelSpec {
	var out []domain.ModelSpec
	for _, r := range s.roots {
		out = append(out, r.Specs()...)
	}
	return out
}

func (s *Session) rootIDs() []string {
	ids := make([]string, len(s.roots))
	for i, r := range s.roots {
		ids[i] = r.ID
	}
	return ids
}

// Attach builds the model tree of obj and subscribes to its changes. Attaching
// an object twice returns the existing root node. On an ACTIVE session the new
// models are announced with an attach message on the next flush.
func (s *Session) Attach(obj param.Parameterized) (*model.Node, error) {
	if s.state != domain.StateConnecting && s.state != domain.StateActive {
		return nil, fmt.Errorf("attach to %s session %s: %w", s.state, s.id, domain.ErrSessionClosed)
	}
	if n, ok := s.NodeFor(obj); ok {
		return n, nil
	}
	root, err := s.mapper.Build(obj)
	if err != nil {
		return nil, err
	}
	s.roots = append(s.roots, root)
	root.Walk(s.subscribe)

	if s.state == domain.StateActive {
		s.outbox.AddMessage(domain.Message{Type: domain.MessageAttach, Models: root.Specs(), Roots: []string{root.ID}})
		s.loop.Touch(s)
	}
	s.logger.Debug("object attached", "model_id", root.ID, "type", root.Type)
	return root, nil
}

// Detach unsubscribes obj and removes its model tree, dropping any of its
// patches still waiting in the outbox. Detaching an object that is not
// attached is a no-op.
func (s *Session) Detach(obj param.Parameterized) {
	root, ok := s.NodeFor(obj)
	if !ok {
		return
	}
	for i, r := range s.roots {
		if r == root {
			s.roots = append(s.roots[:i:i], s.roots[i+1:]...)
			break
		}
	}
	dropped := map[string]bool{}
	root.Walk(func(n *model.Node) {
		s.unsubscribe(n)
		dropped[n.ID] = true
	})
	s.outbox.Drop(dropped)

	if s.state == domain.StateActive {
		s.outbox.AddMessage(domain.Message{Type: domain.MessageDetach, Roots: []string{root.ID}})
		s.loop.Touch(s)
	}
	s.logger.Debug("object detached", "model_id", root.ID)
}

func (s *Session) subscribe(n *model.Node) {
	if _, ok := s.subs[n]; ok {
		return
	}
	sub := &subscription{node: n}
	s.subs[n] = sub
	s.nodes[n.ID] = n

	obj := n.Object()
	var params []string
	for _, name := range n.Exposed() {
		if _, ok := obj.Lookup(name); ok {
			params = append(params, name)
			continue
		}
		cancel, err := n.Graph().Watch(name, func(c depgraph.Change) { s.onComputed(n, c.Name, c.New, c.Err) })
		if err != nil {
			s.logger.Warn("cannot watch computed property", "model_id", n.ID, "property", name, "err", err)
			continue
		}
		sub.cancels = append(sub.cancels, cancel)
	}
	if len(params) > 0 {
		w, err := obj.Watch(params, func(cs []param.Change) error {
			s.onChange(n, cs)
			return nil
		}, param.ModeValueAndOld)
		if err != nil {
			s.logger.Warn("cannot watch object", "model_id", n.ID, "err", err)
			return
		}
		sub.cancels = append(sub.cancels, w.Cancel)
	}
}

func (s *Session) unsubscribe(n *model.Node) {
	sub, ok := s.subs[n]
	if !ok {
		return
	}
	for _, cancel := range sub.cancels {
		cancel()
	}
	delete(s.subs, n)
	delete(s.nodes, n.ID)
}

// onChange turns parameter changes of a node into outbound patches.
func (s *Session) onChange(n *model.Node, changes []param.Change) {
	obj := n.Object()
	for _, c := range changes {
		prop, ok := n.Property(c.Name)
		if !ok {
			continue
		}
		p, _ := obj.Lookup(c.Name)
		value := c.New
		if !p.KeepAll {
			// A nested watcher may already have moved the value on.
			value, _ = obj.Get(c.Name)
		}

		if echo, guarded := s.guard[propKey{n.ID, prop}]; guarded && !c.Triggered && domain.Equal(echo, value) {
			// The peer sent this value; record it without echoing, and drop any
			// older server value still queued for it.
			s.outbox.Remove(n.ID, prop)
			if _, err := s.mapper.Patch(n, c.Name, value); err != nil {
				s.logger.Warn("cannot record inbound value", "model_id", n.ID, "property", prop, "err", err)
			}
			continue
		}

		var patch *domain.Patch
		var err error
		if c.Triggered {
			patch, err = s.mapper.Patch(n, c.Name, value)
		} else {
			patch, err = s.mapper.Diff(n, c.Name, c.Old, value)
		}
		if err != nil {
			s.logger.Warn("cannot map change", "model_id", n.ID, "property", prop, "err", err)
			continue
		}
		if n.Restructured() {
			s.resync()
		}
		if patch != nil {
			s.emit(*patch)
		}
	}
}

func (s *Session) onComputed(n *model.Node, name string, value any, err error) {
	if err != nil {
		s.logger.Warn("computed property failed", "model_id", n.ID, "property", name, "err", err)
		return
	}
	patch, err := s.mapper.Patch(n, name, value)
	if err != nil || patch == nil {
		return
	}
	s.emit(*patch)
}

func (s *Session) emit(p domain.Patch) {
	if s.state != domain.StateActive {
		return
	}
	s.loop.EnqueuePatch(s, p)
}

// resync aligns subscriptions with the model trees after a patch replaced
// nested models. Nodes no longer reachable from a root are released and their
// queued patches dropped.
func (s *Session) resync() {
	live := map[*model.Node]bool{}
	for _, r := range s.roots {
		r.Walk(func(x *model.Node) { live[x] = true })
	}
	dropped := map[string]bool{}
	for node := range s.subs {
		if !live[node] {
			dropped[node.ID] = true
			s.unsubscribe(node)
		}
	}
	s.outbox.Drop(dropped)
	for _, r := range s.roots {
		r.Walk(s.subscribe)
	}
}

// Enqueue implements scheduler.Target.
func (s *Session) Enqueue(p domain.Patch) {
	if s.state != domain.StateActive {
		return
	}
	s.outbox.Add(p)
}

// Pending implements scheduler.Target.
func (s *Session) Pending() int { return s.outbox.Len() }

// Open sends the initial model tree to the peer and moves the session to
// ACTIVE. A send failure closes the session.
func (s *Session) Open(ctx context.Context) error {
	if s.state != domain.StateConnecting {
		return fmt.Errorf("open %s session %s: %w", s.state, s.id, domain.ErrSessionClosed)
	}
	s.seq++
	batch := domain.Batch{
		SessionID: s.id,
		Seq:       s.seq,
		Messages:  []domain.Message{{Type: domain.MessageInit, Models: s.Snapshot(), Roots: s.rootIDs()}},
	}
	if err := s.transport.Send(ctx, batch); err != nil {
		te := &domain.TransportError{SessionID: s.id, Err: err}
		s.logger.Warn("handshake failed", "err", err)
		_ = s.shutdown(ctx, "handshake failed")
		return te
	}
	s.state = domain.StateActive
	s.logger.Info("session opened", "models", len(s.nodes))
	if s.hooks.OnSessionOpen != nil {
		s.hooks.OnSessionOpen(ctx, &domain.SessionEvent{
			EventBase: s.base(domain.EventSessionOpen),
			State:     s.state,
		})
	}
	return nil
}

// Flush sends every queued message as one batch and empties the outbox. On a
// transport failure the outbox is discarded and the session closes.
func (s *Session) Flush(ctx context.Context) error {
	if s.state != domain.StateActive {
		s.outbox.Reset()
		return nil
	}
	msgs := s.outbox.Take()
	if len(msgs) == 0 {
		return nil
	}
	s.seq++
	err := s.transport.Send(ctx, domain.Batch{SessionID: s.id, Seq: s.seq, Messages: msgs})
	if s.hooks.OnBatchSent != nil {
		s.hooks.OnBatchSent(ctx, &domain.BatchEvent{
			EventBase: s.base(domain.EventBatchSent),
			Patches:   len(msgs),
			Err:       err,
		})
	}
	if err != nil {
		te := &domain.TransportError{SessionID: s.id, Err: err}
		s.logger.Warn("flush failed, closing session", "err", err)
		_ = s.shutdown(ctx, "transport failure")
		return te
	}
	return nil
}

// ReceivePatch applies a browser-originated patch. Patches arriving when the
// session is not ACTIVE are dropped. The echo of the applied value is not sent
// back to this session; values rewritten by watchers are.
func (s *Session) ReceivePatch(ctx context.Context, p domain.Patch) error {
	if s.state != domain.StateActive {
		s.logger.Debug("patch dropped", "state", s.state, "model_id", p.ModelID, "property", p.Property)
		return nil
	}
	err := s.applyInbound(p)
	if s.hooks.OnInboundPatch != nil {
		s.hooks.OnInboundPatch(ctx, &domain.PatchEvent{
			EventBase: s.base(domain.EventInboundPatch),
			ModelID:   p.ModelID,
			Property:  p.Property,
			Err:       err,
		})
	}
	if err != nil {
		s.logger.Warn("inbound patch rejected", "model_id", p.ModelID, "property", p.Property, "err", err)
	}
	return err
}

func (s *Session) applyInbound(p domain.Patch) error {
	n, ok := s.nodes[p.ModelID]
	if !ok {
		return &domain.UnknownPropertyError{ModelID: p.ModelID, Property: p.Property}
	}
	updates, err := s.mapper.ApplyInbound(n, p)
	if err != nil {
		return err
	}

	obj := n.Object()
	key := propKey{n.ID, p.Property}
	readonly := false
	for name, v := range updates {
		s.guard[key] = v
		if decl, _ := obj.Lookup(name); decl.Readonly {
			readonly = true
		}
	}
	defer delete(s.guard, key)

	apply := func() error { return obj.Update(updates) }
	if readonly {
		return obj.EditReadonly(apply)
	}
	return apply()
}

// ReceiveEvent routes a browser-originated model event to the object behind
// the model.
func (s *Session) ReceiveEvent(ctx context.Context, ev domain.Event) error {
	if s.state != domain.StateActive {
		return nil
	}
	n, ok := s.nodes[ev.ModelID]
	if !ok {
		return &domain.UnknownPropertyError{ModelID: ev.ModelID, Property: ev.Name}
	}
	h, ok := n.Source().(model.EventHandler)
	if !ok {
		return fmt.Errorf("%s on %s: %w", ev.Name, n.Type, ErrUnhandledEvent)
	}
	if err := h.HandleModelEvent(ev.Name, ev.Data); err != nil {
		s.logger.Warn("model event failed", "model_id", ev.ModelID, "event", ev.Name, "err", err)
		return err
	}
	return nil
}

// Close drops pending patches, releases every watcher subscription and the
// transport, and unregisters the session. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	return s.shutdown(ctx, "closed")
}

func (s *Session) shutdown(ctx context.Context, reason string) error {
	if s.state == domain.StateClosing || s.state == domain.StateClosed {
		return nil
	}
	s.state = domain.StateClosing
	s.outbox.Reset()
	for n := range s.subs {
		s.unsubscribe(n)
	}
	s.roots = nil
	err := s.transport.Close()
	s.state = domain.StateClosed
	if s.registry != nil {
		s.registry.remove(s.id)
	}
	s.logger.Info("session closed", "reason", reason)
	if s.hooks.OnSessionClose != nil {
		s.hooks.OnSessionClose(ctx, &domain.SessionEvent{
			EventBase: s.base(domain.EventSessionClose),
			State:     s.state,
			Reason:    reason,
		})
	}
	return err
}

func (s *Session) base(t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: time.Now(), Type: t, SessionID: s.id}
}
