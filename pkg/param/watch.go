package param

// Mode selects which assignments a watcher is notified of.
type Mode int

const (
	// ModeValue fires when the value changes. Change.Old is not populated.
	ModeValue Mode = iota
	// ModeValueAndOld fires when the value changes and carries the previous value.
	ModeValueAndOld
	// ModeTriggered fires on every assignment, even when the value is unchanged.
	ModeTriggered
)

func (m Mode) String() string {
	switch m {
	case ModeValue:
		return "value"
	case ModeValueAndOld:
		return "value_and_old"
	case ModeTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Change describes one parameter assignment delivered to a watcher.
type Change struct {
	Name string
	Old  any
	New  any

	// Triggered is set when the change was forced through Object.Trigger.
	// Forced changes reach watchers of every mode.
	Triggered bool

	changed bool
}

// Changed reports whether the assignment altered the stored value.
func (c Change) Changed() bool { return c.changed }

// WatchFunc receives the changes of one dispatch, in declaration order.
type WatchFunc func(changes []Change) error

// Subscription is the handle returned by Watch.
type Subscription struct {
	obj    *Object
	names  map[string]struct{}
	fn     WatchFunc
	mode   Mode
	active bool
}

// Cancel removes the subscription from its object. It is idempotent.
func (s *Subscription) Cancel() {
	if s == nil || s.obj == nil {
		return
	}
	s.obj.Unwatch(s)
}

// Active reports whether the subscription still receives changes.
func (s *Subscription) Active() bool { return s != nil && s.active }

func (s *Subscription) filter(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if _, ok := s.names[c.Name]; !ok {
			continue
		}
		if !c.Triggered && !c.changed && s.mode != ModeTriggered {
			continue
		}
		if s.mode == ModeValue {
			c.Old = nil
		}
		out = append(out, c)
	}
	return out
}
