package widgets

import (
	"fmt"
	"slices"

	"github.com/aretw0/tether/pkg/model"
	"github.com/aretw0/tether/pkg/param"
)

// Column lays out its objects vertically.
type Column struct {
	*param.Object
}

func columnParams(objs []param.Parameterized) []param.Parameter {
	return []param.Parameter{
		{Name: "objects", Type: param.ObjectList(), Default: objs, Doc: "Objects in display order."},
		{Name: "scroll", Type: param.Boolean(), Default: false, Doc: "Add scrollbars when the content overflows."},
		{Name: "height", Type: param.Integer(param.AtLeast(0)), AllowNone: true, Doc: "Height in pixels."},
	}
}

// NewColumn creates a column holding objs.
func NewColumn(objs ...param.Parameterized) (*Column, error) {
	obj, err := param.NewObject("column", columnParams(slices.Clone(objs)))
	if err != nil {
		return nil, err
	}
	return &Column{Object: obj}, nil
}

func (c *Column) ModelType() string { return "Column" }

func (c *Column) PropertyNames() map[string]string {
	return map[string]string{"objects": "children"}
}

// Objects returns the column's objects.
func (c *Column) Objects() []param.Parameterized {
	v, _ := c.Get("objects")
	objs, _ := v.([]param.Parameterized)
	return slices.Clone(objs)
}

// Append adds objs at the end.
func (c *Column) Append(objs ...param.Parameterized) error {
	return c.Set("objects", append(c.Objects(), objs...))
}

// Log is a column that only mirrors a window of its objects: the visible
// ones plus load_buffer on each side. The browser reports which objects are
// visible; when the view scrolls into the buffer the window moves.
type Log struct {
	*param.Object

	lastSynced []int
}

// NewLog creates a log holding objs.
func NewLog(objs ...param.Parameterized) (*Log, error) {
	params := append(columnParams(slices.Clone(objs)),
		param.Parameter{Name: "load_buffer", Type: param.Integer(param.AtLeast(0)), Default: 50,
			Doc: "Number of objects loaded on each side of the visible objects."},
		param.Parameter{Name: "view_latest", Type: param.Boolean(), Default: false,
			Doc: "Start scrolled to the most recent objects."},
		param.Parameter{Name: "visible_indices", Type: param.List(param.Integer()), Default: []int{}, Readonly: true,
			Doc: "Indices of the objects currently visible. Owned by the browser."},
		param.Parameter{Name: "window", Type: param.ObjectList(), Default: []param.Parameterized{},
			Doc: "Objects currently mirrored to the browser."},
	)
	params[0].Hidden = true
	params[1].Default = true
	params[2].Default = 300

	obj, err := param.NewObject("log", params)
	if err != nil {
		return nil, err
	}
	l := &Log{Object: obj}
	if err := l.sync(); err != nil {
		return nil, err
	}
	if _, err := obj.Watch([]string{"objects", "load_buffer", "view_latest"}, func([]param.Change) error {
		return l.sync()
	}, param.ModeValue); err != nil {
		return nil, err
	}
	if _, err := obj.Watch([]string{"visible_indices"}, func([]param.Change) error {
		return l.onScroll()
	}, param.ModeValue); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) ModelType() string { return "Log" }

func (l *Log) PropertyNames() map[string]string {
	return map[string]string{"window": "children", "load_buffer": "", "visible_indices": "visible_objects"}
}

// InboundProperties implements model.InboundConverter.
func (l *Log) InboundProperties() []string { return []string{"visible_objects"} }

// ConvertInbound maps the model ids the browser reports as visible back to
// indices into objects. A report that does not start with a mirrored model
// keeps the current indices. Plain indices are taken as they are.
func (l *Log) ConvertInbound(n *model.Node, prop string, value any) (any, error) {
	visible, ok := value.([]any)
	if prop != "visible_objects" || !ok {
		return value, nil
	}
	if len(visible) == 0 {
		return l.VisibleIndices(), nil
	}
	if _, isRef := visible[0].(string); !isRef {
		return value, nil
	}
	pos := map[string]int{}
	for i, id := range n.ChildIDs("children") {
		pos[id] = i
	}
	if _, ok := pos[visible[0].(string)]; !ok {
		return l.VisibleIndices(), nil
	}
	out := make([]int, 0, len(visible))
	for _, v := range visible {
		id, _ := v.(string)
		if i, ok := pos[id]; ok && i < len(l.lastSynced) {
			out = append(out, l.lastSynced[i])
		}
	}
	slices.Sort(out)
	return out, nil
}

// Objects returns every object of the log, synced or not.
func (l *Log) Objects() []param.Parameterized {
	v, _ := l.Get("objects")
	objs, _ := v.([]param.Parameterized)
	return slices.Clone(objs)
}

// Append adds objs at the end.
func (l *Log) Append(objs ...param.Parameterized) error {
	return l.Set("objects", append(l.Objects(), objs...))
}

// VisibleIndices returns the indices the browser reported as visible.
func (l *Log) VisibleIndices() []int {
	v, _ := l.Get("visible_indices")
	return toInts(v)
}

func (l *Log) intParam(name string) int {
	v, _ := l.Get(name)
	n, _ := v.(int)
	return n
}

// SyncedIndices returns the indices of the objects in the mirrored window.
func (l *Log) SyncedIndices() []int {
	n := len(l.Objects())
	buffer := l.intParam("load_buffer")
	visible := l.VisibleIndices()
	latest, _ := l.Get("view_latest")

	var lo, hi int
	switch {
	case len(visible) > 0:
		lo = max(slices.Min(visible)-buffer, 0)
		hi = min(slices.Max(visible)+buffer, n)
	case latest == true:
		lo, hi = max(n-buffer*2, 0), n
	default:
		lo, hi = 0, min(buffer, n)
	}
	out := make([]int, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

func (l *Log) sync() error {
	synced := l.SyncedIndices()
	objs := l.Objects()
	window := make([]param.Parameterized, 0, len(synced))
	for _, i := range synced {
		window = append(window, objs[i])
	}
	l.lastSynced = synced
	return l.Set("window", window)
}

// onScroll moves the window once the view is less than half a buffer away
// from either edge of it.
func (l *Log) onScroll() error {
	visible := l.VisibleIndices()
	if len(visible) == 0 || len(l.lastSynced) == 0 {
		return l.sync()
	}
	vs, ve := slices.Min(visible), slices.Max(visible)
	ss, se := slices.Min(l.lastSynced), slices.Max(l.lastSynced)
	half := l.intParam("load_buffer") / 2
	if vs-ss < half || se-ve < half {
		return l.sync()
	}
	return nil
}

// HandleModelEvent implements model.EventHandler. scroll_button_click jumps
// to the latest objects.
func (l *Log) HandleModelEvent(name string, data map[string]any) error {
	if name != "scroll_button_click" {
		return fmt.Errorf("log: unknown event %q", name)
	}
	visible := l.VisibleIndices()
	if len(visible) == 0 {
		return nil
	}

	// Load up to the very bottom rather than the middle of the buffer.
	buffer := l.intParam("load_buffer")
	if err := l.Discard(func() error { return l.Set("load_buffer", 1) }); err != nil {
		return err
	}
	n := len(l.Objects())
	// One extra keeps the scroll bar visible.
	start := max(n-len(visible)+1, 0)
	indices := make([]int, 0, n-start)
	for i := start; i < n; i++ {
		indices = append(indices, i)
	}
	err := l.EditReadonly(func() error { return l.Set("visible_indices", indices) })
	if derr := l.Discard(func() error { return l.Set("load_buffer", buffer) }); derr != nil && err == nil {
		err = derr
	}
	return err
}

func toInts(v any) []int {
	switch vs := v.(type) {
	case []int:
		return vs
	case []any:
		out := make([]int, 0, len(vs))
		for _, x := range vs {
			switch n := x.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}
