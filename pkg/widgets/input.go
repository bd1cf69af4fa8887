package widgets

import (
	"errors"
	"fmt"

	"github.com/aretw0/tether/pkg/param"
)

// FloatSlider selects a number within [start, end].
type FloatSlider struct {
	*param.Object
}

// NewFloatSlider creates a slider labelled label.
func NewFloatSlider(label string, start, end, value float64) (*FloatSlider, error) {
	obj, err := param.NewObject("float_slider", []param.Parameter{
		{Name: "label", Type: param.String(), Default: label, Doc: "Text shown next to the slider."},
		{Name: "value", Type: param.Number(param.Between(start, end)), Default: value, Doc: "Current value."},
		{Name: "start", Type: param.Number(), Default: start, Readonly: true, Doc: "Lower bound."},
		{Name: "end", Type: param.Number(), Default: end, Readonly: true, Doc: "Upper bound."},
		{Name: "step", Type: param.Number(param.AtLeast(0)), Default: 0.1, Doc: "Increment between values."},
		{Name: "value_throttled", Type: param.Number(param.Between(start, end)), AllowNone: true, Readonly: true,
			Doc: "Value once the user releases the handle. Owned by the browser."},
	})
	if err != nil {
		return nil, err
	}
	return &FloatSlider{Object: obj}, nil
}

func (w *FloatSlider) ModelType() string { return "FloatSlider" }

func (w *FloatSlider) PropertyNames() map[string]string {
	return map[string]string{"label": "title"}
}

// Select picks one of a fixed set of options.
type Select struct {
	*param.Object
}

// NewSelect creates a select over options. The first option is selected.
func NewSelect(label string, options ...any) (*Select, error) {
	var def any
	if len(options) > 0 {
		def = options[0]
	}
	obj, err := param.NewObject("select", []param.Parameter{
		{Name: "label", Type: param.String(), Default: label},
		{Name: "value", Type: param.Selector(options...), Default: def, AllowNone: len(options) == 0},
		{Name: "options", Type: param.List(param.Any()), Default: options, Readonly: true},
	})
	if err != nil {
		return nil, err
	}
	return &Select{Object: obj}, nil
}

func (w *Select) ModelType() string { return "Select" }

func (w *Select) PropertyNames() map[string]string {
	return map[string]string{"label": "title"}
}

// TextInput edits a single line of text. value_input follows every key
// stroke; value changes on enter or blur.
type TextInput struct {
	*param.Object
}

// NewTextInput creates a text input.
func NewTextInput(label, placeholder string) (*TextInput, error) {
	obj, err := param.NewObject("text_input", []param.Parameter{
		{Name: "label", Type: param.String(), Default: label},
		{Name: "value", Type: param.String(), Default: ""},
		{Name: "value_input", Type: param.String(), Default: ""},
		{Name: "placeholder", Type: param.String(), Default: placeholder},
		{Name: "max_length", Type: param.Integer(param.AtLeast(0)), Default: 5000},
	})
	if err != nil {
		return nil, err
	}
	return &TextInput{Object: obj}, nil
}

func (w *TextInput) ModelType() string { return "TextInput" }

func (w *TextInput) PropertyNames() map[string]string {
	return map[string]string{"label": "title"}
}

// Button counts clicks and runs the registered handlers on each one.
type Button struct {
	*param.Object

	handlers []func() error
}

// NewButton creates a button labelled label.
func NewButton(label string) (*Button, error) {
	obj, err := param.NewObject("button", []param.Parameter{
		{Name: "label", Type: param.String(), Default: label},
		{Name: "clicks", Type: param.Integer(param.AtLeast(0)), Default: 0, Readonly: true},
		{Name: "disabled", Type: param.Boolean(), Default: false},
	})
	if err != nil {
		return nil, err
	}
	return &Button{Object: obj}, nil
}

func (b *Button) ModelType() string { return "Button" }

// OnClick registers fn to run on every click.
func (b *Button) OnClick(fn func() error) {
	b.handlers = append(b.handlers, fn)
}

// HandleModelEvent implements model.EventHandler.
func (b *Button) HandleModelEvent(name string, data map[string]any) error {
	if name != "click" {
		return fmt.Errorf("button: unknown event %q", name)
	}
	if disabled, _ := b.Get("disabled"); disabled == true {
		return nil
	}
	v, _ := b.Get("clicks")
	n, _ := v.(int)
	if err := b.EditReadonly(func() error { return b.Set("clicks", n+1) }); err != nil {
		return err
	}
	var errs []error
	for _, fn := range b.handlers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Markdown renders a markdown string.
type Markdown struct {
	*param.Object
}

// NewMarkdown creates a markdown pane.
func NewMarkdown(text string) (*Markdown, error) {
	obj, err := param.NewObject("markdown", []param.Parameter{
		{Name: "object", Type: param.String(), Default: text, Doc: "Markdown source."},
	})
	if err != nil {
		return nil, err
	}
	return &Markdown{Object: obj}, nil
}

func (m *Markdown) ModelType() string { return "Markdown" }

func (m *Markdown) PropertyNames() map[string]string {
	return map[string]string{"object": "text"}
}
