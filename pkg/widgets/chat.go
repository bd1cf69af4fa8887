package widgets

import (
	"fmt"

	"github.com/aretw0/tether/pkg/param"
)

// ChatAreaInput is a multi-line input that submits on shift+enter. The
// browser streams the draft into value_input; on submit the draft becomes
// value and both are cleared.
type ChatAreaInput struct {
	*param.Object
}

// NewChatAreaInput creates a chat input.
func NewChatAreaInput(placeholder string) (*ChatAreaInput, error) {
	obj, err := param.NewObject("chat_area_input", []param.Parameter{
		{Name: "value", Type: param.String(), Default: "", Doc: "Last submitted message."},
		{Name: "value_input", Type: param.String(), Default: "", Doc: "Draft being typed."},
		{Name: "placeholder", Type: param.String(), Default: placeholder},
		{Name: "rows", Type: param.Integer(param.AtLeast(1)), Default: 2},
		{Name: "resizable", Type: param.Selector("both", "width", "height", false), Default: "height",
			Doc: "Dimensions the user may resize. Fixed at construction."},
	})
	if err != nil {
		return nil, err
	}
	return &ChatAreaInput{Object: obj}, nil
}

func (c *ChatAreaInput) ModelType() string { return "ChatAreaInput" }

// OnSubmit calls fn with every submitted message.
func (c *ChatAreaInput) OnSubmit(fn func(msg string) error) (*param.Subscription, error) {
	return c.Watch([]string{"value"}, func(cs []param.Change) error {
		msg, _ := cs[0].New.(string)
		if msg == "" {
			return nil
		}
		return fn(msg)
	}, param.ModeValue)
}

// HandleModelEvent implements model.EventHandler.
func (c *ChatAreaInput) HandleModelEvent(name string, data map[string]any) error {
	if name != "shift_enter_key_down" {
		return fmt.Errorf("chat_area_input: unknown event %q", name)
	}
	draft, _ := c.Get("value_input")
	if err := c.Batch(func() error { return c.Set("value", draft) }); err != nil {
		return err
	}
	// The browser clears its own copy of value.
	if err := c.Discard(func() error { return c.Set("value", "") }); err != nil {
		return err
	}
	return c.Set("value_input", "")
}
