package widgets

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/param"
)

// Factory builds a widget with demo defaults.
type Factory func(d depgraph.Deferrer) (param.Parameterized, error)

var catalog = map[string]Factory{
	"float_slider": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewFloatSlider("Speed", 0, 100, 8.6)
	},
	"select": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewSelect("Direction", "N", "E", "S", "W")
	},
	"text_input": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewTextInput("Name", "Type here")
	},
	"button": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewButton("Click me")
	},
	"markdown": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewMarkdown("# Hello")
	},
	"column": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewColumn()
	},
	"log": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewLog()
	},
	"chat_area_input": func(depgraph.Deferrer) (param.Parameterized, error) {
		return NewChatAreaInput("Say something")
	},
	"station": func(d depgraph.Deferrer) (param.Parameterized, error) {
		return NewStation(d)
	},
}

// Names returns the catalog entries in lexical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Build creates the named catalog widget.
func Build(name string, d depgraph.Deferrer) (param.Parameterized, error) {
	f, ok := catalog[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown widget %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(d)
}
