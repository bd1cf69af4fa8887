package model

import "github.com/aretw0/tether/pkg/depgraph"

// Typed objects choose the model type name sent to the peer. Objects that do
// not implement it use their parameter store name.
type Typed interface {
	ModelType() string
}

// Renamer objects map parameter names to model property names. A name mapped
// to "" is not displayed.
type Renamer interface {
	PropertyNames() map[string]string
}

// Computed objects expose computed values as read-only model properties.
type Computed interface {
	Graph() *depgraph.Graph
}

// EventHandler objects receive custom events raised by their model in the
// browser, such as a button click.
type EventHandler interface {
	HandleModelEvent(name string, data map[string]any) error
}

// InboundConverter objects own properties that only the browser writes. The
// server never sends them; values arriving for them are converted to the
// parameter value before coercion and validation.
type InboundConverter interface {
	InboundProperties() []string
	ConvertInbound(n *Node, prop string, value any) (any, error)
}
