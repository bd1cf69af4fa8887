// Package widgets is a small catalog of parameterized objects that map onto
// common browser widgets: sliders, selects, text inputs, layouts, a
// virtualized log and a chat input.
package widgets
