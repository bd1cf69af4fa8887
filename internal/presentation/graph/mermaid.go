package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/model"
)

// Overlay contains state to highlight on a diagram.
type Overlay struct {
	// Highlight lists parameter, computed or model ids to emphasize.
	Highlight []string
}

// DependencyMermaid produces a Mermaid flowchart of a dependency graph.
// Shapes:
// - Parameter: [Rectangle]
// - Computed value: ([Stadium])
// - Readonly parameter: [/Parallelogram/]
// Edges point from a dependency to the value computed from it. Computed
// values awaiting a recompute are styled as dirty.
func DependencyMermaid(g *depgraph.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	host := g.Host()
	used := map[string]bool{}
	for _, name := range g.Names() {
		for _, dep := range g.Deps(name) {
			used[dep] = true
		}
	}
	for _, p := range host.Parameters() {
		if !used[p.Name] {
			continue
		}
		opener, closer := "[", "]"
		if p.Readonly {
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(p.Name), opener, p.Name, closer)
	}

	var dirty []string
	for _, name := range g.Names() {
		safeID := sanitizeMermaidID(name)
		fmt.Fprintf(&sb, "    %s([\"%s\"])\n", safeID, name)
		if g.Dirty(name) {
			dirty = append(dirty, safeID)
		}
		for _, dep := range g.Deps(name) {
			fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(dep), safeID)
		}
	}

	if len(dirty) > 0 {
		sb.WriteString("\n    classDef dirty stroke-dasharray: 5 5;\n")
		for _, id := range dirty {
			fmt.Fprintf(&sb, "    class %s dirty;\n", id)
		}
	}
	writeOverlay(&sb, overlay)
	return sb.String()
}

// ModelTreeMermaid produces a Mermaid flowchart of a session's model tree.
// Each model is labelled with its type; edges carry the property holding the
// child.
func ModelTreeMermaid(specs []domain.ModelSpec, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, spec := range specs {
		safeID := sanitizeMermaidID(spec.ID)
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", safeID, strings.ReplaceAll(spec.Type, "\"", "'"))

		props := make([]string, 0, len(spec.Props))
		for prop := range spec.Props {
			props = append(props, prop)
		}
		sort.Strings(props)
		for _, prop := range props {
			for _, child := range refs(spec.Props[prop]) {
				fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, prop, sanitizeMermaidID(child))
			}
		}
	}
	writeOverlay(&sb, overlay)
	return sb.String()
}

// refs extracts nested model ids from a property value, in memory or after
// a JSON round trip.
func refs(v any) []string {
	switch val := v.(type) {
	case model.Ref:
		return []string{val.ID}
	case []model.Ref:
		ids := make([]string, len(val))
		for i, r := range val {
			ids[i] = r.ID
		}
		return ids
	case map[string]any:
		if id, ok := val["id"].(string); ok && len(val) == 1 {
			return []string{id}
		}
	case []any:
		var ids []string
		for _, item := range val {
			ids = append(ids, refs(item)...)
		}
		return ids
	}
	return nil
}

func writeOverlay(sb *strings.Builder, overlay *Overlay) {
	if overlay == nil || len(overlay.Highlight) == 0 {
		return
	}
	sb.WriteString("\n    %% Overlay Styles\n")
	// Force black text (color:#000) for contrast on either theme.
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	seen := make(map[string]bool)
	for _, id := range overlay.Highlight {
		safeID := sanitizeMermaidID(id)
		if safeID == "" || seen[safeID] {
			continue
		}
		seen[safeID] = true
		fmt.Fprintf(sb, "    class %s current;\n", safeID)
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
