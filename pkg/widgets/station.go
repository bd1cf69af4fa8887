package widgets

import (
	"fmt"

	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/param"
)

// beaufort holds the upper wind speed, in knots, of each Beaufort force.
var beaufort = []float64{1, 3, 6, 10, 16, 21, 27, 33, 40, 47, 55, 63}

// Station is a weather station readout with computed properties.
type Station struct {
	*param.Object

	graph *depgraph.Graph
}

// NewStation creates a weather station. Pass the app deferrer so computed
// values recompute once per tick.
func NewStation(d depgraph.Deferrer) (*Station, error) {
	obj, err := param.NewObject("station", []param.Parameter{
		{Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6, Doc: "Wind speed in knots."},
		{Name: "direction", Type: param.Selector("N", "NE", "E", "SE", "S", "SW", "W", "NW"), Default: "N", Doc: "Wind direction."},
		{Name: "unit", Type: param.Selector("kt", "km/h"), Default: "kt"},
	})
	if err != nil {
		return nil, err
	}
	var opts []depgraph.Option
	if d != nil {
		opts = append(opts, depgraph.WithDeferrer(d))
	}
	g, err := depgraph.New(obj, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.DependsOn("force", func(in map[string]any) (any, error) {
		speed := in["speed"].(float64)
		for f, limit := range beaufort {
			if speed < limit {
				return f, nil
			}
		}
		return len(beaufort), nil
	}, "speed"); err != nil {
		return nil, err
	}
	if err := g.DependsOn("summary", func(in map[string]any) (any, error) {
		speed := in["speed"].(float64)
		if in["unit"] == "km/h" {
			speed *= 1.852
		}
		return fmt.Sprintf("%.1f %s from %s (force %d)", speed, in["unit"], in["direction"], in["force"]), nil
	}, "speed", "direction", "unit", "force"); err != nil {
		return nil, err
	}
	return &Station{Object: obj, graph: g}, nil
}

func (s *Station) ModelType() string { return "Station" }

// Graph implements model.Computed.
func (s *Station) Graph() *depgraph.Graph { return s.graph }
