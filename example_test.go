package tether_test

import (
	"context"
	"fmt"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/param"
)

func Example() {
	ctx := context.Background()
	wind := param.MustObject("wind", []param.Parameter{
		{Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6},
	})
	_, _ = wind.Watch([]string{"speed"}, func(cs []param.Change) error {
		fmt.Printf("speed %v -> %v\n", cs[0].Old, cs[0].New)
		return nil
	}, param.ModeValueAndOld)

	app, _ := tether.New(tether.Shared(wind))
	tr := memory.NewTransport(4)
	_, _ = app.Connect(ctx, "browser", tr)

	_ = app.Scheduler().ScheduleCallback(func(context.Context) error {
		return wind.Set("speed", 11.4)
	})
	app.Scheduler().Tick(ctx)

	for _, p := range tr.Patches() {
		fmt.Printf("patch %s = %v\n", p.Property, p.Value)
	}
	// Output:
	// speed 8.6 -> 11.4
	// patch speed = 11.4
}
