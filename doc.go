/*
Package tether keeps server-side parameter state and remote views in sync.

Objects declare typed parameters (package param). Watchers react to changes
synchronously, computed values (package depgraph) recompute when their inputs
change, and every connected session receives the resulting property patches
once per tick of a single-threaded event loop (package scheduler). Patches
coming back from a browser update the same objects, fire the same watchers
and reach every other session, without being echoed to the sender.

# Usage

	wind := param.MustObject("wind", []param.Parameter{
		{Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6},
	})

	app, err := tether.New(tether.Shared(wind))
	if err != nil {
		log.Fatal(err)
	}
	go app.Run(ctx)

	// A transport adapter (websocket, SSE) connects each peer:
	s, err := app.Connect(ctx, "", transport)

	// Server-side changes are pushed to every session:
	app.Scheduler().ScheduleCallback(func(context.Context) error {
		return wind.Set("speed", 11.4)
	})

The transport adapters live under pkg/adapters; cmd/tether serves a demo
catalog of widgets over HTTP, websocket and SSE.
*/
package tether
