// Package param provides typed, constrained and observable parameters.
//
// An Object owns an ordered set of Parameter declarations and their current
// values. Every assignment is validated against the parameter's Type before it
// is stored; a rejected assignment returns a *domain.ValidationError and leaves
// the value untouched. Accepted assignments synchronously notify the watchers
// registered for that parameter, in registration order.
//
//	obj := param.MustObject("wind", []param.Parameter{
//	    {Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6},
//	})
//
//	sub, _ := obj.Watch([]string{"speed"}, func(cs []param.Change) error {
//	    fmt.Println("speed is now", cs[0].New)
//	    return nil
//	}, param.ModeValue)
//	defer sub.Cancel()
//
//	_ = obj.Set("speed", 11.4)
//
// Watchers may assign other parameters. Reentrant dispatch is bounded per
// object (see WithMaxDepth); a chain that goes deeper fails the triggering
// assignment with a *domain.RecursionLimitError.
//
// Objects are not safe for concurrent use. Mutations are expected to run on
// the scheduler's goroutine.
package param
