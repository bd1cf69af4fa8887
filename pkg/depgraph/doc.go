// Package depgraph declares computed values over the parameters of a
// param.Object and keeps them consistent with their inputs.
//
// Any change to an input marks the transitive closure of dependents dirty.
// Dirty values are recomputed lazily on the next Get, or eagerly when they
// have watchers. With WithDeferrer, eager recomputation is postponed to the
// scheduler's deferred phase so that a computed value recomputes once per
// tick regardless of how many of its inputs changed.
package depgraph
