/*
Package domain contains the shared vocabulary of the Tether synchronization engine.

It defines the wire records exchanged with the browser, the session lifecycle states,
the error taxonomy and the lifecycle hooks used for observability. This package is kept
pure and free of I/O, following the same hexagonal split as the rest of the module.

# Key Entities

  - Patch: a property-level delta for one model (model_id, property, value).
  - ModelSpec: the flat, JSON-compatible form of a model node.
  - Message / Batch: what a Transport sends and receives.
  - SessionState: CONNECTING, ACTIVE, CLOSING, CLOSED.
*/
package domain
