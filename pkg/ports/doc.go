/*
Package ports defines the driven ports (interfaces) of the synchronization engine.

These interfaces decouple sessions and the application facade from concrete
channels and storage backends.

# Key Interfaces

  - Transport: Ordered, reliable delivery of patch batches to one remote peer (WebSocket, SSE, memory).
  - SnapshotStore: Persists and restores parameter values (Redis, memory).
  - DistributedLocker: Serializes snapshot writes across replicas.
*/
package ports
