/*
Package session binds parameterized objects to remote peers.

A Session mirrors the objects attached to it as a tree of model nodes, watches
their parameters and computed values, and queues the resulting patches in an
Outbox. The scheduler flushes every outbox once per tick, so a burst of
changes reaches each peer as one batch. Patches coming back from a peer are
applied to the objects without being echoed to the sender.

Lifecycle:

	CONNECTING --Open--> ACTIVE --Close / transport failure--> CLOSING --> CLOSED

The Registry indexes live sessions by ID and is safe for concurrent reads.
Everything else belongs to the loop goroutine.
*/
package session
