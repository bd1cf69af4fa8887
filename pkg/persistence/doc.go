/*
Package persistence saves and restores parameter values across restarts.

A Manager serializes access to snapshot keys within the process and, when a
DistributedLocker is configured, across replicas sharing one SnapshotStore.
Capture and Restore convert between a parameterized object and the
domain.Snapshot the stores persist.
*/
package persistence
