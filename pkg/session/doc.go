/*
Package session implements assistant session management and persistence
orchestration.

It provides high-level abstractions for handling concurrent access to
sessions across multiple replicas, integrating per-session in-process locks
with distributed locking and long-term storage adapters. Each session carries
a snapshot of its provider's capability profile taken at creation time;
refreshing the profile replaces the snapshot atomically.
*/
package session
