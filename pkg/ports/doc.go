/*
Package ports defines the driven ports (interfaces) for the ContextKit core.

These interfaces decouple the orchestration logic from external
implementations, allowing the core to work with various storage backends,
transports and observers.

# Key Interfaces

  - RecordStore: Persists invocation telemetry records (append-only audit log).
  - SessionStore: Persists assistant sessions.
  - Transport: The sidecar client boundary (request/response and SSE streams).
  - EventEmitter: Fire-and-forget progress publishing toward the UI layer.
  - DistributedLocker: Distributed locking for concurrent session access.
*/
package ports
