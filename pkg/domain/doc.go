/*
Package domain contains the core domain models for the ContextKit assistant core.

It defines the fundamental entities of tool orchestration, such as Tool
Descriptors, Provider Profiles, Invocation Records and Approvals. This package is
kept pure and free of external dependencies like I/O or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - ToolDescriptor: A schema-described operation invocable through the orchestrator.
  - ProviderProfile: Per-provider capability manifest (tools, streaming, endpoint).
  - InvocationRecord: The audit entry tracking one tool invocation's lifecycle.
  - PendingApproval: The decision record gating mutating/destructive tools.
  - StreamEvent: A token/complete/error event on an assistant stream.
*/
package domain
