/*
Package contextkit is a safety-gated orchestration core for AI tool execution and assistant streaming.

It sits between an application and an AI sidecar service, enforcing capability allowlists, safety-class approvals and per-session concurrency limits on every tool invocation, while keeping a full audit trail of what ran, when and why.

# Concept

Every tool call travels one path: allowlist check, parameter validation, safety classification, approval gate, queue admission, dispatch, telemetry. Read-only tools pass straight through. Mutating tools need one explicit approval; destructive tools need a written justification and two confirmations. Unknown tools are treated as destructive. Assistant streams follow the same admission discipline, with tokens assembled in order and partial content retained on cancellation.

This Hexagonal Architecture keeps the core independent of its surfaces: the same orchestrator serves the HTTP+SSE adapter, the MCP adapter and direct library embedding.

# Key Features

  - Capability gating: tools run only when both the session and the provider profile allowlist them.
  - Safety approvals: a per-invocation state machine with TTL expiry; destructive actions take a reason plus double confirmation.
  - Bounded concurrency: at most three invocations run per session; the rest wait FIFO and can be canceled before they ever start.
  - Streaming: SSE token streams with exactly-once terminal events and ordered assembly.
  - Audit trail: every invocation is recorded with redacted parameters and a terminal status that is written exactly once.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/contextkit"
		"github.com/aretw0/contextkit/pkg/domain"
	)

	func main() {
		kit, err := contextkit.New("http://localhost:8000")
		if err != nil {
			log.Fatal(err)
		}
		defer kit.Close()

		ctx := context.Background()
		sess, err := kit.CreateSession(ctx, "user-1", domain.ProviderOllama)
		if err != nil {
			log.Fatal(err)
		}

		res, err := kit.ExecuteTool(ctx, sess.ID, "context.read", map[string]any{
			"path": "specs/auth.md",
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Println("result:", res.Payload)
	}
*/
package contextkit
