package contextkit_test

import (
	"context"
	"testing"

	"github.com/aretw0/contextkit"
	"github.com/aretw0/contextkit/internal/testutils"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/orchestrator"
)

func TestFacade_Integration(t *testing.T) {
	// 1. Test Initialization
	kit, err := contextkit.New("", contextkit.WithTransport(&testutils.FakeTransport{}))
	if err != nil {
		t.Fatalf("Failed to initialize client: %v", err)
	}
	defer kit.Close()

	ctx := context.Background()

	// 2. Session lifecycle
	sess, err := kit.CreateSession(ctx, "it-user", domain.ProviderOllama)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.Provider != domain.ProviderOllama {
		t.Errorf("Expected provider ollama, got %s", sess.Provider)
	}
	if sess.Profile.Model == "" {
		t.Error("Expected session profile to carry a model from the manifest")
	}

	// 3. Read-only tool runs straight through
	res, err := kit.ExecuteTool(ctx, sess.ID, "context.read", map[string]any{"path": "go.mod"})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if !res.OK {
		t.Errorf("Expected successful invocation, got %+v", res)
	}

	// 4. Mutating tool is gated until approved
	res, err = kit.ExecuteTool(ctx, sess.ID, "pipeline.generate", map[string]any{"template": "basic"})
	if !domain.IsKind(err, domain.KindApprovalRequired) {
		t.Fatalf("Expected approval-required error, got: %v", err)
	}
	if res == nil || res.ApprovalID == "" {
		t.Fatal("Expected a pending approval id on the gated result")
	}

	if err := kit.Orchestrator().Approvals().Approve(res.ApprovalID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	res, err = kit.ExecuteTool(ctx, sess.ID, "pipeline.generate",
		map[string]any{"template": "basic"},
		orchestrator.WithInvocationID(res.InvocationID),
	)
	if err != nil {
		t.Fatalf("Resume after approval failed: %v", err)
	}
	if !res.OK {
		t.Errorf("Expected approved invocation to succeed, got %+v", res)
	}

	// 5. Audit trail covers both invocations
	trail, err := kit.Orchestrator().Recorder().Export(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(trail) != 2 {
		t.Errorf("Expected 2 audit records, got %d", len(trail))
	}
	for _, rec := range trail {
		if rec.Status != domain.InvocationSucceeded {
			t.Errorf("Expected record %s to be succeeded, got %s", rec.ID, rec.Status)
		}
	}
}
