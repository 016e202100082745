// Package mcp exposes the orchestrator as an MCP server so agent hosts can
// drive sessions and tool invocations over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/contextkit"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/orchestrator"
	"github.com/aretw0/contextkit/pkg/ports"
	"github.com/aretw0/contextkit/pkg/session"
)

// ExecutionResponse is the structured result of an execute_tool call.
type ExecutionResponse struct {
	InvocationID string         `json:"invocationId" jsonschema_description:"Identifier of the invocation in the audit trail"`
	Result       map[string]any `json:"result,omitempty" jsonschema_description:"Tool result payload"`
	ApprovalID   string         `json:"approvalId,omitempty" jsonschema_description:"Set when the invocation is gated on an approval"`
	Pending      bool           `json:"pending,omitempty" jsonschema_description:"True while an approval decision is outstanding"`
}

// AssistResponse is the structured result of an assist call.
type AssistResponse struct {
	InvocationID string `json:"invocationId" jsonschema_description:"Identifier of the stream invocation"`
	Content      string `json:"content" jsonschema_description:"Fully assembled assistant answer"`
	Tokens       int    `json:"tokens" jsonschema_description:"Number of tokens streamed"`
}

// Server wraps the orchestrator and exposes it as an MCP Server.
type Server struct {
	core      *orchestrator.Orchestrator
	sessions  *session.Manager
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(core *orchestrator.Orchestrator, sessions *session.Manager) *Server {
	s := &Server{
		core:      core,
		sessions:  sessions,
		mcpServer: server.NewMCPServer("contextkit-mcp", contextkit.Version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("\nShutdown signal received, shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: create_session
	createTool := mcp.NewTool("create_session",
		mcp.WithDescription("Create an assistant session bound to a provider profile."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id: azure-openai or ollama")),
		mcp.WithString("user_id", mcp.Description("Identifier of the session owner (optional)")),
		mcp.WithString("system_prompt", mcp.Description("Override for the default system prompt (optional)")),
	)
	s.mcpServer.AddTool(createTool, s.handleCreateSession)

	// TOOL: execute_tool
	executeTool := mcp.NewTool("execute_tool",
		mcp.WithDescription("Execute an allowlisted sidecar tool inside a session. Mutating and destructive tools answer with a pending approval id instead of running."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithString("tool_id", mcp.Required(), mcp.Description("Tool identifier, e.g. context.read")),
		mcp.WithString("parameters", mcp.Description("JSON object of tool parameters (optional)")),
		mcp.WithString("invocation_id", mcp.Description("Invocation id to resume after its approval resolved (optional)")),
		mcp.WithOutputSchema[ExecutionResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecuteTool))

	// TOOL: assist
	assistTool := mcp.NewTool("assist",
		mcp.WithDescription("Ask the assistant a question and wait for the fully assembled answer."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question for the assistant")),
		mcp.WithOutputSchema[AssistResponse](),
	)
	s.mcpServer.AddTool(assistTool, mcp.NewStructuredToolHandler(s.handleAssist))

	// TOOL: rag_query
	ragTool := mcp.NewTool("rag_query",
		mcp.WithDescription("Run a retrieval-augmented query over the indexed repository."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
	)
	s.mcpServer.AddTool(ragTool, s.handleRAGQuery)

	// TOOL: resolve_approval
	resolveTool := mcp.NewTool("resolve_approval",
		mcp.WithDescription("Resolve a pending safety approval. Action approve resolves mutating gates; destructive gates need confirm, reason, confirm in that order."),
		mcp.WithString("approval_id", mcp.Required(), mcp.Description("Approval id returned by execute_tool")),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: approve, deny, confirm, reason")),
		mcp.WithString("reason", mcp.Description("Justification text, required for action=reason")),
	)
	s.mcpServer.AddTool(resolveTool, s.handleResolveApproval)

	// TOOL: cancel_invocation
	cancelTool := mcp.NewTool("cancel_invocation",
		mcp.WithDescription("Cancel a queued or running invocation."),
		mcp.WithString("invocation_id", mcp.Required(), mcp.Description("Invocation id to cancel")),
	)
	s.mcpServer.AddTool(cancelTool, s.handleCancel)
}

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := request.GetString("provider", "")
	if provider == "" {
		return mcp.NewToolResultError("provider is required"), nil
	}

	sess, err := s.sessions.Create(ctx, session.CreateRequest{
		UserID:       request.GetString("user_id", ""),
		Provider:     domain.Provider(provider),
		SystemPrompt: request.GetString("system_prompt", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create session failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(sess)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExecuteTool(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ExecutionResponse, error) {
	sessionID, _ := args["session_id"].(string)
	toolID, _ := args["tool_id"].(string)

	params := map[string]any{}
	if paramStr, ok := args["parameters"].(string); ok && paramStr != "" {
		if err := json.Unmarshal([]byte(paramStr), &params); err != nil {
			return ExecutionResponse{}, fmt.Errorf("parameters must be a JSON object: %w", err)
		}
	}

	var opts []orchestrator.CallOption
	if invID, ok := args["invocation_id"].(string); ok && invID != "" {
		opts = append(opts, orchestrator.WithInvocationID(invID))
	}

	res, err := s.core.ExecuteTool(ctx, sessionID, toolID, params, opts...)
	if err != nil {
		if domain.IsKind(err, domain.KindApprovalRequired) && res != nil && res.ApprovalID != "" {
			return ExecutionResponse{
				InvocationID: res.InvocationID,
				ApprovalID:   res.ApprovalID,
				Pending:      true,
			}, nil
		}
		return ExecutionResponse{}, fmt.Errorf("execute failed: %w", err)
	}

	return ExecutionResponse{
		InvocationID: res.InvocationID,
		Result:       res.Payload,
	}, nil
}

// handleAssist bridges the token stream into a blocking call; MCP tool calls
// have no incremental channel, so the host gets the assembled answer.
func (s *Server) handleAssist(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (AssistResponse, error) {
	sessionID, _ := args["session_id"].(string)
	question, _ := args["question"].(string)

	question, err := domain.SanitizeInput(question)
	if err != nil {
		return AssistResponse{}, fmt.Errorf("question rejected: %w", err)
	}

	done := make(chan streamOutcome, 1)

	handle, err := s.core.StreamAssist(ctx, sessionID, question, streamCollector(done))
	if err != nil {
		return AssistResponse{}, fmt.Errorf("assist failed: %w", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			return AssistResponse{}, fmt.Errorf("assist stream failed: %w", out.err)
		}
		return AssistResponse{
			InvocationID: handle.InvocationID,
			Content:      out.content,
			Tokens:       out.tokens,
		}, nil
	case <-ctx.Done():
		handle.Cancel()
		return AssistResponse{}, ctx.Err()
	}
}

func (s *Server) handleRAGQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	query := request.GetString("query", "")
	if sessionID == "" || query == "" {
		return mcp.NewToolResultError("session_id and query are required"), nil
	}

	resp, err := s.core.RAGQuery(ctx, sessionID, domain.RAGQueryRequest{Query: query})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rag query failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleResolveApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID := request.GetString("approval_id", "")
	action := request.GetString("action", "")
	if approvalID == "" || action == "" {
		return mcp.NewToolResultError("approval_id and action are required"), nil
	}

	approvals := s.core.Approvals()
	var err error
	switch action {
	case "approve":
		err = approvals.Approve(approvalID)
	case "deny":
		err = approvals.Deny(approvalID)
	case "confirm":
		err = approvals.ConfirmDestructive(approvalID)
	case "reason":
		err = approvals.SetReason(approvalID, request.GetString("reason", ""))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approval %s failed: %v", action, err)), nil
	}

	ap, err := approvals.Get(approvalID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approval lookup failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(ap)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invocationID := request.GetString("invocation_id", "")
	if invocationID == "" {
		return mcp.NewToolResultError("invocation_id is required"), nil
	}
	canceled := s.core.Cancel(invocationID)
	return mcp.NewToolResultText(fmt.Sprintf(`{"canceled":%t}`, canceled)), nil
}

func (s *Server) registerResources() {
	// EXPOSE: contextkit://tools
	s.mcpServer.AddResource(mcp.NewResource("contextkit://tools", "Tool Catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.core.Registry().Tools())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "contextkit://tools",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	// EXPOSE: contextkit://approvals
	s.mcpServer.AddResource(mcp.NewResource("contextkit://approvals", "Pending Approvals",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.core.Approvals().Pending())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal approvals: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "contextkit://approvals",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

type streamOutcome struct {
	content string
	tokens  int
	err     error
}

// streamCollector waits for the terminal callback and forwards the result.
func streamCollector(done chan<- streamOutcome) ports.StreamHandler {
	return ports.StreamHandler{
		OnComplete: func(fullContent string, totalTokens int, durationMs float64) {
			done <- streamOutcome{content: fullContent, tokens: totalTokens}
		},
		OnError: func(err error) {
			done <- streamOutcome{err: err}
		},
	}
}
