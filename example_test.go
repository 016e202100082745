package contextkit_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/contextkit"
	"github.com/aretw0/contextkit/internal/testutils"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// Example demonstrates executing a read-only tool through the orchestration
// path. A scripted transport stands in for the sidecar.
func Example() {
	kit, err := contextkit.New("", contextkit.WithTransport(&testutils.FakeTransport{}))
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

	fmt.Println("ok:", res.Payload["ok"])
	// Output: ok: true
}

// ExampleClient_StreamAssist streams an assistant answer token by token and
// prints the assembled content.
func ExampleClient_StreamAssist() {
	kit, err := contextkit.New("", contextkit.WithTransport(&testutils.FakeTransport{}))
	if err != nil {
		log.Fatal(err)
	}
	defer kit.Close()

	ctx := context.Background()
	sess, err := kit.CreateSession(ctx, "user-1", domain.ProviderOllama)
	if err != nil {
		log.Fatal(err)
	}

	done := make(chan string, 1)
	_, err = kit.StreamAssist(ctx, sess.ID, "greet me", ports.StreamHandler{
		OnComplete: func(fullContent string, totalTokens int, durationMs float64) {
			done <- fullContent
		},
		OnError: func(err error) {
			done <- "error: " + err.Error()
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(<-done)
	// Output: Hello, world
}
