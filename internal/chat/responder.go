package chat

import (
	"context"
	"fmt"
)

// Responder produces the assistant reply appended after each user message.
// Implementations are invoked synchronously inside the append; the HTTP
// response carries their result.
type Responder interface {
	Reply(ctx context.Context, session Session, content string) (string, error)
}

// EchoResponder replies with the user's own message.
type EchoResponder struct{}

// Reply implements Responder.
func (EchoResponder) Reply(_ context.Context, _ Session, content string) (string, error) {
	return fmt.Sprintf("Echo: %s", content), nil
}
