package reply

import (
	"context"
	"errors"

	"pagepilot/internal/knowledge/schema"
)

// ErrUnavailable indicates the external generation service failed; callers
// fall back to a generic acknowledgment so some response is always delivered.
var ErrUnavailable = errors.New("reply generation unavailable")

// Generator produces a short on-brand reply to a customer message, grounded
// in the ranked snippets retrieved for it.
type Generator interface {
	Generate(ctx context.Context, businessName, customerText string, snippets []schema.Snippet) (string, error)
}
