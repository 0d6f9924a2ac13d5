package ports

import (
	"context"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Transport delivers prompts to the outside world. The engine is agnostic to
// how messages and input affordances (buttons, free text, hidden input) are
// actually rendered; raw input events travel the other way, from the
// transport into the dispatcher.
type Transport interface {
	DeliverPrompt(ctx context.Context, prompt *dialog.Prompt) error
}

// PermissionChecker is the capability check consulted before starting a
// chain whose permission set is non-empty.
type PermissionChecker interface {
	IsPermitted(ctx context.Context, identity dialog.Identity, required []string) bool
}
