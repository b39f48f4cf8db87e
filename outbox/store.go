package outbox

import (
	"context"

	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// Store defines the persistence contract for outbox messages.
//
// Messages are only ever appended inside the store's atomic business
// transaction (see the admission store contract); there is no standalone
// append here, which keeps partial publishes unrepresentable.
type Store interface {
	// PendingMessages returns up to limit unpublished messages in
	// creation order.
	PendingMessages(ctx context.Context, limit int) ([]*Message, error)

	// MarkPublished stamps the message as handed to the queue. The
	// transition is idempotent: marking an already-published message is
	// a no-op, and the stamp is never cleared.
	MarkPublished(ctx context.Context, msgID id.MessageID) error
}
