package ports

import (
	"context"

	"telecare/internal/core/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	// FindConversation returns every message exchanged between the two
	// identities, oldest first.
	FindConversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error)
	// MarkSeen flips the seen flag false -> true. The update is conditional:
	// it returns (true, nil) only for the call that actually changed the
	// record, (false, nil) when the flag was already set.
	MarkSeen(ctx context.Context, id domain.MessageID) (*domain.Message, bool, error)
}
