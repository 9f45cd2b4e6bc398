package ports

import (
	"context"
	"encoding/json"

	"telecare/internal/core/domain"
)

type MessageService interface {
	// Send persists the message and, only after the write succeeded, relays
	// it to the receiver's live connections. Relay is best effort.
	Send(ctx context.Context, sender, receiver domain.Identity, msgType domain.MessageType, content string) (*domain.Message, error)
	// MarkSeen flips the seen flag and notifies the original sender. The
	// bool reports whether this call performed the false -> true transition.
	MarkSeen(ctx context.Context, id domain.MessageID, seenBy domain.Identity) (*domain.Message, bool, error)
	Conversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error)
}

// CallRelay forwards call-setup signals between two identities. It holds no
// call state: every method is a single-hop store-and-forward of an opaque
// payload, and a recipient with no live connection is silently skipped.
type CallRelay interface {
	CallUser(from, to domain.Identity, kind domain.CallKind, offer json.RawMessage)
	AnswerCall(from, to domain.Identity, answer domain.CallAnswer, answerSDP json.RawMessage)
	RelayCandidate(to domain.Identity, candidate json.RawMessage)
	EndCall(from, to domain.Identity)
	CancelCall(from, to domain.Identity)
}
