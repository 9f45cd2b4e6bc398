package services

import (
	"context"
	"fmt"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// messageService persists chat messages and fans them out to the receiver's
// live connections. Persistence is the delivery guarantee; the live relay is
// a best-effort latency optimization and its failures are swallowed.
type messageService struct {
	store    ports.MessageRepository
	registry ports.PresenceRegistry
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewMessageService(
	store ports.MessageRepository,
	registry ports.PresenceRegistry,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) ports.MessageService {
	return &messageService{
		store:    store,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *messageService) Send(ctx context.Context, sender, receiver domain.Identity, msgType domain.MessageType, content string) (*domain.Message, error) {
	if sender == "" || receiver == "" {
		return nil, domain.ErrEmptyIdentity
	}
	content = utils.SanitizeString(content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}
	switch msgType {
	case domain.MessageTypeText, domain.MessageTypeVoice:
	default:
		return nil, domain.ErrInvalidMessageType
	}

	msg := &domain.Message{
		ID:         domain.MessageID(uuid.New().String()),
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       msgType,
		Content:    content,
		Seen:       false,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	s.metrics.MessagePersisted(msgType)

	// Live relay fires only for durably stored messages. An offline receiver
	// sees the message on the next history fetch.
	delivered := s.registry.Send(receiver, EventReceiveMessage, msg)
	s.metrics.EventRelayed(EventReceiveMessage, delivered)

	s.logger.Infow("message sent",
		"message_id", msg.ID,
		"sender", sender,
		"receiver", receiver,
		"message_type", msgType,
		"live_deliveries", delivered,
	)
	return msg, nil
}

func (s *messageService) MarkSeen(ctx context.Context, id domain.MessageID, seenBy domain.Identity) (*domain.Message, bool, error) {
	// Only the receiver may flip the seen flag; anyone else bound to the
	// channel could otherwise forge read receipts for messages they never got.
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing.ReceiverID != seenBy {
		s.logger.Warnw("seen rejected", "message_id", id, "seen_by", seenBy, "receiver", existing.ReceiverID)
		return nil, false, fmt.Errorf("%w: %s", domain.ErrNotReceiver, seenBy)
	}

	msg, changed, err := s.store.MarkSeen(ctx, id)
	if err != nil {
		return nil, false, err
	}
	s.metrics.SeenTransition(changed)

	// Fire-and-forget regardless of how many times the seen event was
	// triggered; the conditional store update is what bounds duplicates.
	delivered := s.registry.Send(msg.SenderID, EventMessageSeenUpdate, MessageSeenPayload{
		MessageID: msg.ID,
		SeenBy:    seenBy,
	})
	s.metrics.EventRelayed(EventMessageSeenUpdate, delivered)

	if changed {
		s.logger.Infow("message seen", "message_id", id, "seen_by", seenBy, "sender", msg.SenderID)
	}
	return msg, changed, nil
}

func (s *messageService) Conversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error) {
	if a == "" || b == "" {
		return nil, domain.ErrEmptyIdentity
	}
	return s.store.FindConversation(ctx, a, b)
}
