package services

import (
	"context"
	"fmt"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/cache"
)

// CachedMessageService wraps MessageService with short-lived caching of
// conversation history. Writes invalidate the affected conversation so a
// history fetch right after a send sees the new message.
type CachedMessageService struct {
	baseService ports.MessageService
	cache       *cache.CacheWithFallback
	historyTTL  time.Duration
}

func NewCachedMessageService(baseService ports.MessageService, historyTTL time.Duration) ports.MessageService {
	return &CachedMessageService{
		baseService: baseService,
		cache:       cache.NewCacheWithFallback(historyTTL),
		historyTTL:  historyTTL,
	}
}

// conversationKey is order-independent so both participants share one entry.
func conversationKey(a, b domain.Identity) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("conversation:%s:%s", a, b)
}

func (s *CachedMessageService) Send(ctx context.Context, sender, receiver domain.Identity, msgType domain.MessageType, content string) (*domain.Message, error) {
	msg, err := s.baseService.Send(ctx, sender, receiver, msgType, content)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(conversationKey(sender, receiver))
	return msg, nil
}

func (s *CachedMessageService) MarkSeen(ctx context.Context, id domain.MessageID, seenBy domain.Identity) (*domain.Message, bool, error) {
	msg, changed, err := s.baseService.MarkSeen(ctx, id, seenBy)
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.cache.Invalidate(conversationKey(msg.SenderID, msg.ReceiverID))
	}
	return msg, changed, nil
}

func (s *CachedMessageService) Conversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error) {
	value, err := s.cache.GetOrSet(ctx, conversationKey(a, b), func(ctx context.Context) (interface{}, error) {
		return s.baseService.Conversation(ctx, a, b)
	}, s.historyTTL)

	if err != nil {
		return nil, err
	}
	return value.([]*domain.Message), nil
}
