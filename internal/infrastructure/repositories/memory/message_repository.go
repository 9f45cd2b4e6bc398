package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
)

type MemoryMessageRepository struct {
	messages map[domain.MessageID]*domain.Message
	mu       sync.RWMutex
}

func NewMemoryMessageRepository() ports.MessageRepository {
	return &MemoryMessageRepository{
		messages: make(map[domain.MessageID]*domain.Message),
	}
}

func (r *MemoryMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrMessageExists, msg.ID)
	}

	stored := *msg
	r.messages[msg.ID] = &stored
	return nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}

	out := *msg
	return &out, nil
}

func (r *MemoryMessageRepository) FindConversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conversation []*domain.Message
	for _, msg := range r.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out := *msg
			conversation = append(conversation, &out)
		}
	}

	sort.Slice(conversation, func(i, j int) bool {
		return conversation[i].CreatedAt.Before(conversation[j].CreatedAt)
	})

	return conversation, nil
}

// MarkSeen performs the false -> true transition under the write lock, so two
// racing calls cannot both observe "not yet seen".
func (r *MemoryMessageRepository) MarkSeen(ctx context.Context, id domain.MessageID) (*domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, false, domain.ErrMessageNotFound
	}

	if msg.Seen {
		out := *msg
		return &out, false, nil
	}

	msg.Seen = true
	out := *msg
	return &out, true, nil
}
