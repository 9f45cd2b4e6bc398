package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"telecare/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id, sender, receiver string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:         domain.MessageID(id),
		SenderID:   domain.Identity(sender),
		ReceiverID: domain.Identity(receiver),
		Type:       domain.MessageTypeText,
		Content:    "hello",
		CreatedAt:  at,
	}
}

func TestCreateAndGetByID(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	msg := testMessage("m1", "doctor1", "patient5", time.Now())
	require.NoError(t, repo.Create(ctx, msg))

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, msg.Content, got.Content)

	// The stored record is isolated from caller mutation.
	got.Content = "tampered"
	again, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Content)
}

func TestCreate_DuplicateID(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testMessage("m1", "a", "b", time.Now())))
	assert.Error(t, repo.Create(ctx, testMessage("m1", "a", "b", time.Now())))
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewMemoryMessageRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestFindConversation_BothDirectionsOldestFirst(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.Create(ctx, testMessage("m2", "patient5", "doctor1", base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, testMessage("m1", "doctor1", "patient5", base)))
	require.NoError(t, repo.Create(ctx, testMessage("m3", "doctor1", "patient9", base)))

	conversation, err := repo.FindConversation(ctx, "doctor1", "patient5")
	require.NoError(t, err)
	require.Len(t, conversation, 2)
	assert.Equal(t, domain.MessageID("m1"), conversation[0].ID)
	assert.Equal(t, domain.MessageID("m2"), conversation[1].ID)

	// Argument order must not matter.
	reversed, err := repo.FindConversation(ctx, "patient5", "doctor1")
	require.NoError(t, err)
	require.Len(t, reversed, 2)
	assert.Equal(t, domain.MessageID("m1"), reversed[0].ID)
}

func TestMarkSeen_TransitionReportedExactlyOnce(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testMessage("m1", "doctor1", "patient5", time.Now())))

	msg, changed, err := repo.MarkSeen(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, msg.Seen)

	msg, changed, err = repo.MarkSeen(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, msg.Seen)
}

func TestMarkSeen_NotFound(t *testing.T) {
	repo := NewMemoryMessageRepository()

	_, _, err := repo.MarkSeen(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

// Concurrent MarkSeen calls race on the same record; exactly one may win the
// false -> true transition.
func TestMarkSeen_ConcurrentSingleWinner(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testMessage("m1", "doctor1", "patient5", time.Now())))

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := repo.MarkSeen(ctx, "m1")
			if err == nil && changed {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners)
}
