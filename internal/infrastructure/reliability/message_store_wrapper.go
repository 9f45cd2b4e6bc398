package reliability

import (
	"context"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/circuitbreaker"
	"telecare/pkg/retry"

	"go.uber.org/zap"
)

// MessageStoreWrapper decorates a MessageRepository with retry logic and a
// circuit breaker. Every operation is idempotent at the storage layer (set
// by ID, sorted-set index, conditional seen flip), so retrying a failed
// write cannot duplicate a message.
type MessageStoreWrapper struct {
	store  ports.MessageRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewMessageStoreWrapper(
	store ports.MessageRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *MessageStoreWrapper {
	// Retrying against an open circuit only delays the caller.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, circuitbreaker.ErrOpen)

	wrapper := &MessageStoreWrapper{
		store:          store,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("message store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *MessageStoreWrapper) execute(ctx context.Context, fn func() error) error {
	if !w.retryConfig.Enabled {
		return w.circuitBreaker.Execute(ctx, fn)
	}
	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, fn)
	})
}

func (w *MessageStoreWrapper) Create(ctx context.Context, msg *domain.Message) error {
	return w.execute(ctx, func() error {
		return w.store.Create(ctx, msg)
	})
}

func (w *MessageStoreWrapper) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	var msg *domain.Message
	err := w.execute(ctx, func() error {
		var innerErr error
		msg, innerErr = w.store.GetByID(ctx, id)
		return innerErr
	})
	return msg, err
}

func (w *MessageStoreWrapper) FindConversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error) {
	var msgs []*domain.Message
	err := w.execute(ctx, func() error {
		var innerErr error
		msgs, innerErr = w.store.FindConversation(ctx, a, b)
		return innerErr
	})
	return msgs, err
}

func (w *MessageStoreWrapper) MarkSeen(ctx context.Context, id domain.MessageID) (*domain.Message, bool, error) {
	var (
		msg     *domain.Message
		changed bool
	)
	err := w.execute(ctx, func() error {
		var innerErr error
		msg, changed, innerErr = w.store.MarkSeen(ctx, id)
		return innerErr
	})
	return msg, changed, err
}
