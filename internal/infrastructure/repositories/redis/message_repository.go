package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// markSeenScript flips the seen flag false -> true atomically. Two racing
// callers cannot both observe an unseen message: the second caller gets
// changed=0. Returns {document, changed}.
var markSeenScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local m = cjson.decode(v)
if m.seen then
  return {v, 0}
end
m.seen = true
local nv = cjson.encode(m)
redis.call('SET', KEYS[1], nv)
return {nv, 1}
`)

type RedisMessageRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageRepository(client *redis.Client) ports.MessageRepository {
	return &RedisMessageRepository{
		client: client,
		prefix: "telecare:message:",
	}
}

func (r *RedisMessageRepository) messageKey(id domain.MessageID) string {
	return r.prefix + string(id)
}

// conversationKey is order-independent so both directions of a chat share
// one index.
func (r *RedisMessageRepository) conversationKey(a, b domain.Identity) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("telecare:conversation:%s:%s", a, b)
}

func (r *RedisMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := r.messageKey(msg.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set message in Redis: %w", err)
	}

	convKey := r.conversationKey(msg.SenderID, msg.ReceiverID)
	member := redis.Z{
		Score:  float64(msg.CreatedAt.UnixNano()),
		Member: string(msg.ID),
	}
	if err := r.client.ZAdd(ctx, convKey, member).Err(); err != nil {
		return fmt.Errorf("failed to index message in conversation: %w", err)
	}

	return nil
}

func (r *RedisMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	data, err := r.client.Get(ctx, r.messageKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message from Redis: %w", err)
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (r *RedisMessageRepository) FindConversation(ctx context.Context, a, b domain.Identity) ([]*domain.Message, error) {
	ids, err := r.client.ZRange(ctx, r.conversationKey(a, b), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.messageKey(domain.MessageID(id))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation messages: %w", err)
	}

	messages := make([]*domain.Message, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			// Index entry without a document; skip rather than fail the fetch.
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

func (r *RedisMessageRepository) MarkSeen(ctx context.Context, id domain.MessageID) (*domain.Message, bool, error) {
	res, err := markSeenScript.Run(ctx, r.client, []string{r.messageKey(id)}).Result()
	if err == redis.Nil {
		return nil, false, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark message seen: %w", err)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, false, fmt.Errorf("unexpected mark seen script result: %v", res)
	}

	data, _ := pair[0].(string)
	changed, _ := pair[1].(int64)

	var msg domain.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, changed == 1, nil
}
