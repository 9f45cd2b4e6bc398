package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
)

const relayChannel = "telecare:relay"

// remoteEvent is the envelope published between gateway instances. Every
// send goes on the wire; the instance_id lets subscribers drop their own
// publications so local connections never see an event twice.
type remoteEvent struct {
	InstanceID string          `json:"instance_id"`
	To         domain.Identity `json:"to"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// relayPublisher is the outbound slice of the redis client. Tests substitute
// it to observe publications without a broker.
type relayPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RelayBridge extends a local presence registry across gateway instances
// using redis pub/sub. Every send is delivered locally and published, so an
// identity with connections on several instances reaches all of them; each
// instance subscribes and delivers events for its own connections, ignoring
// its own publications.
type RelayBridge struct {
	local      ports.PresenceRegistry
	client     *redis.Client
	pub        relayPublisher
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

// NewRelayBridge creates a bridge over a local registry. The bridge
// implements ports.PresenceRegistry so callers stay unaware of it.
func NewRelayBridge(
	local ports.PresenceRegistry,
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *RelayBridge {
	return &RelayBridge{
		local:      local,
		client:     client,
		pub:        client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Join registers a connection on the local registry.
func (b *RelayBridge) Join(conn ports.Connection, identity domain.Identity) {
	b.local.Join(conn, identity)
}

// Leave removes a connection from the local registry.
func (b *RelayBridge) Leave(id domain.ConnectionID) {
	b.local.Leave(id)
}

// Connections reports local connections for an identity.
func (b *RelayBridge) Connections(identity domain.Identity) int {
	return b.local.Connections(identity)
}

// Send delivers to local connections and publishes unconditionally. Local
// delivery must not suppress the publish: the same identity can hold
// connections on other instances at the same time. The return value counts
// local deliveries only; remote ones happen on whichever instance holds the
// connection.
func (b *RelayBridge) Send(identity domain.Identity, event string, payload interface{}) int {
	delivered := b.local.Send(identity, event, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warnw("failed to marshal event for relay",
			"event", event,
			"to", identity,
			"error", err,
		)
		return delivered
	}

	ev := remoteEvent{
		InstanceID: b.instanceID,
		To:         identity,
		Event:      event,
		Payload:    data,
		Timestamp:  time.Now().UTC(),
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warnw("failed to marshal relay envelope", "error", err)
		return delivered
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.pub.Publish(ctx, relayChannel, raw).Err(); err != nil {
		b.logger.Warnw("failed to publish relay event",
			"event", event,
			"to", identity,
			"error", err,
		)
		return delivered
	}

	b.logger.Debugw("published relay event",
		"event", event,
		"to", identity,
	)

	return delivered
}

// Subscribe consumes relay events until the context is cancelled. It is
// meant to run in its own goroutine for the lifetime of the process.
func (b *RelayBridge) Subscribe(ctx context.Context) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, relayChannel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay subscription closed")
			}
			b.deliverRemote([]byte(msg.Payload))
		}
	}
}

// deliverRemote hands one published envelope to the local registry. Events
// this instance published are dropped here: its connections already got them
// from Send, and delivering again would duplicate. Delivery stays local;
// re-publishing would loop events between instances.
func (b *RelayBridge) deliverRemote(raw []byte) int {
	var ev remoteEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		b.logger.Warnw("failed to unmarshal relay event",
			"error", err,
			"payload", string(raw),
		)
		return 0
	}

	if ev.InstanceID == b.instanceID {
		return 0
	}

	delivered := b.local.Send(ev.To, ev.Event, ev.Payload)
	if delivered > 0 {
		b.logger.Debugw("delivered relay event",
			"event", ev.Event,
			"to", ev.To,
			"connections", delivered,
		)
	}
	return delivered
}
