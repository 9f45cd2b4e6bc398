package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/core/services"
	"telecare/pkg/config"
	"telecare/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is the wire envelope of the connection channel. Data stays opaque
// until the named handler unmarshals it.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	eventJoinRoom     = "joinRoom"
	eventSendMessage  = "sendMessage"
	eventMessageSeen  = "messageSeen"
	eventCallUser     = "callUser"
	eventAnswerCall   = "answerCall"
	eventICECandidate = "iceCandidate"
	eventCallEnded    = "callEnded"
	eventCancelCall   = "cancelCall"
)

type sendMessagePayload struct {
	SenderID   domain.Identity    `json:"senderId"`
	ReceiverID domain.Identity    `json:"receiverId"`
	Content    string             `json:"content"`
	Type       domain.MessageType `json:"messageType"`
}

type messageSeenPayload struct {
	MessageID domain.MessageID `json:"messageId"`
	SeenBy    domain.Identity  `json:"seenBy"`
	SenderID  domain.Identity  `json:"senderId"`
}

type callUserPayload struct {
	To       domain.Identity `json:"to"`
	From     domain.Identity `json:"from"`
	CallType domain.CallKind `json:"callType"`
	Offer    json.RawMessage `json:"offer"`
}

type answerCallPayload struct {
	To        domain.Identity   `json:"to"`
	From      domain.Identity   `json:"from"`
	Answer    domain.CallAnswer `json:"answer"`
	AnswerSDP json.RawMessage   `json:"answerSDP,omitempty"`
}

type iceCandidatePayload struct {
	To        domain.Identity `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type callTeardownPayload struct {
	To   domain.Identity `json:"to"`
	From domain.Identity `json:"from"`
}

// wsConnection is one gorilla connection wrapped as a channel endpoint.
// Writes are serialized with a mutex because registry fan-out and the ping
// ticker run on different goroutines.
type wsConnection struct {
	id           domain.ConnectionID
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	// identity is bound by the first joinRoom and is authoritative for every
	// later event; client-claimed sender fields are overwritten with it.
	identity domain.Identity
}

func (c *wsConnection) ID() domain.ConnectionID { return c.id }

func (c *wsConnection) Deliver(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(Event{Event: event, Data: data})
}

type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Zero values disable the corresponding limit.
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageSize    int64
}

// NewServerConfig builds a ServerConfig from application config. Per-connection
// limits apply only when rate limiting is enabled; otherwise they stay at their
// zero values and the channel runs unthrottled.
func NewServerConfig(cfg *config.Config) ServerConfig {
	sc := ServerConfig{
		PingInterval: cfg.Channel.PingInterval,
		PongTimeout:  cfg.Channel.PongTimeout,
		ReadTimeout:  cfg.Channel.ReadTimeout,
		WriteTimeout: cfg.Channel.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		sc.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		sc.MessageBurst = cfg.RateLimiting.WebSocket.Burst
		sc.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	return sc
}

// WebSocketServer terminates connection-channel transports and dispatches
// named events to the presence registry, the call relay, and the message
// service. A handler failure never tears down the channel for other
// connections; malformed payloads are logged and dropped.
type WebSocketServer struct {
	registry ports.PresenceRegistry
	relay    ports.CallRelay
	messages ports.MessageService
	auth     services.AuthService // optional; nil disables channel auth
	metrics  ports.MetricsRecorder

	cfg    ServerConfig
	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	registry ports.PresenceRegistry,
	relay ports.CallRelay,
	messages ports.MessageService,
	auth services.AuthService,
	metrics ports.MetricsRecorder,
	cfg ServerConfig,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WebSocketServer{
		registry: registry,
		relay:    relay,
		messages: messages,
		auth:     auth,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// When channel auth is enabled the token identity is authoritative for
	// this connection; joinRoom claims for another identity are dropped.
	var tokenIdentity domain.Identity
	if s.auth != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			claims, err := s.auth.ValidateToken(token)
			if err != nil {
				s.logger.Warnw("channel token rejected",
					"token", utils.MaskSensitive(token, 8),
					"error", err,
				)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			tokenIdentity = claims.Identity
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	wc := &wsConnection{
		id:           domain.ConnectionID(uuid.New().String()),
		conn:         conn,
		writeTimeout: s.cfg.WriteTimeout,
	}

	s.metrics.ConnectionOpened()
	s.logger.Infow("connection opened", "connection_id", wc.id)

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	// PongTimeout bounds how long a silent connection may live between
	// pings; any data message extends the deadline by ReadTimeout.
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	eventChan := make(chan Event, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			eventChan <- ev
		}
	}()

	for {
		select {
		case ev := <-eventChan:
			if limiter != nil && !limiter.Allow() {
				s.metrics.EventDropped(ev.Event, "rate_limited")
				s.logger.Warnw("event rate limit exceeded", "connection_id", wc.id, "event", ev.Event)
				continue
			}
			s.handleEvent(wc, tokenIdentity, ev)

		case <-pingTicker.C:
			wc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wc.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("ping failed", "connection_id", wc.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "connection_id", wc.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.registry.Leave(wc.id)
	s.metrics.ConnectionClosed()
	s.logger.Infow("connection closed", "connection_id", wc.id, "identity", wc.identity)
}

func (s *WebSocketServer) handleEvent(wc *wsConnection, tokenIdentity domain.Identity, ev Event) {
	if ev.Event == "" {
		s.drop(wc, ev, "missing event name")
		return
	}

	if ev.Event == eventJoinRoom {
		s.handleJoinRoom(wc, tokenIdentity, ev)
		return
	}

	// Every other event requires a bound identity; its value overrides any
	// client-claimed sender field.
	if wc.identity == "" {
		s.drop(wc, ev, "event before joinRoom")
		return
	}

	switch ev.Event {
	case eventSendMessage:
		s.handleSendMessage(wc, ev)
	case eventMessageSeen:
		s.handleMessageSeen(wc, ev)
	case eventCallUser:
		var p callUserPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.To == "" {
			s.drop(wc, ev, "malformed payload")
			return
		}
		s.relay.CallUser(wc.identity, p.To, p.CallType, p.Offer)
	case eventAnswerCall:
		var p answerCallPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.To == "" {
			s.drop(wc, ev, "malformed payload")
			return
		}
		s.relay.AnswerCall(wc.identity, p.To, p.Answer, p.AnswerSDP)
	case eventICECandidate:
		var p iceCandidatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.To == "" {
			s.drop(wc, ev, "malformed payload")
			return
		}
		s.relay.RelayCandidate(p.To, p.Candidate)
	case eventCallEnded:
		var p callTeardownPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.To == "" {
			s.drop(wc, ev, "malformed payload")
			return
		}
		s.relay.EndCall(wc.identity, p.To)
	case eventCancelCall:
		var p callTeardownPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.To == "" {
			s.drop(wc, ev, "malformed payload")
			return
		}
		s.relay.CancelCall(wc.identity, p.To)
	default:
		s.drop(wc, ev, "unknown event")
	}
}

// handleJoinRoom accepts either a bare JSON string or {"identity": "..."}.
func (s *WebSocketServer) handleJoinRoom(wc *wsConnection, tokenIdentity domain.Identity, ev Event) {
	var identity domain.Identity
	if err := json.Unmarshal(ev.Data, &identity); err != nil {
		var p struct {
			Identity domain.Identity `json:"identity"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			s.drop(wc, ev, "malformed payload")
			return
		}
		identity = p.Identity
	}
	if identity == "" {
		s.drop(wc, ev, "empty identity")
		return
	}
	if tokenIdentity != "" && identity != tokenIdentity {
		s.drop(wc, ev, "identity does not match token")
		return
	}

	if wc.identity == "" {
		wc.identity = identity
	}
	s.registry.Join(wc, identity)
}

func (s *WebSocketServer) handleSendMessage(wc *wsConnection, ev Event) {
	var p sendMessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil || p.ReceiverID == "" {
		s.drop(wc, ev, "malformed payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.messages.Send(ctx, wc.identity, p.ReceiverID, p.Type, p.Content); err != nil {
		// Persistence failure is isolated to this connection's event.
		s.logger.Errorw("message send failed",
			"connection_id", wc.id,
			"sender", wc.identity,
			"receiver", p.ReceiverID,
			"error", err,
		)
	}
}

func (s *WebSocketServer) handleMessageSeen(wc *wsConnection, ev Event) {
	var p messageSeenPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil || p.MessageID == "" {
		s.drop(wc, ev, "malformed payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The stored message names the sender; the client-supplied senderId is
	// ignored along with seenBy.
	if _, _, err := s.messages.MarkSeen(ctx, p.MessageID, wc.identity); err != nil {
		s.logger.Warnw("mark seen failed",
			"connection_id", wc.id,
			"message_id", p.MessageID,
			"error", err,
		)
	}
}

func (s *WebSocketServer) drop(wc *wsConnection, ev Event, reason string) {
	s.metrics.EventDropped(ev.Event, reason)
	s.logger.Warnw("event dropped",
		"connection_id", wc.id,
		"event", ev.Event,
		"reason", reason,
		"data", utils.TruncateString(string(ev.Data), 256),
	)
}
