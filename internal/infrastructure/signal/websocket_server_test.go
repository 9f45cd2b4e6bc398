package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/core/services"
	"telecare/internal/infrastructure/repositories/memory"
	"telecare/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type channelFixture struct {
	server   *httptest.Server
	registry *PresenceRegistry
	store    ports.MessageRepository
	auth     services.AuthService
}

func newChannelFixture(t *testing.T, withAuth bool) *channelFixture {
	return newChannelFixtureConfig(t, withAuth, ServerConfig{
		PingInterval: time.Second,
		PongTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
	})
}

func newChannelFixtureConfig(t *testing.T, withAuth bool, cfg ServerConfig) *channelFixture {
	t.Helper()

	logger := zap.NewNop().Sugar()
	registry := NewPresenceRegistry(logger)
	store := memory.NewMemoryMessageRepository()
	relay := services.NewCallRelay(registry, ports.NopMetrics(), logger)
	messages := services.NewMessageService(store, registry, ports.NopMetrics(), logger)

	var auth services.AuthService
	if withAuth {
		auth = services.NewAuthService("test-secret", time.Hour, 24*time.Hour)
	}

	ws := NewWebSocketServer(registry, relay, messages, auth, ports.NopMetrics(), cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &channelFixture{
		server:   server,
		registry: registry,
		store:    store,
		auth:     auth,
	}
}

func (f *channelFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *channelFixture) join(t *testing.T, conn *websocket.Conn, identity string) {
	t.Helper()

	emit(t, conn, "joinRoom", identity)
	require.Eventually(t, func() bool {
		return f.registry.Connections(domain.Identity(identity)) > 0
	}, 2*time.Second, 10*time.Millisecond, "identity %s never joined", identity)
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Event{Event: event, Data: data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestCallSetup_EndToEnd(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	offer := `{"type":"offer","sdp":"v=0\r\no=- 4611731 2 IN IP4 127.0.0.1\r\n"}`
	emit(t, doctor, "callUser", map[string]interface{}{
		"to":       "patient5",
		"from":     "someone-else", // must be overridden by the bound identity
		"callType": "video",
		"offer":    json.RawMessage(offer),
	})

	ev := readEvent(t, patient)
	assert.Equal(t, "incomingCall", ev.Event)

	var call struct {
		From     string          `json:"from"`
		To       string          `json:"to"`
		CallType string          `json:"callType"`
		Offer    json.RawMessage `json:"offer"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &call))
	assert.Equal(t, "doctor1", call.From)
	assert.Equal(t, "patient5", call.To)
	assert.Equal(t, "video", call.CallType)
	assert.JSONEq(t, offer, string(call.Offer))

	// Callee accepts; caller receives callAnswered with the answer SDP.
	answerSDP := `{"type":"answer","sdp":"v=0\r\n"}`
	emit(t, patient, "answerCall", map[string]interface{}{
		"to":        "doctor1",
		"answer":    "accepted",
		"answerSDP": json.RawMessage(answerSDP),
	})

	ev = readEvent(t, doctor)
	assert.Equal(t, "callAnswered", ev.Event)

	var answered struct {
		From      string          `json:"from"`
		Answer    string          `json:"answer"`
		AnswerSDP json.RawMessage `json:"answerSDP"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &answered))
	assert.Equal(t, "patient5", answered.From)
	assert.Equal(t, "accepted", answered.Answer)
	assert.JSONEq(t, answerSDP, string(answered.AnswerSDP))

	// Trickle a candidate each way.
	candidate := `{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 54321 typ host","sdpMid":"0"}`
	emit(t, doctor, "iceCandidate", map[string]interface{}{
		"to":        "patient5",
		"candidate": json.RawMessage(candidate),
	})

	ev = readEvent(t, patient)
	assert.Equal(t, "iceCandidate", ev.Event)
	var ice struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &ice))
	assert.JSONEq(t, candidate, string(ice.Candidate))

	// Hang up.
	emit(t, doctor, "callEnded", map[string]string{"to": "patient5"})
	ev = readEvent(t, patient)
	assert.Equal(t, "callEnded", ev.Event)
	var ended struct {
		From string `json:"from"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &ended))
	assert.Equal(t, "doctor1", ended.From)
}

func TestCancelCall_ReachesCalleeAsCallCancelled(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	emit(t, doctor, "callUser", map[string]interface{}{
		"to":       "patient5",
		"callType": "audio",
		"offer":    json.RawMessage(`{"type":"offer"}`),
	})
	readEvent(t, patient) // incomingCall

	emit(t, doctor, "cancelCall", map[string]string{"to": "patient5"})
	ev := readEvent(t, patient)
	assert.Equal(t, "callCancelled", ev.Event)
}

func TestSendMessage_DeliveredAndPersisted(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	emit(t, doctor, "sendMessage", map[string]string{
		"senderId":    "forged-sender", // overridden by the bound identity
		"receiverId":  "patient5",
		"messageType": "text",
		"content":     "please take the evening dose",
	})

	ev := readEvent(t, patient)
	assert.Equal(t, "receiveMessage", ev.Event)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, domain.Identity("doctor1"), msg.SenderID)
	assert.Equal(t, "please take the evening dose", msg.Content)
	assert.False(t, msg.Seen)

	// Also durably stored.
	stored, err := fixture.store.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, stored.Content)
}

func TestMessageSeen_NotifiesSender(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	emit(t, doctor, "sendMessage", map[string]string{
		"receiverId":  "patient5",
		"messageType": "text",
		"content":     "hello",
	})

	ev := readEvent(t, patient)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))

	emit(t, patient, "messageSeen", map[string]string{
		"messageId": string(msg.ID),
		"seenBy":    "forged-reader",
	})

	ev = readEvent(t, doctor)
	assert.Equal(t, "messageSeenUpdate", ev.Event)

	var seen struct {
		MessageID string `json:"messageId"`
		SeenBy    string `json:"seenBy"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &seen))
	assert.Equal(t, string(msg.ID), seen.MessageID)
	assert.Equal(t, "patient5", seen.SeenBy)
}

func TestOfflineRecipient_SenderUnaffected(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")

	// patient5 has no connection; the call signal vanishes but the channel
	// keeps working for later events.
	emit(t, doctor, "callUser", map[string]interface{}{
		"to":       "patient5",
		"callType": "video",
		"offer":    json.RawMessage(`{"type":"offer"}`),
	})

	emit(t, doctor, "sendMessage", map[string]string{
		"receiverId":  "patient5",
		"messageType": "text",
		"content":     "are you there?",
	})

	require.Eventually(t, func() bool {
		conversation, err := fixture.store.FindConversation(context.Background(), "doctor1", "patient5")
		return err == nil && len(conversation) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedPayload_ConnectionSurvives(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	// Garbage payload and unknown event are both dropped silently.
	require.NoError(t, doctor.WriteJSON(Event{Event: "callUser", Data: json.RawMessage(`"not an object"`)}))
	require.NoError(t, doctor.WriteJSON(Event{Event: "mysteryEvent", Data: json.RawMessage(`{}`)}))

	emit(t, doctor, "sendMessage", map[string]string{
		"receiverId":  "patient5",
		"messageType": "text",
		"content":     "still alive",
	})
	ev := readEvent(t, patient)
	assert.Equal(t, "receiveMessage", ev.Event)
}

func TestEventsBeforeJoinAreDropped(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, patient, "patient5")

	// No joinRoom on the doctor connection yet.
	emit(t, doctor, "callUser", map[string]interface{}{
		"to":       "patient5",
		"callType": "video",
		"offer":    json.RawMessage(`{"type":"offer"}`),
	})

	patient.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev Event
	err := patient.ReadJSON(&ev)
	assert.Error(t, err, "no event should reach the callee")
}

func TestDisconnect_RemovesPresence(t *testing.T) {
	fixture := newChannelFixture(t, false)

	doctor := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")

	require.NoError(t, doctor.Close())

	require.Eventually(t, func() bool {
		return fixture.registry.Connections("doctor1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelAuth_TokenIdentityIsAuthoritative(t *testing.T) {
	fixture := newChannelFixture(t, true)

	token, err := fixture.auth.GenerateToken("doctor1", domain.RoleDoctor)
	require.NoError(t, err)

	conn := fixture.dial(t, "?token="+token)

	// Claiming another identity is dropped.
	emit(t, conn, "joinRoom", "patient5")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, fixture.registry.Connections("patient5"))

	// The token's own identity joins fine.
	fixture.join(t, conn, "doctor1")
}

func TestNewServerConfig_LimitsRequireEnable(t *testing.T) {
	cfg := config.DefaultConfig()
	sc := NewServerConfig(cfg)

	// Timeouts always carry over.
	assert.Equal(t, cfg.Channel.PingInterval, sc.PingInterval)
	assert.Equal(t, cfg.Channel.PongTimeout, sc.PongTimeout)
	assert.Equal(t, cfg.Channel.ReadTimeout, sc.ReadTimeout)
	assert.Equal(t, cfg.Channel.WriteTimeout, sc.WriteTimeout)

	// The default limit values are sized but inert until enabled.
	assert.Zero(t, sc.MessagesPerSecond)
	assert.Zero(t, sc.MessageBurst)
	assert.Zero(t, sc.MaxMessageSize)

	cfg.RateLimiting.Enabled = true
	sc = NewServerConfig(cfg)
	assert.Equal(t, cfg.RateLimiting.WebSocket.MessagesPerSecond, sc.MessagesPerSecond)
	assert.Equal(t, cfg.RateLimiting.WebSocket.Burst, sc.MessageBurst)
	assert.Equal(t, cfg.RateLimiting.WebSocket.MaxMessageSizeBytes, sc.MaxMessageSize)
}

func TestDefaultConfig_CandidateBurstFullyDelivered(t *testing.T) {
	fixture := newChannelFixtureConfig(t, false, NewServerConfig(config.DefaultConfig()))

	doctor := fixture.dial(t, "")
	patient := fixture.dial(t, "")
	fixture.join(t, doctor, "doctor1")
	fixture.join(t, patient, "patient5")

	// Well past the configured-but-disabled burst of 200.
	const total = 400
	for i := 0; i < total; i++ {
		emit(t, doctor, "iceCandidate", map[string]interface{}{
			"to":        "patient5",
			"candidate": json.RawMessage(fmt.Sprintf(`{"candidate":"candidate:%d 1 UDP 1 192.0.2.1 1 typ host"}`, i)),
		})
	}

	for i := 0; i < total; i++ {
		ev := readEvent(t, patient)
		require.Equal(t, "iceCandidate", ev.Event, "candidate %d never arrived", i)
	}
}

func TestUnresponsiveConnection_ClosedAfterPongTimeout(t *testing.T) {
	fixture := newChannelFixtureConfig(t, false, ServerConfig{
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  300 * time.Millisecond,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Second,
	})

	conn := fixture.dial(t, "")
	// Swallow pings so no pong ever goes back.
	conn.SetPingHandler(func(string) error { return nil })

	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// The server must give up on pong silence, not wait out the idle timeout.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChannelAuth_InvalidTokenRejected(t *testing.T) {
	fixture := newChannelFixture(t, true)

	u := "ws" + strings.TrimPrefix(fixture.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
