package callsession

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSignal struct {
	Event   string
	Payload interface{}
}

type fakeSignaler struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (f *fakeSignaler) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, recordedSignal{Event: event, Payload: payload})
	return nil
}

func (f *fakeSignaler) last(t *testing.T) recordedSignal {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.signals)
	return f.signals[len(f.signals)-1]
}

func newTestSession(signal Signaler, applied *[]string) *Session {
	return New(Config{
		Self:   "doctor1",
		Signal: signal,
		ApplyRemoteDescription: func(sdp json.RawMessage) error {
			return nil
		},
		ApplyCandidate: func(candidate json.RawMessage) error {
			if applied != nil {
				*applied = append(*applied, string(candidate))
			}
			return nil
		},
	})
}

func TestCall_EmitsOfferAndMovesToCalling(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, session.Call("patient5", "video", offer))

	assert.Equal(t, StateCalling, session.State())
	assert.Equal(t, "patient5", session.Peer())

	last := signal.last(t)
	assert.Equal(t, EventCallUser, last.Event)
	payload := last.Payload.(callUserSignal)
	assert.Equal(t, "doctor1", payload.From)
	assert.Equal(t, "patient5", payload.To)
	assert.Equal(t, "video", payload.CallType)
	assert.Equal(t, string(offer), string(payload.Offer))
}

func TestCall_WhileBusyFails(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "audio", json.RawMessage(`{}`)))
	err := session.Call("patient7", "audio", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHandleIncomingCall_WhileBusyAutoRejects(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "video", json.RawMessage(`{}`)))
	require.NoError(t, session.HandleIncomingCall("patient7", "audio", json.RawMessage(`{}`)))

	// The in-progress call is untouched, the intruder got a rejection.
	assert.Equal(t, StateCalling, session.State())
	assert.Equal(t, "patient5", session.Peer())

	last := signal.last(t)
	assert.Equal(t, EventAnswerCall, last.Event)
	payload := last.Payload.(answerCallSignal)
	assert.Equal(t, "patient7", payload.To)
	assert.Equal(t, "rejected", payload.Answer)
}

func TestAcceptAndReject(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.HandleIncomingCall("patient5", "video", json.RawMessage(`{"type":"offer"}`)))
	assert.Equal(t, StateRinging, session.State())

	require.NoError(t, session.Accept(json.RawMessage(`{"type":"answer"}`)))
	assert.Equal(t, StateConnecting, session.State())

	last := signal.last(t)
	payload := last.Payload.(answerCallSignal)
	assert.Equal(t, "accepted", payload.Answer)
	assert.Equal(t, "patient5", payload.To)

	// Reject only applies while ringing.
	assert.ErrorIs(t, session.Reject(), ErrInvalidTransition)
}

func TestHandleAnswer_RejectedEndsSession(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "audio", json.RawMessage(`{}`)))
	require.NoError(t, session.HandleAnswer("rejected", nil))
	assert.Equal(t, StateEnded, session.State())
}

func TestRemoteCandidates_QueuedUntilDescriptionThenFlushedInOrder(t *testing.T) {
	signal := &fakeSignaler{}
	var applied []string
	session := newTestSession(signal, &applied)

	require.NoError(t, session.Call("patient5", "video", json.RawMessage(`{}`)))

	// Candidates race ahead of the answer.
	require.NoError(t, session.HandleRemoteCandidate(json.RawMessage(`"cand-1"`)))
	require.NoError(t, session.HandleRemoteCandidate(json.RawMessage(`"cand-2"`)))
	assert.Empty(t, applied)

	require.NoError(t, session.HandleAnswer("accepted", json.RawMessage(`{"type":"answer"}`)))
	assert.Equal(t, []string{`"cand-1"`, `"cand-2"`}, applied)

	// After the flush the queue is retired and candidates apply directly.
	require.NoError(t, session.HandleRemoteCandidate(json.RawMessage(`"cand-3"`)))
	assert.Equal(t, []string{`"cand-1"`, `"cand-2"`, `"cand-3"`}, applied)
}

func TestCancel_OnlyWhileCalling(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "audio", json.RawMessage(`{}`)))
	require.NoError(t, session.Cancel())
	assert.Equal(t, StateEnded, session.State())

	last := signal.last(t)
	assert.Equal(t, EventCancelCall, last.Event)
	payload := last.Payload.(teardownSignal)
	assert.Equal(t, "patient5", payload.To)

	// A late answer after cancel is ignored.
	require.NoError(t, session.HandleAnswer("accepted", json.RawMessage(`{}`)))
	assert.Equal(t, StateEnded, session.State())
}

func TestAcceptedCall_ConnectsBeforeActive(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "video", json.RawMessage(`{}`)))
	require.NoError(t, session.HandleAnswer("accepted", json.RawMessage(`{"type":"answer"}`)))
	assert.Equal(t, StateConnecting, session.State())

	require.NoError(t, session.Connected())
	assert.Equal(t, StateActive, session.State())

	// Repeated connectivity events stay harmless.
	require.NoError(t, session.Connected())
	assert.Equal(t, StateActive, session.State())
}

func TestConnected_OutsideConnectingFails(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	assert.ErrorIs(t, session.Connected(), ErrInvalidTransition)

	require.NoError(t, session.Call("patient5", "audio", json.RawMessage(`{}`)))
	assert.ErrorIs(t, session.Connected(), ErrInvalidTransition)
}

func TestEnd_FromConnectingAndActive(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.Call("patient5", "video", json.RawMessage(`{}`)))
	require.NoError(t, session.HandleAnswer("accepted", json.RawMessage(`{}`)))
	require.NoError(t, session.End())
	assert.Equal(t, StateEnded, session.State())

	last := signal.last(t)
	assert.Equal(t, EventCallEnded, last.Event)

	other := newTestSession(signal, nil)
	require.NoError(t, other.Call("patient7", "video", json.RawMessage(`{}`)))
	require.NoError(t, other.HandleAnswer("accepted", json.RawMessage(`{}`)))
	require.NoError(t, other.Connected())
	require.NoError(t, other.End())
	assert.Equal(t, StateEnded, other.State())
}

func TestHandlePeerEnded(t *testing.T) {
	signal := &fakeSignaler{}
	session := newTestSession(signal, nil)

	require.NoError(t, session.HandleIncomingCall("patient5", "audio", json.RawMessage(`{}`)))
	session.HandlePeerCancelled()
	assert.Equal(t, StateEnded, session.State())
}
