// Package callsession tracks the lifecycle of a single audio or video call
// on the client side of the signaling channel. The gateway itself stays
// stateless; this package gives Go clients (and the example client) the
// state machine the browser app implements in its UI layer.
package callsession

import (
	"encoding/json"
	"fmt"
	"sync"
)

// State of the call from this client's point of view.
type State int

const (
	// StateIdle means no call is in progress.
	StateIdle State = iota
	// StateCalling means we sent an offer and wait for the answer.
	StateCalling
	// StateRinging means we received an offer and have not answered yet.
	StateRinging
	// StateConnecting means the call was accepted and ICE is negotiating.
	StateConnecting
	// StateActive means media is flowing; entered via Connected.
	StateActive
	// StateEnded is terminal for this session; create a new one to call again.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Wire event names for outbound signals.
const (
	EventCallUser     = "callUser"
	EventAnswerCall   = "answerCall"
	EventICECandidate = "iceCandidate"
	EventCallEnded    = "callEnded"
	EventCancelCall   = "cancelCall"
)

// Signaler sends a named signaling event to the gateway.
type Signaler interface {
	Emit(event string, payload interface{}) error
}

// ErrInvalidTransition is returned when an operation does not apply to the
// current state, for example cancelling a call that never started.
var ErrInvalidTransition = fmt.Errorf("call session: invalid state transition")

type callUserSignal struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	CallType string          `json:"callType"`
	Offer    json.RawMessage `json:"offer"`
}

type answerCallSignal struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Answer    string          `json:"answer"`
	AnswerSDP json.RawMessage `json:"answerSDP,omitempty"`
}

type candidateSignal struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type teardownSignal struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Session is a single call attempt between the local identity and one peer.
// All methods are safe for concurrent use; signaling callbacks run outside
// the lock.
type Session struct {
	mu sync.Mutex

	self   string
	signal Signaler

	state State
	peer  string
	kind  string

	// Remote candidates that arrived before the remote description. They
	// are applied in arrival order once the description lands, then the
	// queue is retired and later candidates apply directly.
	pending   []json.RawMessage
	remoteSet bool

	// applyCandidate hands a remote ICE candidate to the peer connection.
	applyCandidate func(json.RawMessage) error
	// applyRemote hands the remote session description to the peer connection.
	applyRemote func(json.RawMessage) error
}

// Config wires a session to its owner.
type Config struct {
	// Self is the local identity used in outbound signals.
	Self string
	// Signal delivers outbound events to the gateway.
	Signal Signaler
	// ApplyRemoteDescription is invoked with the peer's SDP (the offer for
	// inbound calls, the answer for outbound ones).
	ApplyRemoteDescription func(sdp json.RawMessage) error
	// ApplyCandidate is invoked with each remote ICE candidate, in order.
	ApplyCandidate func(candidate json.RawMessage) error
}

func New(cfg Config) *Session {
	return &Session{
		self:           cfg.Self,
		signal:         cfg.Signal,
		state:          StateIdle,
		applyRemote:    cfg.ApplyRemoteDescription,
		applyCandidate: cfg.ApplyCandidate,
	}
}

// State returns the current call state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the other party, empty while idle.
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Call starts an outbound call: emits the offer and moves to Calling.
func (s *Session) Call(to, kind string, offer json.RawMessage) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: call from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateCalling
	s.peer = to
	s.kind = kind
	s.mu.Unlock()

	return s.signal.Emit(EventCallUser, callUserSignal{
		From:     s.self,
		To:       to,
		CallType: kind,
		Offer:    offer,
	})
}

// HandleIncomingCall processes an incomingCall event. While another call is
// in progress the new caller gets an immediate rejected answer and the
// current call is untouched.
func (s *Session) HandleIncomingCall(from, kind string, offer json.RawMessage) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		// Busy: reject without disturbing the in-progress call.
		return s.signal.Emit(EventAnswerCall, answerCallSignal{
			From:   s.self,
			To:     from,
			Answer: "rejected",
		})
	}
	s.state = StateRinging
	s.peer = from
	s.kind = kind
	applyRemote := s.applyRemote
	s.mu.Unlock()

	if applyRemote != nil {
		if err := applyRemote(offer); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.remoteSet = true
	queued := s.drainPendingLocked()
	s.mu.Unlock()

	return s.applyQueued(queued)
}

// Accept answers a ringing call and moves to Connecting; the session becomes
// Active once Connected reports ICE connectivity.
func (s *Session) Accept(answerSDP json.RawMessage) error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateConnecting
	peer := s.peer
	s.mu.Unlock()

	return s.signal.Emit(EventAnswerCall, answerCallSignal{
		From:      s.self,
		To:        peer,
		Answer:    "accepted",
		AnswerSDP: answerSDP,
	})
}

// Reject declines a ringing call and returns to Idle.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, s.state)
	}
	peer := s.peer
	s.reset()
	s.mu.Unlock()

	return s.signal.Emit(EventAnswerCall, answerCallSignal{
		From:   s.self,
		To:     peer,
		Answer: "rejected",
	})
}

// HandleAnswer processes the callAnswered event for an outbound call.
func (s *Session) HandleAnswer(answer string, answerSDP json.RawMessage) error {
	s.mu.Lock()
	if s.state != StateCalling {
		s.mu.Unlock()
		// A late answer after cancel is not an error, just stale.
		return nil
	}

	if answer != "accepted" {
		s.state = StateEnded
		s.mu.Unlock()
		return nil
	}

	s.state = StateConnecting
	applyRemote := s.applyRemote
	s.mu.Unlock()

	if applyRemote != nil && len(answerSDP) > 0 {
		if err := applyRemote(answerSDP); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.remoteSet = true
	queued := s.drainPendingLocked()
	s.mu.Unlock()

	return s.applyQueued(queued)
}

// Connected promotes a connecting call to Active. Callers wire this to their
// peer connection's connected notification. Calling it on an already active
// session is a no-op so repeated connectivity events stay harmless.
func (s *Session) Connected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnecting:
		s.state = StateActive
		return nil
	case StateActive:
		return nil
	default:
		return fmt.Errorf("%w: connected from %s", ErrInvalidTransition, s.state)
	}
}

// SendCandidate forwards a locally gathered ICE candidate to the peer.
func (s *Session) SendCandidate(candidate json.RawMessage) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.mu.Unlock()
		return fmt.Errorf("%w: candidate from %s", ErrInvalidTransition, s.state)
	}
	peer := s.peer
	s.mu.Unlock()

	return s.signal.Emit(EventICECandidate, candidateSignal{
		To:        peer,
		Candidate: candidate,
	})
}

// HandleRemoteCandidate applies a remote ICE candidate. Candidates that
// race ahead of the remote description are queued and flushed in arrival
// order once it is set.
func (s *Session) HandleRemoteCandidate(candidate json.RawMessage) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return nil
	}
	apply := s.applyCandidate
	s.mu.Unlock()

	if apply == nil {
		return nil
	}
	return apply(candidate)
}

// Cancel aborts an outbound call before it was answered.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != StateCalling {
		s.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
	}
	peer := s.peer
	s.state = StateEnded
	s.mu.Unlock()

	return s.signal.Emit(EventCancelCall, teardownSignal{
		From: s.self,
		To:   peer,
	})
}

// End hangs up a connecting or active call.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, s.state)
	}
	peer := s.peer
	s.state = StateEnded
	s.mu.Unlock()

	return s.signal.Emit(EventCallEnded, teardownSignal{
		From: s.self,
		To:   peer,
	})
}

// HandlePeerEnded processes callEnded from the other side.
func (s *Session) HandlePeerEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateEnded {
		s.state = StateEnded
	}
}

// HandlePeerCancelled processes callCancelled while ringing.
func (s *Session) HandlePeerCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRinging {
		s.state = StateEnded
	}
}

func (s *Session) reset() {
	s.state = StateIdle
	s.peer = ""
	s.kind = ""
	s.pending = nil
	s.remoteSet = false
}

func (s *Session) drainPendingLocked() []json.RawMessage {
	queued := s.pending
	s.pending = nil
	return queued
}

func (s *Session) applyQueued(queued []json.RawMessage) error {
	if s.applyCandidate == nil {
		return nil
	}
	for _, candidate := range queued {
		if err := s.applyCandidate(candidate); err != nil {
			return err
		}
	}
	return nil
}
