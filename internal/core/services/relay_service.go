package services

import (
	"encoding/json"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"go.uber.org/zap"
)

// Wire names of the events the relay produces.
const (
	EventIncomingCall      = "incomingCall"
	EventCallAnswered      = "callAnswered"
	EventICECandidate      = "iceCandidate"
	EventCallEnded         = "callEnded"
	EventCallCancelled     = "callCancelled"
	EventReceiveMessage    = "receiveMessage"
	EventMessageSeenUpdate = "messageSeenUpdate"
)

// IncomingCallPayload is what the callee receives when a call is placed.
// Offer is the caller's SDP, forwarded byte for byte.
type IncomingCallPayload struct {
	From     domain.Identity `json:"from"`
	To       domain.Identity `json:"to"`
	CallType domain.CallKind `json:"callType"`
	Offer    json.RawMessage `json:"offer"`
}

type CallAnsweredPayload struct {
	From      domain.Identity   `json:"from"`
	To        domain.Identity   `json:"to"`
	Answer    domain.CallAnswer `json:"answer"`
	AnswerSDP json.RawMessage   `json:"answerSDP,omitempty"`
}

type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndedPayload struct {
	From domain.Identity `json:"from"`
}

type CallCancelledPayload struct {
	From domain.Identity `json:"from"`
}

// MessageSeenPayload notifies a sender that one of their messages was read.
type MessageSeenPayload struct {
	MessageID domain.MessageID `json:"messageId"`
	SeenBy    domain.Identity  `json:"seenBy"`
}

// callRelay is a stateless single-hop forwarder. All call state lives in the
// two clients; the relay never inspects offer, answer, or candidate blobs and
// never errors on a recipient that is offline.
type callRelay struct {
	registry ports.PresenceRegistry
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewCallRelay(registry ports.PresenceRegistry, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) ports.CallRelay {
	return &callRelay{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

func (r *callRelay) CallUser(from, to domain.Identity, kind domain.CallKind, offer json.RawMessage) {
	r.forward(to, EventIncomingCall, IncomingCallPayload{
		From:     from,
		To:       to,
		CallType: kind,
		Offer:    offer,
	})
	r.logger.Infow("call placed", "from", from, "to", to, "call_type", kind)
}

func (r *callRelay) AnswerCall(from, to domain.Identity, answer domain.CallAnswer, answerSDP json.RawMessage) {
	r.forward(to, EventCallAnswered, CallAnsweredPayload{
		From:      from,
		To:        to,
		Answer:    answer,
		AnswerSDP: answerSDP,
	})
	r.logger.Infow("call answered", "from", from, "to", to, "answer", answer)
}

func (r *callRelay) RelayCandidate(to domain.Identity, candidate json.RawMessage) {
	r.forward(to, EventICECandidate, ICECandidatePayload{Candidate: candidate})
}

func (r *callRelay) EndCall(from, to domain.Identity) {
	r.forward(to, EventCallEnded, CallEndedPayload{From: from})
	r.logger.Infow("call ended", "from", from, "to", to)
}

func (r *callRelay) CancelCall(from, to domain.Identity) {
	r.forward(to, EventCallCancelled, CallCancelledPayload{From: from})
	r.logger.Infow("call cancelled", "from", from, "to", to)
}

func (r *callRelay) forward(to domain.Identity, event string, payload interface{}) {
	delivered := r.registry.Send(to, event, payload)
	r.metrics.EventRelayed(event, delivered)
	if delivered == 0 {
		// Routing miss: recipient has no live connection. Not an error.
		r.logger.Debugw("no live connection for signal", "event", event, "to", to)
	}
}
