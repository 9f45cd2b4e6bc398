package domain

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// CallAnswer is the callee's verdict on an incoming call.
type CallAnswer string

const (
	CallAccepted CallAnswer = "accepted"
	CallRejected CallAnswer = "rejected"
)
