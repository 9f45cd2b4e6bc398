package ports

import "telecare/internal/core/domain"

// MetricsRecorder receives realtime-core events for instrumentation. The
// prometheus implementation lives in infrastructure/monitoring; tests use
// the nop recorder.
type MetricsRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	EventRelayed(event string, delivered int)
	EventDropped(event, reason string)
	MessagePersisted(msgType domain.MessageType)
	SeenTransition(changed bool)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()                   {}
func (nopMetrics) ConnectionClosed()                   {}
func (nopMetrics) EventRelayed(string, int)            {}
func (nopMetrics) EventDropped(string, string)         {}
func (nopMetrics) MessagePersisted(domain.MessageType) {}
func (nopMetrics) SeenTransition(bool)                 {}

// NopMetrics returns a MetricsRecorder that discards everything.
func NopMetrics() MetricsRecorder { return nopMetrics{} }
