package controller

import (
	"sync/atomic"
)

// Metrics contains atomic counters of a controller.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// BytesSent indicates the number of bytes written to the transport.
	BytesSent atomic.Uint64
	// BytesReceived indicates the number of bytes read from the transport.
	BytesReceived atomic.Uint64

	// LinesSent indicates the number of command lines written.
	LinesSent atomic.Uint64
	// LinesAcked indicates the number of command lines acknowledged with ok.
	LinesAcked atomic.Uint64
	// LineErrors indicates the number of command lines answered with an error.
	LineErrors atomic.Uint64
	// RealtimeSent indicates the number of real-time commands written.
	RealtimeSent atomic.Uint64

	// StatusReports indicates the number of status reports received.
	StatusReports atomic.Uint64
	// ProtocolErrors indicates the number of malformed or unexpected responses.
	ProtocolErrors atomic.Uint64
	// Unrecognized indicates the number of output lines no grammar rule matched.
	Unrecognized atomic.Uint64
	// DiscardedResponses indicates the number of stale responses dropped after a reset.
	DiscardedResponses atomic.Uint64
	// Alarms indicates the number of alarms raised.
	Alarms atomic.Uint64

	// JobsStarted indicates the number of streams started.
	JobsStarted atomic.Uint64
	// JobsCompleted indicates the number of streams that ran to their end.
	JobsCompleted atomic.Uint64

	// BytesInFlight indicates the receive buffer bytes occupied by unacknowledged lines.
	BytesInFlight atomic.Int64
	// PendingCommands indicates the number of unacknowledged lines.
	PendingCommands atomic.Int64

	// Connections indicates the number of sessions established.
	Connections atomic.Uint64
	// ReconnectGauge indicates the number of reconnection attempts of the current outage.
	ReconnectGauge atomic.Uint32
}

func (m *Metrics) addSent(bytes int, lines int) {
	m.BytesSent.Add(uint64(bytes))
	m.LinesSent.Add(uint64(lines))
}

func (m *Metrics) addRealtime(bytes int) {
	m.BytesSent.Add(uint64(bytes))
	m.RealtimeSent.Add(1)
}

func (m *Metrics) addReceived(bytes int) {
	m.BytesReceived.Add(uint64(bytes))
}

func (m *Metrics) setQueue(bytes, commands int) {
	m.BytesInFlight.Store(int64(bytes))
	m.PendingCommands.Store(int64(commands))
}

func (m *Metrics) incReconnectGauge() {
	m.ReconnectGauge.Add(1)
}

func (m *Metrics) resetReconnectGauge() {
	m.ReconnectGauge.Store(0)
}
