package overlay

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// overlayMetrics holds the overlay.* counters, meters and timers. newMetrics
// registers them in a fresh private go-metrics registry, so each session
// (and each test) has its own; nothing is registered in
// gometrics.DefaultRegistry.
type overlayMetrics struct {
	registry gometrics.Registry

	MessagesRead    map[MsgType]gometrics.Meter
	MessagesWritten map[MsgType]gometrics.Meter
	BytesRead       gometrics.Meter
	BytesWritten    gometrics.Meter

	FlowControlSendDelay gometrics.Timer
	FloodFulfilled       gometrics.Counter
	FloodUnfulfilled     gometrics.Counter
	FloodUnfulfilledBanned gometrics.Counter

	ConnectionLatency gometrics.Timer

	DropsByReason map[ErrorCode]gometrics.Counter

	LoadShed gometrics.Counter
}

func newMetrics() *overlayMetrics {
	r := gometrics.NewRegistry()
	m := &overlayMetrics{
		registry:               r,
		MessagesRead:           make(map[MsgType]gometrics.Meter),
		MessagesWritten:        make(map[MsgType]gometrics.Meter),
		BytesRead:              gometrics.NewRegisteredMeter("overlay.bytes.read", r),
		BytesWritten:           gometrics.NewRegisteredMeter("overlay.bytes.written", r),
		FlowControlSendDelay:   gometrics.NewRegisteredTimer("overlay.flow_control.send_delay", r),
		FloodFulfilled:         gometrics.NewRegisteredCounter("overlay.flood.fulfilled", r),
		FloodUnfulfilled:       gometrics.NewRegisteredCounter("overlay.flood.unfulfilled", r),
		FloodUnfulfilledBanned: gometrics.NewRegisteredCounter("overlay.flood.unfulfilled_banned", r),
		ConnectionLatency:      gometrics.NewRegisteredTimer("overlay.connection.latency", r),
		DropsByReason:          make(map[ErrorCode]gometrics.Counter),
		LoadShed:               gometrics.NewRegisteredCounter("overlay.load_shed", r),
	}
	for t := MsgErrorMsg; t <= MsgFloodDemand; t++ {
		m.MessagesRead[t] = gometrics.NewRegisteredMeter("overlay.messages.read."+t.String(), r)
		m.MessagesWritten[t] = gometrics.NewRegisteredMeter("overlay.messages.written."+t.String(), r)
	}
	return m
}

func (m *overlayMetrics) markRead(t MsgType, size int) {
	if meter, ok := m.MessagesRead[t]; ok {
		meter.Mark(1)
	}
	m.BytesRead.Mark(int64(size))
}

func (m *overlayMetrics) markWritten(t MsgType, size int) {
	if meter, ok := m.MessagesWritten[t]; ok {
		meter.Mark(1)
	}
	m.BytesWritten.Mark(int64(size))
}

func (m *overlayMetrics) markDrop(code ErrorCode) {
	c, ok := m.DropsByReason[code]
	if !ok {
		c = gometrics.NewRegisteredCounter("overlay.drops."+sanitize(code.String()), m.registry)
		m.DropsByReason[code] = c
	}
	c.Inc(1)
}
