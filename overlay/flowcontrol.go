package overlay

import (
	"sync"
	"time"
)

// axis identifies one of the two credit axes tracked per direction.
type axis int

const (
	axisMessages axis = iota
	axisBytes
)

func (a axis) String() string {
	if a == axisBytes {
		return "bytes"
	}
	return "messages"
}

// cost returns msg's consumption on axis a: 1 for the message axis, the
// encoded body size for the byte axis.
func cost(a axis, encodedSize int) uint32 {
	if a == axisBytes {
		return uint32(encodedSize)
	}
	return 1
}

// inboundWindow tracks our local credit for messages the peer sends us on
// one axis: how much flood-class traffic we're still willing to accept
// before SEND_MORE is needed again.
type inboundWindow struct {
	enabled       bool
	ceiling       uint32
	capacity      uint32
	pendingReturn uint32
}

// outboundWindow tracks the credit the peer has granted us to send on one
// axis.
type outboundWindow struct {
	enabled   bool
	capacity  uint32
	lastGrant time.Time
}

// queuedSend is a flood message waiting for outbound credit.
type queuedSend struct {
	msg      Message
	body     []byte
	queuedAt time.Time
}

// FlowController implements the two-axis credit protocol: one message-count
// axis and one byte-count axis. One instance is owned by exactly one
// PeerSession/Connection pair; its methods are called from the session's
// reader goroutine and its scheduler goroutine, and serialize on mu.
type FlowController struct {
	mu sync.Mutex

	cfg Config

	inbound  [2]inboundWindow
	outbound [2]outboundWindow

	// totalCapacity/totalRemaining track the inbound message-axis "total"
	// budget that caps total in-flight (flood + non-flood) messages,
	// independent of the flood sub-budget.
	totalCapacity  uint32
	totalRemaining uint32

	throttled bool

	// floodQueue holds droppable-class outbound messages blocked on
	// credit, strictly in enqueue order.
	floodQueue []queuedSend

	// sendFrame is injected at AUTH time rather than holding a back
	// reference to the session, breaking the session<->controller
	// ownership cycle.
	sendFrame func(Message) error

	// readable is closed whenever reads are not currently suspended, and
	// replaced with a fresh, open channel the instant AccountInbound
	// suspends them. A reader blocks on the channel it observed under the
	// lock, so it always unblocks exactly once per throttle episode.
	readable chan struct{}

	metrics *overlayMetrics
}

// NewFlowController builds a controller with the message axis always on and
// the byte axis initially disabled; EnableByteAxis activates it once both
// sides' AUTH flags and overlay versions qualify.
func NewFlowController(cfg Config, metrics *overlayMetrics) *FlowController {
	fc := &FlowController{cfg: cfg, metrics: metrics}
	fc.inbound[axisMessages] = inboundWindow{
		enabled:  true,
		ceiling:  cfg.MaxFloodMessageCapacity,
		capacity: cfg.PeerFloodReadingCapacity,
	}
	fc.outbound[axisMessages] = outboundWindow{enabled: true}
	fc.totalCapacity = cfg.PeerReadingCapacityTotal
	fc.totalRemaining = cfg.PeerReadingCapacityTotal
	fc.readable = closedChan()
	return fc
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Readable returns a channel that is closed once reads may resume. Call
// CanRead first; if it is false, block on the channel Readable returns
// before calling it again.
func (fc *FlowController) Readable() <-chan struct{} {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.readable
}

// EnableByteAxis turns on the byte-flow-control axis. Called once, at AUTH,
// only if both sides advertised the capability and meet the minimum
// overlay version.
func (fc *FlowController) EnableByteAxis() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.inbound[axisBytes] = inboundWindow{
		enabled:  true,
		ceiling:  fc.cfg.FlowControlByteCapacity,
		capacity: fc.cfg.FlowControlByteCapacity,
	}
	fc.outbound[axisBytes] = outboundWindow{enabled: true}
}

// ByteAxisEnabled reports whether the byte axis is active.
func (fc *FlowController) ByteAxisEnabled() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.inbound[axisBytes].enabled
}

// SetSendFrame injects the send callback used to emit SEND_MORE /
// SEND_MORE_EXTENDED and to release queued flood messages.
func (fc *FlowController) SetSendFrame(send func(Message) error) {
	fc.mu.Lock()
	fc.sendFrame = send
	fc.mu.Unlock()
}

// InitialGrant sends the starting SEND_MORE (and, if enabled,
// SEND_MORE_EXTENDED) immediately after GOT_AUTH.
func (fc *FlowController) InitialGrant(now time.Time) error {
	fc.mu.Lock()
	send := fc.sendFrame
	fc.outbound[axisMessages].lastGrant = now
	msgCap := fc.inbound[axisMessages].capacity
	byteEnabled := fc.inbound[axisBytes].enabled
	byteCap := fc.inbound[axisBytes].capacity
	if byteEnabled {
		fc.outbound[axisBytes].lastGrant = now
	}
	fc.mu.Unlock()

	if send == nil {
		return nil
	}
	if err := send(NewSendMoreMessage(SendMoreMsg{NumMessages: msgCap})); err != nil {
		return err
	}
	if byteEnabled {
		return send(NewSendMoreExtendedMessage(SendMoreExtendedMsg{NumMessages: msgCap, NumBytes: byteCap}))
	}
	return nil
}

// CanRead reports whether socket reads may proceed: false once local
// flood-capacity on the message axis reaches zero.
func (fc *FlowController) CanRead() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return !fc.throttled
}

// AccountInbound charges the total inbound read budget for msgType, every
// authenticated message regardless of class, then additionally consumes
// local flood-capacity if msgType is flood-class. It returns an error if the
// peer overran either budget.
func (fc *FlowController) AccountInbound(msgType MsgType, encodedSize int) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.totalCapacity > 0 {
		if fc.totalRemaining == 0 {
			return Errorf(ErrFloodWithoutCredit, "peer sent %s with total inbound read budget exhausted", msgType)
		}
		fc.totalRemaining--
	}

	if !msgType.isFloodClass() {
		return nil
	}

	msgWin := &fc.inbound[axisMessages]
	if msgWin.capacity == 0 {
		return Errorf(ErrFloodWithoutCredit, "peer sent %s with flood capacity exhausted", msgType)
	}
	msgWin.capacity--

	if byteWin := &fc.inbound[axisBytes]; byteWin.enabled {
		c := cost(axisBytes, encodedSize)
		if byteWin.capacity < c {
			return Errorf(ErrFloodWithoutCredit, "peer sent %s with byte capacity exhausted", msgType)
		}
		byteWin.capacity -= c
	}

	if msgWin.capacity == 0 && !fc.throttled {
		fc.throttled = true
		fc.readable = make(chan struct{})
	}
	return nil
}

// ReturnInboundCredit is called once a message finishes processing. It
// restores the total inbound read budget charged by AccountInbound for
// every authenticated message, then, for flood-class messages, coalesces
// the flood-axis return and, once past the configured threshold, emits
// SEND_MORE/SEND_MORE_EXTENDED and un-suspends reads.
func (fc *FlowController) ReturnInboundCredit(msgType MsgType, encodedSize int) error {
	fc.mu.Lock()
	if fc.totalCapacity > 0 && fc.totalRemaining < fc.totalCapacity {
		fc.totalRemaining++
	}
	if !msgType.isFloodClass() {
		fc.mu.Unlock()
		return nil
	}

	msgWin := &fc.inbound[axisMessages]
	msgWin.pendingReturn++
	msgThreshold := sendMoreBatchThreshold(msgWin.ceiling, fc.cfg.FlowControlSendMoreBatchSize)

	var byteReturn uint32
	byteWin := &fc.inbound[axisBytes]
	byteThreshold := uint32(0)
	if byteWin.enabled {
		byteReturn = cost(axisBytes, encodedSize)
		byteWin.pendingReturn += byteReturn
		byteThreshold = sendMoreBatchThreshold(byteWin.ceiling, fc.cfg.FlowControlSendMoreBatchSize)
	}

	shouldGrant := msgWin.pendingReturn >= msgThreshold || (byteWin.enabled && byteWin.pendingReturn >= byteThreshold)
	var grantMsgs, grantBytes uint32
	if shouldGrant {
		grantMsgs = msgWin.pendingReturn
		msgWin.capacity += grantMsgs
		msgWin.pendingReturn = 0
		if msgWin.capacity > 0 && fc.throttled {
			fc.throttled = false
			close(fc.readable)
		}
		if byteWin.enabled {
			grantBytes = byteWin.pendingReturn
			byteWin.capacity += grantBytes
			byteWin.pendingReturn = 0
		}
	}
	send := fc.sendFrame
	byteEnabled := byteWin.enabled
	fc.mu.Unlock()

	if !shouldGrant || send == nil {
		return nil
	}
	if byteEnabled {
		return send(NewSendMoreExtendedMessage(SendMoreExtendedMsg{NumMessages: grantMsgs, NumBytes: grantBytes}))
	}
	return send(NewSendMoreMessage(SendMoreMsg{NumMessages: grantMsgs}))
}

// GrantOutbound records a SEND_MORE/SEND_MORE_EXTENDED received from the
// peer, validates it, and releases as many queued flood messages as the new
// credit allows.
func (fc *FlowController) GrantOutbound(msg Message, authenticated, versionQualifies bool, now time.Time) error {
	switch msg.Type {
	case MsgSendMore:
		if msg.SendMore.NumMessages > fc.cfg.MaxSendMoreIncrement {
			return Errorf(ErrMalformedSendMore, "increment %d exceeds maximum %d", msg.SendMore.NumMessages, fc.cfg.MaxSendMoreIncrement)
		}
		fc.mu.Lock()
		fc.outbound[axisMessages].capacity += msg.SendMore.NumMessages
		fc.outbound[axisMessages].lastGrant = now
		fc.mu.Unlock()
	case MsgSendMoreExtended:
		if !authenticated || !versionQualifies {
			return Errorf(ErrMalformedSendMore, "SEND_MORE_EXTENDED on unauthenticated or non-qualifying connection")
		}
		if msg.SendMoreExtended.NumMessages > fc.cfg.MaxSendMoreIncrement || msg.SendMoreExtended.NumBytes > fc.cfg.MaxSendMoreIncrement {
			return Errorf(ErrMalformedSendMore, "increment exceeds maximum %d", fc.cfg.MaxSendMoreIncrement)
		}
		fc.mu.Lock()
		fc.outbound[axisMessages].capacity += msg.SendMoreExtended.NumMessages
		fc.outbound[axisMessages].lastGrant = now
		if fc.outbound[axisBytes].enabled {
			fc.outbound[axisBytes].capacity += msg.SendMoreExtended.NumBytes
			fc.outbound[axisBytes].lastGrant = now
		}
		fc.mu.Unlock()
	default:
		return Errorf(ErrProtocolBreach, "GrantOutbound called with non-credit message %s", msg.Type)
	}
	return fc.drainQueue()
}

// EnqueueOrSend gates an outgoing flood-class message: if outbound credit
// covers its cost on every enabled axis it is released immediately
// (returns true, nil send happens via caller), otherwise it is queued and
// released later by drainQueue as credit arrives.
func (fc *FlowController) EnqueueOrSend(msg Message, body []byte) (release bool, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if !msg.Type.isFloodClass() {
		return true, nil
	}

	if fc.canAffordLocked(len(body)) {
		fc.reserveLocked(len(body))
		return true, nil
	}
	fc.floodQueue = append(fc.floodQueue, queuedSend{msg: msg, body: body, queuedAt: time.Now()})
	return false, nil
}

func (fc *FlowController) canAffordLocked(bodyLen int) bool {
	if fc.outbound[axisMessages].capacity < 1 {
		return false
	}
	if b := fc.outbound[axisBytes]; b.enabled && b.capacity < cost(axisBytes, bodyLen) {
		return false
	}
	return true
}

func (fc *FlowController) reserveLocked(bodyLen int) {
	fc.outbound[axisMessages].capacity--
	if b := &fc.outbound[axisBytes]; b.enabled {
		b.capacity -= cost(axisBytes, bodyLen)
	}
}

// drainQueue releases as many queued flood messages, in enqueue order, as
// current outbound credit allows, and sends them through sendFrame. This is
// what bounds a SEND_MORE(k) grant to releasing at most k queued messages.
func (fc *FlowController) drainQueue() error {
	for {
		fc.mu.Lock()
		if len(fc.floodQueue) == 0 {
			fc.mu.Unlock()
			return nil
		}
		next := fc.floodQueue[0]
		if !fc.canAffordLocked(len(next.body)) {
			fc.mu.Unlock()
			return nil
		}
		fc.reserveLocked(len(next.body))
		fc.floodQueue = fc.floodQueue[1:]
		send := fc.sendFrame
		metrics := fc.metrics
		fc.mu.Unlock()

		if metrics != nil {
			metrics.FlowControlSendDelay.Update(time.Since(next.queuedAt))
		}
		if send == nil {
			continue
		}
		if err := send(next.msg); err != nil {
			return err
		}
	}
}

// QueueDepth reports the number of flood messages currently queued awaiting
// credit, for load-shedding decisions in PeerSession.
func (fc *FlowController) QueueDepth() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.floodQueue)
}

// QueuedBytes reports the aggregate body size of queued flood messages.
func (fc *FlowController) QueuedBytes() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	total := 0
	for _, q := range fc.floodQueue {
		total += len(q.body)
	}
	return total
}

// FlowIdleExceeded reports whether the peer has granted us no outbound
// credit for at least threshold ("idle timeout, no new flood requests").
func (fc *FlowController) FlowIdleExceeded(now time.Time, threshold time.Duration) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	last := fc.outbound[axisMessages].lastGrant
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= threshold
}
