package overlay

import "sync"

// CreditToken returns an inbound flood message's flow-control credit
// exactly once, whenever it is released, modeling a capacity-tracking
// token without relying on destructors.
type CreditToken struct {
	once    sync.Once
	release func()
}

func newCreditToken(fc *FlowController, msgType MsgType, encodedSize int, onErr func(error)) *CreditToken {
	return &CreditToken{release: func() {
		if err := fc.ReturnInboundCredit(msgType, encodedSize); err != nil && onErr != nil {
			onErr(err)
		}
	}}
}

// Release returns the credit. Safe to call more than once; only the first
// call has effect.
func (t *CreditToken) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.release)
}

// RouterHandlers are the callbacks a PeerSession supplies for each
// non-handshake message category. Errors are reported asynchronously via
// reportErr passed to Dispatch, since handlers run on the Scheduler's
// dispatch goroutine rather than the caller of Dispatch.
type RouterHandlers interface {
	HandleControl(msg Message) error
	HandleFloodTx(msg Message) error
	HandleConsensusFetch(msg Message) error
	HandleConsensus(msg Message) error
	HandleSurvey(msg Message) error
}

// Router categorizes and dispatches inbound authenticated messages. HELLO
// and AUTH never reach Dispatch during the handshake: they are handled
// inline on the receiving goroutine by PeerSession's handshake before the
// connection reaches GOT_AUTH.
type Router struct{}

// Dispatch wraps msg in a credit-tracking token, decides its scheduler
// class, and posts it to sched. If the ledger is unsynced and the
// category is droppable-flood, the handler body discards the message
// immediately but the token still releases credit. Dispatch itself never
// blocks: Scheduler.Post either queues the work or, for an overloaded
// droppable class, drops it (counted, not silently lost from metrics).
func (Router) Dispatch(msg Message, encodedSize int, synced bool, fc *FlowController, sched *Scheduler, h RouterHandlers, reportErr func(error)) {
	cat := msg.Type.category()
	token := newCreditToken(fc, msg.Type, encodedSize, reportErr)

	class := ClassNormal
	if cat == categoryFloodTx {
		class = ClassDroppable
	}

	accepted := sched.Post(class, func() {
		defer token.Release()
		if cat.droppableIfUnsynced() && !synced {
			return
		}
		var err error
		switch cat {
		case categoryControl:
			err = h.HandleControl(msg)
		case categoryFloodTx:
			err = h.HandleFloodTx(msg)
		case categoryConsensusFetch:
			err = h.HandleConsensusFetch(msg)
		case categoryConsensus:
			err = h.HandleConsensus(msg)
		case categorySurvey:
			err = h.HandleSurvey(msg)
		default:
			err = Errorf(ErrProtocolBreach, "message %s has no dispatch category", msg.Type)
		}
		if err != nil && reportErr != nil {
			reportErr(err)
		}
	})
	if !accepted {
		token.Release()
	}
}
