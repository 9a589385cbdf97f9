package overlay

import "fmt"

// ErrorCode identifies why a connection was torn down. It is orthogonal to
// the wire ERROR_MSG codes sent to the peer (see WireErrorCode): a connection
// can fail fatally for reasons that are never described on the wire at all
// (e.g. a straggler timeout).
type ErrorCode int

const (
	ErrBadCert ErrorCode = iota
	ErrBannedPeer
	ErrWrongNetwork
	ErrVersionMismatch
	ErrSelfConnect
	ErrDuplicatePeer
	ErrOutOfOrderMessage
	ErrMacMismatch
	ErrFloodWithoutCredit
	ErrMalformedSendMore
	ErrMessageBeforeHandshake
	ErrLoadShed
	ErrTransport
	ErrIdleTimeout
	ErrFlowIdleTimeout
	ErrStraggler
	ErrFrameTooLarge
	ErrProtocolBreach
)

var errorCodeText = map[ErrorCode]string{
	ErrBadCert:                "bad authentication certificate",
	ErrBannedPeer:              "banned peer",
	ErrWrongNetwork:            "wrong network",
	ErrVersionMismatch:         "overlay version mismatch",
	ErrSelfConnect:             "connecting to self",
	ErrDuplicatePeer:           "duplicate connection to peer",
	ErrOutOfOrderMessage:       "out of order message",
	ErrMacMismatch:             "MAC mismatch",
	ErrFloodWithoutCredit:      "unexpected flood message, peer at capacity",
	ErrMalformedSendMore:       "malformed SEND_MORE",
	ErrMessageBeforeHandshake:  "message before handshake complete",
	ErrLoadShed:                "load shed",
	ErrTransport:               "transport error",
	ErrIdleTimeout:             "idle timeout",
	ErrFlowIdleTimeout:         "idle timeout (no new flood requests)",
	ErrStraggler:               "straggling (cannot keep up)",
	ErrFrameTooLarge:           "frame exceeds maximum size",
	ErrProtocolBreach:          "protocol breach",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeText[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Kind classifies an ErrorCode by disposition. Every entry is
// connection-fatal; Kind only decides whether an ERROR_MSG is sent to the
// peer and which drop mode is used.
type Kind int

const (
	KindHandshake Kind = iota
	KindAuthentication
	KindProtocol
	KindPolicy
	KindTransport
	KindLiveness
)

func (c ErrorCode) Kind() Kind {
	switch c {
	case ErrBadCert, ErrWrongNetwork, ErrVersionMismatch, ErrSelfConnect:
		return KindHandshake
	case ErrMacMismatch, ErrOutOfOrderMessage:
		return KindAuthentication
	case ErrFloodWithoutCredit, ErrMalformedSendMore, ErrMessageBeforeHandshake, ErrProtocolBreach:
		return KindProtocol
	case ErrBannedPeer, ErrDuplicatePeer, ErrLoadShed:
		return KindPolicy
	case ErrTransport, ErrFrameTooLarge:
		return KindTransport
	case ErrIdleTimeout, ErrFlowIdleTimeout, ErrStraggler:
		return KindLiveness
	default:
		return KindProtocol
	}
}

// WireErrorCode is sent in an ERROR_MSG. Not every ErrorCode is meaningful to
// the peer; SendsErrorMsg reports whether one should be sent at all.
type WireErrorCode uint32

const (
	WireErrMisc WireErrorCode = iota
	WireErrData
	WireErrConf
	WireErrAuth
	WireErrLoad
)

// WireCode maps an ErrorCode to the code carried in the wire ERROR_MSG, and
// reports whether the code is meaningful enough to the peer to send at all.
func (c ErrorCode) WireCode() (WireErrorCode, bool) {
	switch c.Kind() {
	case KindHandshake:
		return WireErrConf, true
	case KindAuthentication:
		return WireErrAuth, true
	case KindPolicy:
		if c == ErrLoadShed {
			return WireErrLoad, true
		}
		return WireErrConf, true
	default:
		return WireErrMisc, false
	}
}

// ProtocolError is the single error type the overlay core raises for any
// connection-fatal condition. It carries enough structure that the Go error
// text and the text sent in an ERROR_MSG can never drift apart.
type ProtocolError struct {
	Code    ErrorCode
	Detail  string
	Wrapped error
}

func newProtocolError(code ErrorCode, detail string, wrapped error) *ProtocolError {
	return &ProtocolError{Code: code, Detail: detail, Wrapped: wrapped}
}

// Errorf builds a ProtocolError the way p2p.NewPeerError builds a PeerError:
// the code supplies the category text, the format string supplies detail.
func Errorf(code ErrorCode, format string, args ...interface{}) *ProtocolError {
	return newProtocolError(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches a ProtocolError to an underlying transport/library error.
func Wrap(code ErrorCode, err error) *ProtocolError {
	if err == nil {
		return nil
	}
	return newProtocolError(code, err.Error(), err)
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Wrapped }

// sanitize replaces every non-alphanumeric byte with '_', the way the
// original sanitizes an ERROR_MSG body before printing it on receipt.
func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			out[i] = b
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
