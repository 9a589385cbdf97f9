package overlay

// MsgType is the discriminant of the Message union carried inside every
// AuthenticatedMessage.
type MsgType uint32

const (
	MsgErrorMsg MsgType = iota
	MsgHello
	MsgAuth
	MsgDontHave
	MsgGetPeers
	MsgPeers
	MsgGetTxSet
	MsgTxSet
	MsgGeneralizedTxSet
	MsgTransaction
	MsgGetSCPQuorumSet
	MsgSCPQuorumSet
	MsgSCPMessage
	MsgGetSCPState
	MsgSurveyRequest
	MsgSurveyResponse
	MsgSendMore
	MsgSendMoreExtended
	MsgFloodAdvert
	MsgFloodDemand
)

func (t MsgType) String() string {
	switch t {
	case MsgErrorMsg:
		return "ERROR_MSG"
	case MsgHello:
		return "HELLO"
	case MsgAuth:
		return "AUTH"
	case MsgDontHave:
		return "DONT_HAVE"
	case MsgGetPeers:
		return "GET_PEERS"
	case MsgPeers:
		return "PEERS"
	case MsgGetTxSet:
		return "GET_TX_SET"
	case MsgTxSet:
		return "TX_SET"
	case MsgGeneralizedTxSet:
		return "GENERALIZED_TX_SET"
	case MsgTransaction:
		return "TRANSACTION"
	case MsgGetSCPQuorumSet:
		return "GET_SCP_QUORUMSET"
	case MsgSCPQuorumSet:
		return "SCP_QUORUMSET"
	case MsgSCPMessage:
		return "SCP_MESSAGE"
	case MsgGetSCPState:
		return "GET_SCP_STATE"
	case MsgSurveyRequest:
		return "SURVEY_REQUEST"
	case MsgSurveyResponse:
		return "SURVEY_RESPONSE"
	case MsgSendMore:
		return "SEND_MORE"
	case MsgSendMoreExtended:
		return "SEND_MORE_EXTENDED"
	case MsgFloodAdvert:
		return "FLOOD_ADVERT"
	case MsgFloodDemand:
		return "FLOOD_DEMAND"
	default:
		return "UNKNOWN"
	}
}

// Hash identifies a transaction, quorum set, or tx set by its canonical
// digest. 32 bytes, matching the digest size of every hash the overlay
// carries on the wire.
type Hash [32]byte

// AuthCert binds an ephemeral X25519 public key to the sender's long-term
// identity for the duration of one connection.
type AuthCert struct {
	Pubkey     [32]byte
	Expiration uint64
	Sig        [64]byte
}

type HelloMsg struct {
	LedgerVersion     uint32
	OverlayMinVersion uint32
	OverlayVersion    uint32
	VersionStr        string
	NetworkID         Hash
	ListeningPort     int32
	PeerID            [32]byte
	Cert              AuthCert
	Nonce             [32]byte
}

// AuthFlagFlowControlBytesExt is the AUTH flags bit that advertises support
// for the byte-axis flow-control extension (SEND_MORE_EXTENDED).
const AuthFlagFlowControlBytesExt uint32 = 1 << 0

type AuthMsg struct {
	Flags uint32
}

type ErrorMsg struct {
	Code WireErrorCode
	Msg  string
}

// DontHaveType identifies which request kind a DONT_HAVE answers.
type DontHaveType uint32

const (
	DontHaveTxSet DontHaveType = iota
	DontHaveQuorumSet
	DontHaveSCPState
)

type DontHaveMsg struct {
	Type    DontHaveType
	ReqHash Hash
}

type PeerAddress struct {
	IP          [4]byte
	Port        uint32
	NumFailures uint32
}

type GetPeersMsg struct{}

type PeersMsg struct {
	Peers []PeerAddress
}

type GetTxSetMsg struct {
	Hash Hash
}

// TxSetMsg carries an opaque, already-encoded tx set frame. The frame's
// internal structure is owned by the Consensus Engine collaborator; the
// overlay core only moves bytes.
type TxSetMsg struct {
	Hash Hash
	Blob []byte
}

// GeneralizedTxSetMsg is wire-distinct from TxSetMsg but is deliberately
// routed identically. Preserved intentionally; do not merge the two
// types.
type GeneralizedTxSetMsg struct {
	Hash Hash
	Blob []byte
}

type TransactionMsg struct {
	Hash     Hash
	Envelope []byte
}

type GetSCPQuorumSetMsg struct {
	Hash Hash
}

type SCPQuorumSetMsg struct {
	Hash Hash
	Blob []byte
}

type SCPMessageMsg struct {
	Blob []byte
}

type GetSCPStateMsg struct {
	LedgerSeq uint32
}

type SurveyRequestMsg struct {
	Blob []byte
}

type SurveyResponseMsg struct {
	Blob []byte
}

type SendMoreMsg struct {
	NumMessages uint32
}

type SendMoreExtendedMsg struct {
	NumMessages uint32
	NumBytes    uint32
}

type FloodAdvertMsg struct {
	Hashes []Hash
}

type FloodDemandMsg struct {
	Hashes []Hash
}

// Message is the discriminated union of every payload the overlay carries.
// The pointer field matching Type carries the payload; encode requires that
// arm to be non-nil and encodes only it, and decode populates only it, rather
// than relying on XDR optional-field semantics, which would allow an
// ambiguous multi-arm encoding. Other arms are ignored by encode.
type Message struct {
	Type MsgType

	Error            *ErrorMsg
	Hello            *HelloMsg
	Auth             *AuthMsg
	DontHave         *DontHaveMsg
	GetPeers         *GetPeersMsg
	Peers            *PeersMsg
	GetTxSet         *GetTxSetMsg
	TxSet            *TxSetMsg
	GeneralizedTxSet *GeneralizedTxSetMsg
	Transaction      *TransactionMsg
	GetSCPQuorumSet  *GetSCPQuorumSetMsg
	SCPQuorumSet     *SCPQuorumSetMsg
	SCPMessage       *SCPMessageMsg
	GetSCPState      *GetSCPStateMsg
	SurveyRequest    *SurveyRequestMsg
	SurveyResponse   *SurveyResponseMsg
	SendMore         *SendMoreMsg
	SendMoreExtended *SendMoreExtendedMsg
	FloodAdvert      *FloodAdvertMsg
	FloodDemand      *FloodDemandMsg
}

func NewErrorMessage(m ErrorMsg) Message            { return Message{Type: MsgErrorMsg, Error: &m} }
func NewHelloMessage(m HelloMsg) Message             { return Message{Type: MsgHello, Hello: &m} }
func NewAuthMessage(m AuthMsg) Message                { return Message{Type: MsgAuth, Auth: &m} }
func NewDontHaveMessage(m DontHaveMsg) Message        { return Message{Type: MsgDontHave, DontHave: &m} }
func NewGetPeersMessage() Message                     { return Message{Type: MsgGetPeers, GetPeers: &GetPeersMsg{}} }
func NewPeersMessage(m PeersMsg) Message              { return Message{Type: MsgPeers, Peers: &m} }
func NewGetTxSetMessage(m GetTxSetMsg) Message        { return Message{Type: MsgGetTxSet, GetTxSet: &m} }
func NewTxSetMessage(m TxSetMsg) Message              { return Message{Type: MsgTxSet, TxSet: &m} }
func NewGeneralizedTxSetMessage(m GeneralizedTxSetMsg) Message {
	return Message{Type: MsgGeneralizedTxSet, GeneralizedTxSet: &m}
}
func NewTransactionMessage(m TransactionMsg) Message { return Message{Type: MsgTransaction, Transaction: &m} }
func NewGetSCPQuorumSetMessage(m GetSCPQuorumSetMsg) Message {
	return Message{Type: MsgGetSCPQuorumSet, GetSCPQuorumSet: &m}
}
func NewSCPQuorumSetMessage(m SCPQuorumSetMsg) Message { return Message{Type: MsgSCPQuorumSet, SCPQuorumSet: &m} }
func NewSCPMessageMessage(m SCPMessageMsg) Message     { return Message{Type: MsgSCPMessage, SCPMessage: &m} }
func NewGetSCPStateMessage(m GetSCPStateMsg) Message   { return Message{Type: MsgGetSCPState, GetSCPState: &m} }
func NewSurveyRequestMessage(m SurveyRequestMsg) Message {
	return Message{Type: MsgSurveyRequest, SurveyRequest: &m}
}
func NewSurveyResponseMessage(m SurveyResponseMsg) Message {
	return Message{Type: MsgSurveyResponse, SurveyResponse: &m}
}
func NewSendMoreMessage(m SendMoreMsg) Message { return Message{Type: MsgSendMore, SendMore: &m} }
func NewSendMoreExtendedMessage(m SendMoreExtendedMsg) Message {
	return Message{Type: MsgSendMoreExtended, SendMoreExtended: &m}
}
func NewFloodAdvertMessage(m FloodAdvertMsg) Message { return Message{Type: MsgFloodAdvert, FloodAdvert: &m} }
func NewFloodDemandMessage(m FloodDemandMsg) Message { return Message{Type: MsgFloodDemand, FloodDemand: &m} }

// payload returns the concrete struct selected by Type, or an error if the
// union is malformed (Type doesn't match the populated arm).
func (m *Message) payload() (interface{}, error) {
	switch m.Type {
	case MsgErrorMsg:
		if m.Error == nil {
			break
		}
		return m.Error, nil
	case MsgHello:
		if m.Hello == nil {
			break
		}
		return m.Hello, nil
	case MsgAuth:
		if m.Auth == nil {
			break
		}
		return m.Auth, nil
	case MsgDontHave:
		if m.DontHave == nil {
			break
		}
		return m.DontHave, nil
	case MsgGetPeers:
		if m.GetPeers == nil {
			break
		}
		return m.GetPeers, nil
	case MsgPeers:
		if m.Peers == nil {
			break
		}
		return m.Peers, nil
	case MsgGetTxSet:
		if m.GetTxSet == nil {
			break
		}
		return m.GetTxSet, nil
	case MsgTxSet:
		if m.TxSet == nil {
			break
		}
		return m.TxSet, nil
	case MsgGeneralizedTxSet:
		if m.GeneralizedTxSet == nil {
			break
		}
		return m.GeneralizedTxSet, nil
	case MsgTransaction:
		if m.Transaction == nil {
			break
		}
		return m.Transaction, nil
	case MsgGetSCPQuorumSet:
		if m.GetSCPQuorumSet == nil {
			break
		}
		return m.GetSCPQuorumSet, nil
	case MsgSCPQuorumSet:
		if m.SCPQuorumSet == nil {
			break
		}
		return m.SCPQuorumSet, nil
	case MsgSCPMessage:
		if m.SCPMessage == nil {
			break
		}
		return m.SCPMessage, nil
	case MsgGetSCPState:
		if m.GetSCPState == nil {
			break
		}
		return m.GetSCPState, nil
	case MsgSurveyRequest:
		if m.SurveyRequest == nil {
			break
		}
		return m.SurveyRequest, nil
	case MsgSurveyResponse:
		if m.SurveyResponse == nil {
			break
		}
		return m.SurveyResponse, nil
	case MsgSendMore:
		if m.SendMore == nil {
			break
		}
		return m.SendMore, nil
	case MsgSendMoreExtended:
		if m.SendMoreExtended == nil {
			break
		}
		return m.SendMoreExtended, nil
	case MsgFloodAdvert:
		if m.FloodAdvert == nil {
			break
		}
		return m.FloodAdvert, nil
	case MsgFloodDemand:
		if m.FloodDemand == nil {
			break
		}
		return m.FloodDemand, nil
	}
	return nil, Errorf(ErrProtocolBreach, "message union has type %s with no matching arm populated", m.Type)
}

// emptyPayload allocates the zero-value arm for Type, ready for decoding
// into.
func emptyPayload(t MsgType) (interface{}, *Message, error) {
	msg := &Message{Type: t}
	switch t {
	case MsgErrorMsg:
		msg.Error = &ErrorMsg{}
		return msg.Error, msg, nil
	case MsgHello:
		msg.Hello = &HelloMsg{}
		return msg.Hello, msg, nil
	case MsgAuth:
		msg.Auth = &AuthMsg{}
		return msg.Auth, msg, nil
	case MsgDontHave:
		msg.DontHave = &DontHaveMsg{}
		return msg.DontHave, msg, nil
	case MsgGetPeers:
		msg.GetPeers = &GetPeersMsg{}
		return msg.GetPeers, msg, nil
	case MsgPeers:
		msg.Peers = &PeersMsg{}
		return msg.Peers, msg, nil
	case MsgGetTxSet:
		msg.GetTxSet = &GetTxSetMsg{}
		return msg.GetTxSet, msg, nil
	case MsgTxSet:
		msg.TxSet = &TxSetMsg{}
		return msg.TxSet, msg, nil
	case MsgGeneralizedTxSet:
		msg.GeneralizedTxSet = &GeneralizedTxSetMsg{}
		return msg.GeneralizedTxSet, msg, nil
	case MsgTransaction:
		msg.Transaction = &TransactionMsg{}
		return msg.Transaction, msg, nil
	case MsgGetSCPQuorumSet:
		msg.GetSCPQuorumSet = &GetSCPQuorumSetMsg{}
		return msg.GetSCPQuorumSet, msg, nil
	case MsgSCPQuorumSet:
		msg.SCPQuorumSet = &SCPQuorumSetMsg{}
		return msg.SCPQuorumSet, msg, nil
	case MsgSCPMessage:
		msg.SCPMessage = &SCPMessageMsg{}
		return msg.SCPMessage, msg, nil
	case MsgGetSCPState:
		msg.GetSCPState = &GetSCPStateMsg{}
		return msg.GetSCPState, msg, nil
	case MsgSurveyRequest:
		msg.SurveyRequest = &SurveyRequestMsg{}
		return msg.SurveyRequest, msg, nil
	case MsgSurveyResponse:
		msg.SurveyResponse = &SurveyResponseMsg{}
		return msg.SurveyResponse, msg, nil
	case MsgSendMore:
		msg.SendMore = &SendMoreMsg{}
		return msg.SendMore, msg, nil
	case MsgSendMoreExtended:
		msg.SendMoreExtended = &SendMoreExtendedMsg{}
		return msg.SendMoreExtended, msg, nil
	case MsgFloodAdvert:
		msg.FloodAdvert = &FloodAdvertMsg{}
		return msg.FloodAdvert, msg, nil
	case MsgFloodDemand:
		msg.FloodDemand = &FloodDemandMsg{}
		return msg.FloodDemand, msg, nil
	default:
		return nil, nil, Errorf(ErrProtocolBreach, "unknown message type %d", uint32(t))
	}
}

// isUnauthenticated reports whether Type is sent outside the MAC sequence
// (HELLO and ERROR_MSG only).
func (t MsgType) isUnauthenticated() bool {
	return t == MsgHello || t == MsgErrorMsg
}

// category classifies an inbound message for the MessageRouter (section 4.3).
type category int

const (
	categoryHandshake category = iota
	categoryControl
	categoryFloodTx
	categoryConsensusFetch
	categoryConsensus
	categorySurvey
)

func (t MsgType) category() category {
	switch t {
	case MsgHello, MsgAuth:
		return categoryHandshake
	case MsgGetPeers, MsgPeers, MsgErrorMsg, MsgSendMore, MsgSendMoreExtended:
		return categoryControl
	case MsgTransaction, MsgFloodAdvert, MsgFloodDemand:
		return categoryFloodTx
	case MsgGetTxSet, MsgGetSCPQuorumSet, MsgGetSCPState:
		return categoryConsensusFetch
	case MsgDontHave, MsgTxSet, MsgSCPQuorumSet, MsgSCPMessage, MsgGeneralizedTxSet:
		return categoryConsensus
	case MsgSurveyRequest, MsgSurveyResponse:
		return categorySurvey
	default:
		return categoryControl
	}
}

// droppableIfUnsynced reports whether a message in this category is
// discarded outright while the ledger is not synced (section 4.3).
func (c category) droppableIfUnsynced() bool {
	return c == categoryFloodTx
}

// isFloodClass reports whether a message type is subject to flow-control
// credit (section 4.2): transactions, adverts, demands, and SCP messages.
func (t MsgType) isFloodClass() bool {
	switch t {
	case MsgTransaction, MsgFloodAdvert, MsgFloodDemand, MsgSCPMessage:
		return true
	default:
		return false
	}
}
