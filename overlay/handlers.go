package overlay

import (
	"crypto/rand"
	"fmt"
)

func fillRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("overlay: system randomness unavailable: " + err.Error())
	}
}

// remoteAddrFromHelloPort builds the peer-directory address for the port a
// HELLO advertised, in the form ":port"; the connection's remote IP is not
// part of it. The overlay core never resolves or dials this itself — it only
// hands the address to PeerDirectory.
func remoteAddrFromHelloPort(port int32) string {
	return fmt.Sprintf(":%d", port)
}

// HandleControl services GET_PEERS/PEERS (SEND_MORE/SEND_MORE_EXTENDED and
// ERROR_MSG are handled inline in handleFrame and never reach here).
func (s *PeerSession) HandleControl(msg Message) error {
	switch msg.Type {
	case MsgGetPeers:
		if s.peerDir == nil {
			return nil
		}
		peers := s.peerDir.GetPeersToSend(50, s.conn.RemoteIdentity)
		return s.sendMessage(NewPeersMessage(PeersMsg{Peers: peers}))
	case MsgPeers:
		if s.peerDir == nil {
			return nil
		}
		for _, p := range msg.Peers.Peers {
			s.peerDir.EnsureExists(fmt.Sprintf("%d.%d.%d.%d:%d", p.IP[0], p.IP[1], p.IP[2], p.IP[3], p.Port))
		}
		return nil
	default:
		return Errorf(ErrProtocolBreach, "HandleControl received unexpected type %s", msg.Type)
	}
}

// HandleFloodTx services TRANSACTION/FLOOD_ADVERT/FLOOD_DEMAND through the
// AdvertEngine and Consensus Engine.
func (s *PeerSession) HandleFloodTx(msg Message) error {
	switch msg.Type {
	case MsgTransaction:
		if s.consensus == nil {
			return nil
		}
		s.consensus.RecvTransaction(msg.Transaction.Envelope)
		return nil
	case MsgFloodAdvert:
		ledgerSeq := uint32(0)
		if s.ledger != nil {
			ledgerSeq = s.ledger.GetLastClosedLedgerHeader().LedgerSeq
		}
		s.advert.RecordReceivedAdvert(*msg.FloodAdvert, ledgerSeq)
		return nil
	case MsgFloodDemand:
		return s.advert.HandleDemand(*msg.FloodDemand)
	default:
		return Errorf(ErrProtocolBreach, "HandleFloodTx received unexpected type %s", msg.Type)
	}
}

// HandleConsensusFetch answers GET_TX_SET/GET_SCP_QUORUMSET/GET_SCP_STATE by
// asking the Consensus Engine, replying DONT_HAVE on a miss.
func (s *PeerSession) HandleConsensusFetch(msg Message) error {
	switch msg.Type {
	case MsgGetTxSet:
		h := msg.GetTxSet.Hash
		if s.consensus == nil {
			return nil
		}
		if blob, ok := s.consensus.GetTxSet(h); ok {
			return s.sendLargeBlob(NewTxSetMessage(TxSetMsg{Hash: h, Blob: blob}))
		}
		s.consensus.PeerDoesntHave(DontHaveTxSet, h, s)
		return s.sendMessage(NewDontHaveMessage(DontHaveMsg{Type: DontHaveTxSet, ReqHash: h}))
	case MsgGetSCPQuorumSet:
		h := msg.GetSCPQuorumSet.Hash
		if s.consensus == nil {
			return nil
		}
		if blob, ok := s.consensus.GetQSet(h); ok {
			return s.sendMessage(NewSCPQuorumSetMessage(SCPQuorumSetMsg{Hash: h, Blob: blob}))
		}
		s.consensus.PeerDoesntHave(DontHaveQuorumSet, h, s)
		return s.sendMessage(NewDontHaveMessage(DontHaveMsg{Type: DontHaveQuorumSet, ReqHash: h}))
	case MsgGetSCPState:
		if s.consensus == nil {
			return nil
		}
		s.consensus.SendSCPStateToPeer(msg.GetSCPState.LedgerSeq, s)
		return nil
	default:
		return Errorf(ErrProtocolBreach, "HandleConsensusFetch received unexpected type %s", msg.Type)
	}
}

// HandleConsensus forwards DONT_HAVE/TX_SET/GENERALIZED_TX_SET/SCP_MESSAGE
// to the Consensus Engine. TX_SET and
// GENERALIZED_TX_SET are deliberately routed identically: the wire
// distinction exists for the consensus layer's own bookkeeping, not for
// overlay-level dispatch. SCP_QUORUMSET is accepted but not forwarded:
// ConsensusEngine has no method that takes a quorum set, and handleFrame
// only matches it against an outstanding ping.
func (s *PeerSession) HandleConsensus(msg Message) error {
	if s.consensus == nil {
		return nil
	}
	switch msg.Type {
	case MsgDontHave:
		s.consensus.PeerDoesntHave(msg.DontHave.Type, msg.DontHave.ReqHash, s)
		return nil
	case MsgTxSet:
		s.consensus.RecvTxSet(msg.TxSet.Hash, msg.TxSet.Blob)
		return nil
	case MsgGeneralizedTxSet:
		s.consensus.RecvTxSet(msg.GeneralizedTxSet.Hash, msg.GeneralizedTxSet.Blob)
		return nil
	case MsgSCPQuorumSet:
		return nil
	case MsgSCPMessage:
		s.consensus.RecvSCPEnvelope(msg.SCPMessage.Blob)
		return nil
	default:
		return Errorf(ErrProtocolBreach, "HandleConsensus received unexpected type %s", msg.Type)
	}
}

// HandleSurvey relays SURVEY_REQUEST/SURVEY_RESPONSE to the SurveyManager
// collaborator unconditionally, without interpreting the payload.
func (s *PeerSession) HandleSurvey(msg Message) error {
	if s.survey == nil {
		return nil
	}
	switch msg.Type {
	case MsgSurveyRequest:
		s.survey.RelayOrProcessRequest(*msg.SurveyRequest, s)
		return nil
	case MsgSurveyResponse:
		s.survey.RelayOrProcessResponse(*msg.SurveyResponse, s)
		return nil
	default:
		return Errorf(ErrProtocolBreach, "HandleSurvey received unexpected type %s", msg.Type)
	}
}
