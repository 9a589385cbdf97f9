package overlay

import (
	"time"
)

// Run drives one connection end to end: it performs the handshake, then
// reads frames until the connection is dropped. It is meant to be the
// entire body of the goroutine PeerSession owns, mirroring p2p.Peer.run's
// single reader loop plus inline protocol-message handling.
func (s *PeerSession) Run() error {
	s.StartLivenessTimer()
	if err := s.handshake(); err != nil {
		pe := asProtocolError(err)
		s.Drop(pe, DropWeDropped, dropModeFor(pe))
		return err
	}
	for {
		if !s.flow.CanRead() {
			<-s.flow.Readable()
		}
		am, err := s.framer.ReadFrame()
		if err != nil {
			s.Drop(asProtocolError(err), DropWeDropped, DropIgnoreWriteQueue)
			return err
		}
		if err := s.handleFrame(am); err != nil {
			pe := asProtocolError(err)
			s.Drop(pe, DropWeDropped, dropModeFor(pe))
			return err
		}
	}
}

func asProtocolError(err error) *ProtocolError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*ProtocolError); ok {
		return pe
	}
	return Wrap(ErrTransport, err)
}

// dropModeFor picks the drop mode by error kind: Handshake and Policy
// reasons are worth flushing the queue for (the peer gets a chance to read
// the preceding ERROR_MSG); everything else drops immediately.
func dropModeFor(pe *ProtocolError) DropMode {
	if pe == nil {
		return DropIgnoreWriteQueue
	}
	switch pe.Code.Kind() {
	case KindHandshake, KindPolicy:
		return DropFlushWriteQueue
	default:
		return DropIgnoreWriteQueue
	}
}

// handshake runs the HELLO/AUTH exchange: both sides exchange HELLO, then
// AUTH, in either order, and the side that reads AUTH first may already be
// sending flood traffic while the other catches up — here, both exchanges
// are done strictly in sequence on this goroutine for simplicity, which is
// sufficient since nothing is sent before GOT_AUTH regardless.
func (s *PeerSession) handshake() error {
	if err := s.sendHello(); err != nil {
		return err
	}
	if err := s.recvExpected(MsgHello, s.onHello); err != nil {
		return err
	}
	if err := s.sendAuth(); err != nil {
		return err
	}
	if err := s.recvExpected(MsgAuth, s.onAuth); err != nil {
		return err
	}
	if err := s.conn.transition(StateGotAuth); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	return s.flow.InitialGrant(time.Now())
}

// recvExpected reads one frame and requires it to carry the given type,
// handing its payload to handle. HELLO is unauthenticated; AUTH is the first
// authenticated message (sequence 0) and has its sequence and MAC checked
// here. requireAuthenticated is not checked, since the connection is not yet
// GOT_AUTH.
func (s *PeerSession) recvExpected(want MsgType, handle func(Message) error) error {
	am, err := s.framer.ReadFrame()
	if err != nil {
		return err
	}
	if am.Message.Type != want {
		return Errorf(ErrProtocolBreach, "expected %s during handshake, got %s", want, am.Message.Type)
	}
	if !want.isUnauthenticated() {
		body, err := EncodeBody(am.Message)
		if err != nil {
			return err
		}
		if err := s.conn.checkRecvSeq(am.Sequence); err != nil {
			return err
		}
		if !s.auth.VerifyMAC(am.Sequence, body, am.Mac) {
			return Errorf(ErrMacMismatch, "MAC verification failed at sequence %d", am.Sequence)
		}
	}
	s.conn.touchRead(time.Now())
	return handle(am.Message)
}

func (s *PeerSession) sendHello() error {
	now := time.Now()
	s.certExpiresAt = now.Add(s.cfg.CertExpiration)
	cert := s.auth.MakeCert(s.certExpiresAt)
	var nonce [32]byte
	s.conn.mu.Lock()
	s.conn.LocalNonce = randomNonce()
	nonce = s.conn.LocalNonce
	s.conn.mu.Unlock()

	hello := HelloMsg{
		LedgerVersion:     s.cfg.LedgerVersion,
		OverlayMinVersion: s.cfg.OverlayMinVersion,
		OverlayVersion:    s.cfg.OverlayVersion,
		VersionStr:        s.cfg.VersionStr,
		NetworkID:         s.cfg.NetworkID,
		ListeningPort:     s.cfg.ListeningPort,
		Cert:              cert,
		Nonce:             nonce,
	}
	copy(hello.PeerID[:], s.identity.Public)
	return s.sendAuthenticated(NewHelloMessage(hello))
}

// onHello validates a received HELLO against every handshake precondition:
// network, version range, self-connect, ban list, duplicate-peer, and
// certificate signature/expiry. Any failure is connection-fatal.
func (s *PeerSession) onHello(msg Message) error {
	h := msg.Hello
	if h.NetworkID != s.cfg.NetworkID {
		return Errorf(ErrWrongNetwork, "peer network id does not match")
	}
	if h.OverlayVersion < s.cfg.OverlayMinVersion || s.cfg.OverlayVersion < h.OverlayMinVersion {
		return Errorf(ErrVersionMismatch, "peer overlay version range [%d,%d] incompatible with ours [%d,%d]",
			h.OverlayMinVersion, h.OverlayVersion, s.cfg.OverlayMinVersion, s.cfg.OverlayVersion)
	}
	if string(h.PeerID[:]) == string(s.identity.Public) {
		return Errorf(ErrSelfConnect, "peer id matches our own identity")
	}
	if s.banList != nil && s.banList.IsBanned(h.PeerID) {
		return Errorf(ErrBannedPeer, "peer %x is banned", h.PeerID)
	}
	if err := VerifyCert(h.PeerID, h.Cert, time.Now()); err != nil {
		return err
	}
	if s.isDup != nil && s.isDup(h.PeerID, s) {
		return Errorf(ErrDuplicatePeer, "already connected to peer %x", h.PeerID)
	}

	s.conn.mu.Lock()
	s.conn.RemoteIdentity = h.PeerID
	s.conn.RemoteNonce = h.Nonce
	s.conn.RemoteOverlayMinVersion = h.OverlayMinVersion
	s.conn.RemoteOverlayVersion = h.OverlayVersion
	s.conn.RemoteLedgerVersion = h.LedgerVersion
	if h.ListeningPort > 0 {
		s.conn.RemoteListeningAddr = remoteAddrFromHelloPort(h.ListeningPort)
	}
	localNonce := s.conn.LocalNonce
	s.conn.mu.Unlock()

	s.log = s.log.New("peer", shortID(h.PeerID))

	if err := s.auth.DeriveKeys(localNonce, h.Nonce, h.Cert.Pubkey, s.conn.Role); err != nil {
		return err
	}
	if err := s.conn.transition(StateGotHello); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	if s.peerDir != nil && s.conn.RemoteListeningAddr != "" {
		kind := PeerKindInbound
		if s.conn.Role == RoleWeInitiated {
			kind = PeerKindOutbound
		}
		s.peerDir.Update(s.conn.RemoteListeningAddr, kind)
	}
	return nil
}

func (s *PeerSession) sendAuth() error {
	flags := uint32(0)
	if s.cfg.FlowControlBytesExtMinOverlayVersion > 0 {
		flags |= AuthFlagFlowControlBytesExt
	}
	return s.sendAuthenticated(NewAuthMessage(AuthMsg{Flags: flags}))
}

// onAuth completes the handshake: decides whether the byte-flow-control
// axis activates, which requires both sides to have advertised it and both
// to meet the minimum overlay version.
func (s *PeerSession) onAuth(msg Message) error {
	a := msg.Auth
	s.conn.mu.Lock()
	s.conn.RemoteAuthFlags = a.Flags
	remoteVersion := s.conn.RemoteOverlayVersion
	s.conn.mu.Unlock()

	weAdvertised := s.cfg.FlowControlBytesExtMinOverlayVersion > 0
	theyAdvertised := a.Flags&AuthFlagFlowControlBytesExt != 0
	versionQualifies := s.cfg.OverlayVersion >= s.cfg.FlowControlBytesExtMinOverlayVersion &&
		remoteVersion >= s.cfg.FlowControlBytesExtMinOverlayVersion
	if weAdvertised && theyAdvertised && versionQualifies {
		s.flow.EnableByteAxis()
	}
	return nil
}

// handleFrame processes one post-handshake frame: MAC/sequence check for
// authenticated types, credit accounting for flood-class messages, then
// either inline handling (credit grants, ping replies) or a hand-off to the
// Router for everything else.
func (s *PeerSession) handleFrame(am *AuthenticatedMessage) error {
	now := time.Now()
	s.conn.touchRead(now)

	msg := am.Message
	var bodyLen int
	if !msg.Type.isUnauthenticated() {
		body, err := EncodeBody(msg)
		if err != nil {
			return err
		}
		if err := s.conn.checkRecvSeq(am.Sequence); err != nil {
			return err
		}
		if !s.auth.VerifyMAC(am.Sequence, body, am.Mac) {
			return Errorf(ErrMacMismatch, "MAC verification failed at sequence %d", am.Sequence)
		}
		s.metrics.markRead(msg.Type, len(body))
		bodyLen = len(body)
		// AccountInbound also charges the total inbound read budget, which
		// caps every authenticated message, not just flood-class traffic;
		// it must run before any inline handling below.
		if err := s.flow.AccountInbound(msg.Type, bodyLen); err != nil {
			return err
		}
	}

	switch msg.Type {
	case MsgErrorMsg:
		s.log.Info("peer sent ERROR_MSG", "code", msg.Error.Code, "msg", sanitize(msg.Error.Msg))
		return nil
	case MsgSendMore, MsgSendMoreExtended:
		// These never reach the Router, so they return their own total-budget
		// credit here instead of through a CreditToken.
		err := s.flow.GrantOutbound(msg, true, s.flowControlVersionQualifies(), now)
		if relErr := s.flow.ReturnInboundCredit(msg.Type, bodyLen); relErr != nil && err == nil {
			err = relErr
		}
		return err
	case MsgGetSCPQuorumSet:
		s.observePingReply(msg.GetSCPQuorumSet.Hash, now)
	case MsgDontHave:
		if msg.DontHave.Type == DontHaveQuorumSet {
			s.observePingReply(msg.DontHave.ReqHash, now)
		}
	case MsgSCPQuorumSet:
		s.observePingReply(msg.SCPQuorumSet.Hash, now)
	}

	encodedSize, _ := estimateSize(msg)
	synced := s.ledger == nil || s.ledger.IsSynced()
	s.router.Dispatch(msg, encodedSize, synced, s.flow, s.sched, s, s.reportDispatchErr)
	return nil
}

func (s *PeerSession) flowControlVersionQualifies() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.cfg.OverlayVersion >= s.cfg.FlowControlBytesExtMinOverlayVersion &&
		s.conn.RemoteOverlayVersion >= s.cfg.FlowControlBytesExtMinOverlayVersion
}

func (s *PeerSession) reportDispatchErr(err error) {
	if err == nil {
		return
	}
	s.log.Warn("dispatch error", "err", err)
}

func estimateSize(msg Message) (int, error) {
	body, err := EncodeBody(msg)
	if err != nil {
		return 0, err
	}
	return len(body), nil
}

func randomNonce() [32]byte {
	var n [32]byte
	fillRandom(n[:])
	return n
}
