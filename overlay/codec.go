package overlay

import (
	"bytes"
	"encoding/binary"
	"io"

	xdr "github.com/davecgh/go-xdr/xdr2"
)

// MaxFrameSize is the largest encoded AuthenticatedMessage the Framer will
// accept. A length prefix claiming more is fatal.
const MaxFrameSize = 16 * 1024 * 1024

// AuthenticatedMessage is the envelope carried by every frame. HELLO and
// ERROR_MSG are sent with Sequence == 0 and a zero Mac and are not checked
// against the MAC sequence.
type AuthenticatedMessage struct {
	Sequence uint64
	Message  Message
	Mac      [32]byte
}

// encode writes the canonical XDR encoding of the envelope, without the
// length-prefix frame header.
func (am *AuthenticatedMessage) encode(w io.Writer) error {
	if _, err := xdr.Marshal(w, am.Sequence); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	if err := am.Message.encode(w); err != nil {
		return err
	}
	if _, err := xdr.Marshal(w, am.Mac); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	return nil
}

func (am *AuthenticatedMessage) decode(r io.Reader) error {
	if _, err := xdr.Unmarshal(r, &am.Sequence); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	msg, err := decodeMessage(r)
	if err != nil {
		return err
	}
	am.Message = *msg
	if _, err := xdr.Unmarshal(r, &am.Mac); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	return nil
}

func (m *Message) encode(w io.Writer) error {
	payload, err := m.payload()
	if err != nil {
		return err
	}
	if _, err := xdr.Marshal(w, uint32(m.Type)); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	if _, err := xdr.Marshal(w, payload); err != nil {
		return Wrap(ErrProtocolBreach, err)
	}
	return nil
}

func decodeMessage(r io.Reader) (*Message, error) {
	var rawType uint32
	if _, err := xdr.Unmarshal(r, &rawType); err != nil {
		return nil, Wrap(ErrProtocolBreach, err)
	}
	payload, msg, err := emptyPayload(MsgType(rawType))
	if err != nil {
		return nil, err
	}
	if _, err := xdr.Unmarshal(r, payload); err != nil {
		return nil, Wrap(ErrProtocolBreach, err)
	}
	return msg, nil
}

// EncodeBody returns the canonical XDR encoding of msg, with no frame
// header, authentication, or sequence number. Used to compute a flood
// message's byte cost for the byte-flow-control axis and to compute the MAC.
func EncodeBody(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Framer turns a raw byte stream into length-prefixed AuthenticatedMessage
// frames and back. It does not interpret MAC, sequence, or message contents;
// that is the Authenticator's job one layer up.
type Framer struct {
	rw io.ReadWriter
}

func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw}
}

// ReadFrame reads one length-prefixed frame and decodes it.
func (f *Framer) ReadFrame() (*AuthenticatedMessage, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(f.rw, lenbuf[:]); err != nil {
		return nil, Wrap(ErrTransport, err)
	}
	size := binary.BigEndian.Uint32(lenbuf[:])
	if size == 0 {
		return nil, Errorf(ErrProtocolBreach, "zero-length frame")
	}
	if size > MaxFrameSize {
		return nil, Errorf(ErrFrameTooLarge, "frame size %d exceeds maximum %d", size, MaxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(f.rw, body); err != nil {
		return nil, Wrap(ErrTransport, err)
	}
	am := new(AuthenticatedMessage)
	if err := am.decode(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return am, nil
}

// WriteFrame encodes am and writes it as one length-prefixed frame.
func (f *Framer) WriteFrame(am *AuthenticatedMessage) error {
	var buf bytes.Buffer
	if err := am.encode(&buf); err != nil {
		return err
	}
	if buf.Len() == 0 || buf.Len() > MaxFrameSize {
		return Errorf(ErrFrameTooLarge, "encoded frame size %d exceeds maximum %d", buf.Len(), MaxFrameSize)
	}
	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(buf.Len()))
	if _, err := f.rw.Write(lenbuf[:]); err != nil {
		return Wrap(ErrTransport, err)
	}
	if _, err := f.rw.Write(buf.Bytes()); err != nil {
		return Wrap(ErrTransport, err)
	}
	return nil
}
