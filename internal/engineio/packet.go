// Package engineio implements the transport-negotiating Engine protocol:
// packet/payload framing (this file and payload.go), the polling and
// websocket transports (transport*.go), and the per-client session state
// machine (session.go).
package engineio

import (
	"encoding/base64"

	"github.com/pkg/errors"
)

// PacketType is one of the seven Engine packet types; its numeric value is
// the wire digit.
type PacketType byte

const (
	PacketOpen PacketType = iota
	PacketClose
	PacketPing
	PacketPong
	PacketMessage
	PacketUpgrade
	PacketNoop
)

// ErrMalformed is wrapped by every packet/payload decode failure, matching
// the PROTOCOL_MALFORMED taxonomy entry.
var ErrMalformed = errors.New("engineio: malformed packet")

func (t PacketType) digit() byte { return '0' + byte(t) }

func (t PacketType) valid() bool { return t <= PacketNoop }

// Packet is a single Engine-layer message. Data is nil when absent. IsBinary
// distinguishes an opaque byte sequence from UTF-8 text; when IsBinary is
// false, Data holds the raw text bytes (not base64).
type Packet struct {
	Type     PacketType
	IsBinary bool
	Data     []byte
}

// Text constructs a text Engine packet.
func Text(t PacketType, data string) Packet {
	return Packet{Type: t, Data: []byte(data)}
}

// Binary constructs a binary Engine packet.
func Binary(t PacketType, data []byte) Packet {
	return Packet{Type: t, IsBinary: true, Data: data}
}

// EncodeSingle renders one packet the way it would travel as a single
// WebSocket frame, or as one "element" inside a polling payload's
// binary-capable framing. supportsBinary controls whether a binary packet is
// emitted as a raw byte sequence (true) or as base64 text prefixed "b<digit>"
// (false). Returns the encoded bytes and whether they are a binary frame.
func EncodeSingle(p Packet, supportsBinary bool) (out []byte, isBinaryFrame bool) {
	if !p.IsBinary {
		out = make([]byte, 0, len(p.Data)+1)
		out = append(out, p.Type.digit())
		out = append(out, p.Data...)
		return out, false
	}
	if supportsBinary {
		out = make([]byte, 0, len(p.Data)+1)
		out = append(out, byte(p.Type))
		out = append(out, p.Data...)
		return out, true
	}
	enc := base64.StdEncoding.EncodeToString(p.Data)
	out = make([]byte, 0, len(enc)+2)
	out = append(out, 'b')
	out = append(out, p.Type.digit())
	out = append(out, enc...)
	return out, false
}

// DecodeSingleText decodes one packet from its text form, which is either
// "<digit><text>" or the base64 binary form "b<digit><base64>".
func DecodeSingleText(s string) (Packet, error) {
	if len(s) == 0 {
		return Packet{}, errors.Wrap(ErrMalformed, "empty packet")
	}
	if s[0] == 'b' {
		if len(s) < 2 {
			return Packet{}, errors.Wrap(ErrMalformed, "truncated base64 packet header")
		}
		t, err := digitToType(s[1])
		if err != nil {
			return Packet{}, err
		}
		data, err := base64.StdEncoding.DecodeString(s[2:])
		if err != nil {
			return Packet{}, errors.Wrap(ErrMalformed, "invalid base64 payload")
		}
		return Packet{Type: t, IsBinary: true, Data: data}, nil
	}
	t, err := digitToType(s[0])
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: t, Data: []byte(s[1:])}, nil
}

// DecodeSingleBinary decodes one packet from a raw binary frame: first byte
// is the type, the remainder is the payload.
func DecodeSingleBinary(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, errors.Wrap(ErrMalformed, "empty binary packet")
	}
	t := PacketType(b[0])
	if !t.valid() {
		return Packet{}, errors.Wrapf(ErrMalformed, "unknown binary packet type %d", b[0])
	}
	data := make([]byte, len(b)-1)
	copy(data, b[1:])
	return Packet{Type: t, IsBinary: true, Data: data}, nil
}

func digitToType(d byte) (PacketType, error) {
	if d < '0' || d > '9' {
		return 0, errors.Wrapf(ErrMalformed, "invalid packet type digit %q", d)
	}
	t := PacketType(d - '0')
	if !t.valid() {
		return 0, errors.Wrapf(ErrMalformed, "unknown packet type %d", t)
	}
	return t, nil
}
