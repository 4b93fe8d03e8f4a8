package messaging

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"iorelay/internal/engineio"
)

// Encode renders p as one or more Engine "message" packets, per spec §4.2:
// the header carries type/attachment-count/nsp/id/json-body as text, and
// each extracted attachment follows as its own binary Engine packet.
func Encode(p Packet) []engineio.Packet {
	nsp := p.Nsp
	if nsp == "" {
		nsp = "/"
	}

	var attachments [][]byte
	var rewritten *Value
	if p.Data != nil {
		r, atts := ExtractBinary(*p.Data)
		rewritten = &r
		attachments = atts
	}

	typ := p.Type
	if len(attachments) > 0 {
		typ = typ.binaryVariant()
	} else {
		typ = typ.textVariant()
	}

	var sb strings.Builder
	sb.WriteByte(byte('0' + int(typ)))
	if len(attachments) > 0 {
		sb.WriteString(strconv.Itoa(len(attachments)))
		sb.WriteByte('-')
	}
	if nsp != "/" {
		sb.WriteString(nsp)
		sb.WriteByte(',')
	}
	if p.ID != nil {
		sb.WriteString(strconv.Itoa(*p.ID))
	}
	if rewritten != nil {
		jb, _ := rewritten.MarshalJSON()
		sb.Write(jb)
	}

	out := make([]engineio.Packet, 0, 1+len(attachments))
	out = append(out, engineio.Text(engineio.PacketMessage, sb.String()))
	for _, a := range attachments {
		out = append(out, engineio.Binary(engineio.PacketMessage, a))
	}
	return out
}

// Decoder is the stateful inverse of Encode (spec §4.2 "Decoding"). Feed one
// Engine message payload (and its binary flag) at a time; a non-nil Packet
// is returned once a full Messaging packet — header plus all declared
// attachments — has arrived.
type Decoder struct {
	pending     *Packet
	remaining   int
	attachments [][]byte
}

// NewDecoder returns an empty decoder, ready to accept a header.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed processes one inbound Engine "message" packet's payload.
func (d *Decoder) Feed(data []byte, isBinary bool) (*Packet, error) {
	if d.pending != nil {
		if !isBinary {
			d.reset()
			return nil, errors.New("messaging: header arrived before binary attachments completed")
		}
		d.attachments = append(d.attachments, data)
		d.remaining--
		if d.remaining > 0 {
			return nil, nil
		}
		pending := d.pending
		atts := d.attachments
		d.reset()
		if pending.Data != nil {
			reconstructed, err := ReconstructBinary(*pending.Data, atts)
			if err != nil {
				return nil, err
			}
			pending.Data = &reconstructed
		}
		return pending, nil
	}
	if isBinary {
		return nil, errors.New("messaging: unexpected binary packet outside attachment reconstruction")
	}
	return d.parseHeader(data)
}

// Reset drops any in-flight reconstruction state (spec §4.2: "Destroying the
// decoder drops any in-flight state").
func (d *Decoder) Reset() { d.reset() }

func (d *Decoder) reset() {
	d.pending = nil
	d.remaining = 0
	d.attachments = nil
}

func (d *Decoder) parseHeader(data []byte) (*Packet, error) {
	s := string(data)
	if len(s) == 0 {
		return nil, errors.New("messaging: empty packet header")
	}
	digit := s[0]
	if digit < '0' || digit > '6' {
		return nil, errors.Errorf("messaging: unknown packet type digit %q", digit)
	}
	typ := PacketType(digit - '0')
	rest := s[1:]

	attachCount := 0
	if typ == PacketBinaryEvent || typ == PacketBinaryAck {
		idx := strings.IndexByte(rest, '-')
		if idx < 0 {
			return nil, errors.New("messaging: binary packet missing attachment count")
		}
		n, err := strconv.Atoi(rest[:idx])
		if err != nil || n < 0 {
			return nil, errors.Wrap(err, "messaging: malformed attachment count")
		}
		attachCount = n
		rest = rest[idx+1:]
	}

	nsp := "/"
	if strings.HasPrefix(rest, "/") {
		if idx := strings.IndexByte(rest, ','); idx >= 0 {
			nsp = rest[:idx]
			rest = rest[idx+1:]
		} else {
			nsp = rest
			rest = ""
		}
	}

	var id *int
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return nil, errors.Wrap(err, "messaging: malformed ack id")
		}
		id = &n
		rest = rest[i:]
	}

	var dataVal *Value
	if len(rest) > 0 {
		v, err := FromJSON([]byte(rest))
		if err != nil {
			return nil, errors.Wrap(err, "messaging: malformed json body")
		}
		dataVal = &v
	}

	pkt := &Packet{Type: typ, Nsp: nsp, ID: id, Data: dataVal}

	if attachCount > 0 {
		d.pending = pkt
		d.remaining = attachCount
		d.attachments = nil
		return nil, nil
	}
	return pkt, nil
}
