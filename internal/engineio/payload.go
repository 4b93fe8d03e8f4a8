package engineio

import (
	"bytes"

	"github.com/pkg/errors"
)

// DecodedPacket pairs a decoded packet with its position in the payload it
// came from, matching the (packet, index, total) triples the decoder is
// specified to yield.
type DecodedPacket struct {
	Packet Packet
	Index  int
	Total  int
}

// EncodePayloadBinary renders packets using the binary-capable polling
// framing: one byte type marker (0 text, 1 binary), the element length as a
// run of single-decimal-digit byte values terminated by 0xFF, then the
// element itself (EncodeSingle with supportsBinary=true).
func EncodePayloadBinary(packets []Packet) []byte {
	var buf bytes.Buffer
	for _, p := range packets {
		elem, isBinary := EncodeSingle(p, true)
		if isBinary {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(digitBytes(len(elem)))
		buf.WriteByte(0xFF)
		buf.Write(elem)
	}
	return buf.Bytes()
}

// DecodePayloadBinary is the inverse of EncodePayloadBinary.
func DecodePayloadBinary(data []byte) ([]Packet, error) {
	var packets []Packet
	for len(data) > 0 {
		marker := data[0]
		if marker != 0 && marker != 1 {
			return nil, errors.Wrapf(ErrMalformed, "unknown payload element marker %d", marker)
		}
		rest := data[1:]
		sep := bytes.IndexByte(rest, 0xFF)
		if sep == -1 {
			return nil, errors.Wrap(ErrMalformed, "missing length terminator")
		}
		length, err := digitsToInt(rest[:sep])
		if err != nil {
			return nil, err
		}
		rest = rest[sep+1:]
		if length > len(rest) {
			return nil, errors.Wrap(ErrMalformed, "element length overruns payload")
		}
		elem := rest[:length]
		var pkt Packet
		if marker == 1 {
			pkt, err = DecodeSingleBinary(elem)
		} else {
			pkt, err = DecodeSingleText(string(elem))
		}
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
		data = rest[length:]
	}
	return packets, nil
}

// EncodePayloadText renders packets using the text-only polling framing:
// "<length>:<encoded>" per element, where length counts the characters of
// the encoded (possibly base64, for binary packets) element.
func EncodePayloadText(packets []Packet) []byte {
	var buf bytes.Buffer
	for _, p := range packets {
		elem, _ := EncodeSingle(p, false)
		buf.Write([]byte(itoaDecimal(len(elem))))
		buf.WriteByte(':')
		buf.Write(elem)
	}
	return buf.Bytes()
}

// DecodePayloadText is the inverse of EncodePayloadText.
func DecodePayloadText(data []byte) ([]Packet, error) {
	var packets []Packet
	for len(data) > 0 {
		colon := bytes.IndexByte(data, ':')
		if colon == -1 {
			return nil, errors.Wrap(ErrMalformed, "missing length separator")
		}
		length, err := asciiDigitsToInt(data[:colon])
		if err != nil {
			return nil, err
		}
		data = data[colon+1:]
		if length > len(data) {
			return nil, errors.Wrap(ErrMalformed, "element length overruns payload")
		}
		elem := data[:length]
		pkt, err := DecodeSingleText(string(elem))
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
		data = data[length:]
	}
	return packets, nil
}

// DecodeTriples pairs already-decoded payload packets (framing is decoded by
// DecodePayloadBinary or DecodePayloadText) with their index and the total,
// giving the (packet, index, total) triples the session delivers to
// listeners in order.
func DecodeTriples(packets []Packet) []DecodedPacket {
	out := make([]DecodedPacket, len(packets))
	for i, p := range packets {
		out[i] = DecodedPacket{Packet: p, Index: i, Total: len(packets)}
	}
	return out
}

// digitBytes renders n as a sequence of raw byte values 0-9 (not ASCII).
func digitBytes(n int) []byte {
	if n == 0 {
		return []byte{0}
	}
	var rev []byte
	for n > 0 {
		rev = append(rev, byte(n%10))
		n /= 10
	}
	out := make([]byte, len(rev))
	for i, d := range rev {
		out[len(rev)-1-i] = d
	}
	return out
}

func digitsToInt(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, errors.Wrap(ErrMalformed, "empty length field")
	}
	n := 0
	for _, d := range b {
		if d > 9 {
			return 0, errors.Wrap(ErrMalformed, "invalid length digit byte")
		}
		n = n*10 + int(d)
	}
	return n, nil
}

func asciiDigitsToInt(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, errors.Wrap(ErrMalformed, "empty length field")
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.Wrap(ErrMalformed, "invalid ascii length digit")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func itoaDecimal(n int) string {
	if n == 0 {
		return "0"
	}
	var rev []byte
	for n > 0 {
		rev = append(rev, byte('0'+n%10))
		n /= 10
	}
	out := make([]byte, len(rev))
	for i, c := range rev {
		out[len(rev)-1-i] = c
	}
	return string(out)
}
