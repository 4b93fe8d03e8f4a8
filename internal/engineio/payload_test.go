package engineio

import (
	"bytes"
	"testing"
)

func TestPayloadBinaryRoundTrip(t *testing.T) {
	packets := []Packet{
		Text(PacketOpen, `{"sid":"abc"}`),
		Binary(PacketMessage, []byte{0x01, 0x02, 0xff, 0x00}),
		Text(PacketPing, ""),
	}

	encoded := EncodePayloadBinary(packets)
	decoded, err := DecodePayloadBinary(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertPacketsEqual(t, packets, decoded)
}

func TestPayloadTextOnlyRoundTrip(t *testing.T) {
	packets := []Packet{
		Text(PacketOpen, `{"sid":"abc"}`),
		Binary(PacketMessage, []byte{0x01, 0x02, 0xff, 0x00}),
		Text(PacketNoop, ""),
	}

	encoded := EncodePayloadText(packets)
	decoded, err := DecodePayloadText(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertPacketsEqual(t, packets, decoded)
}

func TestPayloadBinaryDecodeMalformedLength(t *testing.T) {
	bad := []byte{0, 9, 0xFF, 'x'}
	if _, err := DecodePayloadBinary(bad); err == nil {
		t.Fatalf("expected malformed error for overrunning length")
	}
}

func TestPayloadTextDecodeMalformedSeparator(t *testing.T) {
	if _, err := DecodePayloadText([]byte("5 0hello")); err == nil {
		t.Fatalf("expected malformed error for missing colon")
	}
}

func assertPacketsEqual(t *testing.T, want, got []Packet) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Type != got[i].Type {
			t.Fatalf("packet %d: type mismatch want %v got %v", i, want[i].Type, got[i].Type)
		}
		if want[i].IsBinary != got[i].IsBinary {
			t.Fatalf("packet %d: binary flag mismatch", i)
		}
		if !bytes.Equal(want[i].Data, got[i].Data) {
			t.Fatalf("packet %d: data mismatch want %v got %v", i, want[i].Data, got[i].Data)
		}
	}
}
