package messaging

import "testing"

func TestHasBinDetectsNestedBytes(t *testing.T) {
	v := Array(String("a"), Object(Field("blob", Bytes([]byte{1, 2, 3}))))
	if !HasBin(v) {
		t.Fatal("expected HasBin to find nested bytes")
	}
	if HasBin(Array(String("a"), Number(1))) {
		t.Fatal("expected HasBin false for a tree with no bytes")
	}
}

func TestExtractAndReconstructBinaryRoundTrip(t *testing.T) {
	original := Array(
		String("evt"),
		Object(Field("blob", Bytes([]byte{0x01, 0x02})), Field("name", String("x"))),
	)

	rewritten, attachments := ExtractBinary(original)
	if len(attachments) != 1 || string(attachments[0]) != "\x01\x02" {
		t.Fatalf("expected one attachment of 0x01 0x02, got %+v", attachments)
	}
	if HasBin(rewritten) {
		t.Fatal("rewritten tree must not contain raw bytes")
	}

	reconstructed, err := ReconstructBinary(rewritten, attachments)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	blob := reconstructed.Arr[1].Obj[0].Val
	if blob.Kind != KindBytes || string(blob.Bin) != "\x01\x02" {
		t.Fatalf("expected reconstructed blob, got %+v", blob)
	}
}

func TestReconstructBinaryOutOfRangePlaceholder(t *testing.T) {
	bad := placeholder(5)
	if _, err := ReconstructBinary(bad, nil); err == nil {
		t.Fatal("expected error for out-of-range placeholder num")
	}
}

func TestFromGoSortsObjectKeysForDeterminism(t *testing.T) {
	v, err := FromGo(map[string]any{"z": 1, "a": 2, "m": 3})
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	if len(v.Obj) != 3 || v.Obj[0].Key != "a" || v.Obj[1].Key != "m" || v.Obj[2].Key != "z" {
		t.Fatalf("expected sorted keys a,m,z, got %+v", v.Obj)
	}
}

func TestMarshalJSONRoundTripsThroughFromJSON(t *testing.T) {
	v := Object(Field("n", Number(42)), Field("s", String("hi")), Field("b", Bool(true)), Field("arr", Array(Number(1), Number(2))))
	raw, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Obj) != 4 {
		t.Fatalf("expected 4 fields, got %+v", back.Obj)
	}
}

func TestMarshalJSONRejectsUnresolvedBytes(t *testing.T) {
	v := Bytes([]byte{1})
	if _, err := v.MarshalJSON(); err == nil {
		t.Fatal("expected error marshaling raw bytes directly")
	}
}
