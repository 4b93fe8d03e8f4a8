package messaging

import "testing"

func TestServerOnFiresForEachConnectingSocket(t *testing.T) {
	server := NewServer(nil, nil)

	var got *Socket
	server.On("/chat", func(s *Socket) { got = s })

	_, _, sock := connectClient(t, server, "sid-on", "/chat")
	if got != sock {
		t.Fatalf("expected On callback to receive the connecting socket")
	}
}

func TestServerOfIsIdempotent(t *testing.T) {
	server := NewServer(nil, nil)
	a := server.Of("/chat")
	b := server.Of("/chat")
	if a != b {
		t.Fatal("expected Of to return the same Namespace instance for the same name")
	}
}
