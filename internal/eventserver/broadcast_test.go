package eventserver

import "testing"

func TestHubBroadcastDeliversToAllClients(t *testing.T) {
	h := newHub()
	a := h.register()
	b := h.register()

	h.broadcast([]byte("hello"))

	select {
	case msg := <-a.send:
		if string(msg) != "hello" {
			t.Fatalf("client a got %q", msg)
		}
	default:
		t.Fatal("client a received nothing")
	}

	select {
	case msg := <-b.send:
		if string(msg) != "hello" {
			t.Fatalf("client b got %q", msg)
		}
	default:
		t.Fatal("client b received nothing")
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	h := newHub()
	c := h.register()
	h.unregister(c)

	h.broadcast([]byte("hello"))

	if _, ok := <-c.send; ok {
		t.Fatal("expected closed channel for unregistered client")
	}
}

func TestHubDropsForFullBuffer(t *testing.T) {
	h := newHub()
	c := h.register()

	for i := 0; i < broadcastChannelSize+10; i++ {
		h.broadcast([]byte("x"))
	}

	if len(c.send) != broadcastChannelSize {
		t.Fatalf("send buffer len = %d, want %d (full, excess dropped)", len(c.send), broadcastChannelSize)
	}
}
