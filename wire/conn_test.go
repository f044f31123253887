package wire

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestConnServeDispatchesResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := NewCodec()
	mux := NewMultiplexer(4)
	router := NewEventRouter()
	conn := NewConn(client, codec, mux, router, nil)

	go conn.Serve()

	pr, err := mux.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	serverCodec := NewCodec()
	frame, err := serverCodec.Encode(pr.id, "ACK", false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	go func() {
		server.Write(frame)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := pr.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if f.Payload != "ACK" {
		t.Fatalf("Payload = %q, want ACK", f.Payload)
	}
}

func TestConnServeDispatchesPushAndAcks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := NewCodec()
	mux := NewMultiplexer(4)
	router := NewEventRouter()
	conn := NewConn(client, codec, mux, router, nil)

	var mu sync.Mutex
	var got []Event
	router.Observe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	go conn.Serve()

	serverCodec := NewCodec()
	push, err := serverCodec.Encode(FirstPushID, "EVENT=6,0,0,3,1,Test", false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	ackRead := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := server.Read(buf)
		ackRead <- buf[:n]
	}()

	if _, err := server.Write(push); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case ack := <-ackRead:
		f, err := serverCodec.Decode(ack)
		if err != nil {
			t.Fatalf("Decode ack: %v", err)
		}
		if f.Payload != "ACK" || f.ID != FirstPushID {
			t.Fatalf("ack frame = %+v, want id %d payload ACK", f, FirstPushID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ACK of push frame")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Kind != EventStatus {
		t.Fatalf("Kind = %v, want EventStatus", got[0].Kind)
	}
}
