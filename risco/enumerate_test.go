package risco

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-risco/risco/wire"
)

// newEnumerationTestPanel dials a session over net.Pipe, runs the
// RID/LCL/RMT handshake against the returned scriptedPanel and wraps
// the result in a bare Panel ready to drive initZones/initPartitions
// against whatever script the caller adds next.
func newEnumerationTestPanel(t *testing.T, maxZones, maxParts int) (*Panel, *scriptedPanel, func()) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	panel := newScriptedPanel(t, serverConn)

	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		panel.expect("RID", "RID=0")
		panel.expect("LCL", "ACK")
		panel.expect("RMT=0000", "ACK")
	}()

	session, err := wire.NewSession(context.Background(), clientConn, wire.Options{Code: "0000"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	select {
	case <-handshakeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake script did not finish")
	}

	p := &Panel{
		session:    session,
		caps:       Capabilities{MaxZones: maxZones, MaxParts: maxParts},
		partitions: make(map[int]*Partition),
		zones:      make(map[int]*Zone),
	}
	cleanup := func() {
		clientConn.Close()
		serverConn.Close()
	}
	return p, panel, cleanup
}

func TestInitZonesDiscardsOperationError(t *testing.T) {
	p, panel, cleanup := newEnumerationTestPanel(t, 1, 0)
	defer cleanup()

	scriptDone := make(chan struct{})
	go func() {
		defer close(scriptDone)
		panel.expect("ZTYPE*1?", "N0005")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.initZones(ctx); err != nil {
		t.Fatalf("initZones returned %v, want nil (operation error should be discarded)", err)
	}
	if len(p.zones) != 0 {
		t.Fatalf("zones = %+v, want empty", p.zones)
	}

	select {
	case <-scriptDone:
	case <-time.After(2 * time.Second):
		t.Fatal("script did not finish")
	}
}

func TestInitZonesAbortsOnConnectionError(t *testing.T) {
	p, panel, cleanup := newEnumerationTestPanel(t, 1, 0)
	defer cleanup()

	go func() {
		panel.recv() // ZTYPE*1? -- never answered
		panel.nc.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.initZones(ctx); err == nil {
		t.Fatal("initZones returned nil, want a connection-level error to abort enumeration")
	}
}
