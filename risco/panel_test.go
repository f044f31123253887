package risco

import (
	"testing"

	"github.com/go-risco/risco/wire"
)

func newTestPanel() *Panel {
	p := &Panel{
		partitions: map[int]*Partition{
			1: newPartition(nil, 1, "Part 1", "R"),
		},
		zones: map[int]*Zone{
			1: newZone(nil, 1, "Zone 1", 1, "N", nil, 0),
		},
	}
	return p
}

func TestPanelDispatchZoneStatus(t *testing.T) {
	p := newTestPanel()
	var got *Zone
	p.AddZoneHandler(func(z *Zone) { got = z })

	p.dispatch(wire.Event{Kind: wire.EventZoneStatus, Index: 1, Raw: "O"})

	if got == nil {
		t.Fatal("zone handler was not called")
	}
	if !got.Triggered() {
		t.Fatal("expected zone status to have been updated to Triggered")
	}
}

func TestPanelDispatchUnknownZoneIsIgnored(t *testing.T) {
	p := newTestPanel()
	called := false
	p.AddZoneHandler(func(z *Zone) { called = true })

	p.dispatch(wire.Event{Kind: wire.EventZoneStatus, Index: 99, Raw: "O"})

	if called {
		t.Fatal("handler should not fire for an unknown zone id")
	}
}

func TestPanelDispatchPartitionStatus(t *testing.T) {
	p := newTestPanel()
	var got *Partition
	p.AddPartitionHandler(func(part *Partition) { got = part })

	p.dispatch(wire.Event{Kind: wire.EventPartitionStatus, Index: 1, Raw: "A"})

	if got == nil {
		t.Fatal("partition handler was not called")
	}
	if !got.Armed() {
		t.Fatal("expected partition status to have been updated to Armed")
	}
}

func TestPanelDispatchEvent(t *testing.T) {
	p := newTestPanel()
	var got string
	p.AddEventHandler(func(s string) { got = s })

	p.dispatch(wire.Event{Kind: wire.EventStatus, Raw: "EVENT=6,0,0,3,1,Test"})

	if got != "6,0,0,3,1,Test" {
		t.Fatalf("got %q, want EVENT= prefix stripped", got)
	}
}

func TestPanelDispatchDefault(t *testing.T) {
	p := newTestPanel()
	var cmd, res string
	var params []string
	p.AddDefaultHandler(func(c, r string, ps ...string) { cmd, res, params = c, r, ps })

	p.dispatch(wire.Event{Kind: wire.EventOther, Raw: "SYSSTT=OK"})

	if cmd != "SYSSTT" || res != "OK" || len(params) != 0 {
		t.Fatalf("got cmd=%q res=%q params=%v", cmd, res, params)
	}
}

func TestPanelDispatchDefaultWithParams(t *testing.T) {
	p := newTestPanel()
	var cmd, res string
	var params []string
	p.AddDefaultHandler(func(c, r string, ps ...string) { cmd, res, params = c, r, ps })

	p.dispatch(wire.Event{Kind: wire.EventOther, Raw: "EVENT=6,0,0,3,1,Test"})

	if cmd != "EVENT" || res != "6,0,0,3,1,Test" || len(params) != 0 {
		t.Fatalf("got cmd=%q res=%q params=%v", cmd, res, params)
	}

	p.dispatch(wire.Event{Kind: wire.EventOther, Raw: "A=1=2=3"})
	if cmd != "A" || res != "1" || len(params) != 2 || params[0] != "2" || params[1] != "3" {
		t.Fatalf("got cmd=%q res=%q params=%v", cmd, res, params)
	}
}

func TestPanelDispatchError(t *testing.T) {
	p := newTestPanel()
	var got error
	p.AddErrorHandler(func(err error) { got = err })

	wantErr := ErrOperationFailed
	p.dispatch(wire.Event{Kind: wire.EventError, Err: wantErr})

	if got != wantErr {
		t.Fatalf("got %v, want %v", got, wantErr)
	}
}

func TestPanelHandlerRemoval(t *testing.T) {
	p := newTestPanel()
	calls := 0
	remove := p.AddEventHandler(func(string) { calls++ })

	p.dispatch(wire.Event{Kind: wire.EventStatus, Raw: "EVENT=first"})
	remove()
	p.dispatch(wire.Event{Kind: wire.EventStatus, Raw: "EVENT=second"})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (handler should be removed)", calls)
	}
}

func TestGroupIndex(t *testing.T) {
	if groupIndex("A") != 0 || groupIndex("D") != 3 {
		t.Fatal("unexpected group index mapping")
	}
	if groupIndex("Z") != -1 {
		t.Fatal("expected -1 for unknown group name")
	}
}
