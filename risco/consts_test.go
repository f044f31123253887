package risco

import "testing"

func TestPanelCapabilitiesRW032(t *testing.T) {
	caps, err := PanelCapabilities("RW032", "")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if caps.Model != "Agility 4" || caps.MaxZones != 32 || caps.MaxParts != 3 {
		t.Fatalf("caps = %+v", caps)
	}
}

func TestPanelCapabilitiesRP432FirmwareGate(t *testing.T) {
	low, err := PanelCapabilities("RP432", "2.9")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if low.MaxZones != 32 || low.MaxOutputs != 14 {
		t.Fatalf("low firmware caps = %+v, want MaxZones=32 MaxOutputs=14", low)
	}

	high, err := PanelCapabilities("RP432", "3.1")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if high.MaxZones != 50 || high.MaxOutputs != 32 {
		t.Fatalf("high firmware caps = %+v, want MaxZones=50 MaxOutputs=32", high)
	}
}

func TestPanelCapabilitiesRP432MPIsDistinctFromRP432(t *testing.T) {
	caps, err := PanelCapabilities("RP432MP", "1.0")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if caps.Model != "LightSys+" || caps.MaxZones != 512 || caps.MaxParts != 32 {
		t.Fatalf("caps = %+v", caps)
	}
}

func TestPanelCapabilitiesRP512FirmwareGate(t *testing.T) {
	cases := []struct {
		firmware string
		maxZones int
	}{
		{"1.1.9.9", 64},
		{"1.2.0.6", 64},
		{"1.2.0.7", 128},
		{"1.2.1.0", 128},
		{"1.3.0.0", 128},
		{"2.0.0.0", 128},
	}
	for _, c := range cases {
		caps, err := PanelCapabilities("RP512", c.firmware)
		if err != nil {
			t.Fatalf("PanelCapabilities(%q): %v", c.firmware, err)
		}
		if caps.MaxZones != c.maxZones {
			t.Errorf("firmware %q: MaxZones = %d, want %d", c.firmware, caps.MaxZones, c.maxZones)
		}
	}
}

func TestPanelCapabilitiesStripsSubtypeAndTrailingFirmwareText(t *testing.T) {
	caps, err := PanelCapabilities("RW132:something", "")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if caps.Model != "Agility" {
		t.Fatalf("Model = %q, want Agility", caps.Model)
	}

	caps, err = PanelCapabilities("RP432", "3.1 (extra)")
	if err != nil {
		t.Fatalf("PanelCapabilities: %v", err)
	}
	if caps.MaxZones != 50 {
		t.Fatalf("MaxZones = %d, want 50", caps.MaxZones)
	}
}

func TestPanelCapabilitiesUnknownType(t *testing.T) {
	if _, err := PanelCapabilities("NOPE", ""); err == nil {
		t.Fatal("expected error for unknown panel type")
	}
}
