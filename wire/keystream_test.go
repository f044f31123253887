package wire

import "testing"

func TestDeriveKeyStreamZeroPanelID(t *testing.T) {
	ks := DeriveKeyStream(0)
	for i, b := range ks {
		if b != 0 {
			t.Fatalf("byte %d: got %#x, want 0", i, b)
		}
	}
}

func TestDeriveKeyStreamKnownPanelID(t *testing.T) {
	want := []byte{104, 208, 161, 67, 135, 14, 29, 58}
	ks := DeriveKeyStream(0x1234)
	for i, b := range want {
		if ks[i] != b {
			t.Errorf("byte %d: got %d, want %d", i, ks[i], b)
		}
	}
}

func TestDeriveKeyStreamDeterministic(t *testing.T) {
	a := DeriveKeyStream(0xBEEF)
	b := DeriveKeyStream(0xBEEF)
	if a != b {
		t.Fatal("DeriveKeyStream is not deterministic for the same panel id")
	}
}
