// consts.go - package-wide version string and the panel
// capability table keyed by panel type and firmware version.

package risco

import (
	"strconv"
	"strings"
)

// Version identifies this module's release.
const Version = "0.1.0"

// GroupNames maps a zero-based group index to the panel's own A-D
// naming.
var GroupNames = [4]string{"A", "B", "C", "D"}

// Capabilities describes the limits and display name of a specific
// panel model, derived from its PNLCNF type string and (for RP-family
// panels) FSVER? firmware string.
type Capabilities struct {
	Type     string
	Model    string
	Firmware string
	MaxZones int
	MaxParts int
	MaxOutputs int
}

type capabilityFunc func(firmware string) (model string, maxZones, maxParts, maxOutputs int)

var capabilityTable = map[string]capabilityFunc{
	"RW032": func(string) (string, int, int, int) { return "Agility 4", 32, 3, 4 },
	"RW132": func(string) (string, int, int, int) { return "Agility", 36, 3, 4 },
	"RW232": func(string) (string, int, int, int) { return "WiComm", 36, 3, 4 },
	"RW332": func(string) (string, int, int, int) { return "WiCommPro", 36, 3, 4 },
	"RP432": func(fw string) (string, int, int, int) {
		maxZones, maxOutputs := 32, 14
		if major := firmwareField(fw, 0); major >= 3 {
			maxZones, maxOutputs = 50, 32
		}
		return "LightSys", maxZones, 4, maxOutputs
	},
	"RP432MP": func(string) (string, int, int, int) { return "LightSys+", 512, 32, 196 },
	"RP512": func(fw string) (string, int, int, int) {
		maxZones := 64
		if firmwareAtLeast(fw, 1, 2, 0, 7) {
			maxZones = 128
		}
		return "ProsysPlus|GTPlus", maxZones, 32, 262
	},
}

// PanelCapabilities looks up the capability table entry for panelType
// (as reported by PNLCNF) and firmware (as reported by FSVER?, empty
// for panel types that don't carry one).
func PanelCapabilities(panelType, firmware string) (Capabilities, error) {
	normalized := panelType
	if idx := strings.IndexByte(normalized, ':'); idx >= 0 {
		normalized = normalized[:idx]
	}
	fw := firmware
	if idx := strings.IndexByte(fw, ' '); idx >= 0 {
		fw = fw[:idx]
	}

	fn, ok := capabilityTable[normalized]
	if !ok {
		return Capabilities{}, errUnknownPanelType(normalized)
	}
	model, maxZones, maxParts, maxOutputs := fn(fw)
	return Capabilities{
		Type:       panelType,
		Model:      model,
		Firmware:   fw,
		MaxZones:   maxZones,
		MaxParts:   maxParts,
		MaxOutputs: maxOutputs,
	}, nil
}

// firmwareField returns the i-th dot-separated integer field of a
// firmware version string, or 0 if it isn't present or isn't numeric.
func firmwareField(fw string, i int) int {
	parts := strings.Split(fw, ".")
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return n
}

// firmwareAtLeast reports whether fw's dotted version is >= the given
// fields, compared lexicographically field by field.
func firmwareAtLeast(fw string, want ...int) bool {
	for i, w := range want {
		got := firmwareField(fw, i)
		if got > w {
			return true
		}
		if got < w {
			return false
		}
	}
	return true
}
