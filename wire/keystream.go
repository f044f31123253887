// keystream.go - derives the 255-byte panel-specific keystream used to
// XOR frame payloads once a session is marked encrypted.

package wire

// keystreamTaps are the bit positions tested at each LFSR step.
var keystreamTaps = [4]uint32{2, 4, 16, 0x8000}

// DeriveKeyStream computes the 255-byte pseudo-random buffer for a
// panel id. Panel id 0 yields an all-zero buffer, used before the
// handshake has learned the real id (encryption is then a no-op).
func DeriveKeyStream(panelID uint32) [255]byte {
	var buf [255]byte
	if panelID == 0 {
		return buf
	}
	p := panelID
	for i := 0; i < len(buf); i++ {
		var n2 uint32
		for _, tap := range keystreamTaps {
			if p&tap != 0 {
				n2 ^= 1
			}
		}
		p = (p << 1) | n2
		buf[i] = byte(p & 255)
	}
	return buf
}
