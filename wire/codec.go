// codec.go - frame encode/decode: framing, byte-stuffing, keystream
// XOR and CRC16 for the panel wire protocol.

package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Framing constants.
const (
	START           byte = 0x02
	END             byte = 0x03
	DLE             byte = 0x10
	EncryptionFlag  byte = 0x11
	fieldSep             = '\x17'
	MinCommandID         = 1
	MaxCommandID         = 49
	FirstPushID          = 50
)

var (
	escapedStart = []byte{DLE, START}
	escapedEnd   = []byte{DLE, END}
	escapedDLE   = []byte{DLE, DLE}
)

// Frame is a single decoded unit taken off (or destined for) the wire.
type Frame struct {
	ID       int    // valid only if !Idless
	Idless   bool   // true for unsolicited pushes (leading 'N'/'B', no id prefix)
	Payload  string // command/result text, with any id prefix stripped
	CRCValid bool
}

// Codec turns command ids + text into wire frames and back, applying
// the panel's stuffing, optional keystream XOR and CRC16.
type Codec struct {
	keystream [255]byte
	encrypted bool
	encoding  Encoding
}

// Encoding picks the byte encoding used for ASCII command bodies.
// UTF-8 is the only encoding defined and NewCodec always selects it;
// Options has no setting that changes it.
type Encoding int

const (
	EncodingUTF8 Encoding = iota
)

// NewCodec returns a Codec with an all-zero keystream (pre-handshake,
// unencrypted).
func NewCodec() *Codec {
	return &Codec{encoding: EncodingUTF8}
}

// SetKeyStream installs the panel-derived keystream, computed once the
// panel id is known (see DeriveKeyStream).
func (c *Codec) SetKeyStream(ks [255]byte) {
	c.keystream = ks
}

// SetEncrypted marks the session as encrypted; once set, Encode/Decode
// XOR every payload byte against the keystream.
func (c *Codec) SetEncrypted(v bool) {
	c.encrypted = v
}

// Encrypted reports whether the session is currently encrypted.
func (c *Codec) Encrypted() bool {
	return c.encrypted
}

func (c *Codec) toBytes(s string) []byte {
	// Only UTF-8 is implemented; the encoding field is not consulted.
	return []byte(s)
}

// Encode builds a wire frame for (id, command). forceEncrypt lets the
// handshake request encryption for a single frame before the session
// as a whole is marked encrypted.
func (c *Codec) Encode(id int, command string, forceEncrypt bool) ([]byte, error) {
	body := fmt.Sprintf("%02d%s%c", id, command, fieldSep)
	crc := crc16Hex(c.toBytes(body))
	body += crc

	raw := c.toBytes(body)
	encrypt := forceEncrypt || c.encrypted
	if encrypt {
		xorKeyStream(raw, c.keystream)
	}
	stuffed := stuff(raw)

	var out bytes.Buffer
	out.WriteByte(START)
	if encrypt {
		out.WriteByte(EncryptionFlag)
	}
	out.Write(stuffed)
	out.WriteByte(END)
	return out.Bytes(), nil
}

// EncodePush builds the ACK frame a client writes back in response to
// an unsolicited panel push; the frame carries the push's own id.
func (c *Codec) EncodePush(id int, payload string) ([]byte, error) {
	return c.Encode(id, payload, false)
}

// Decode parses a raw frame (as delimited by the transport's reader,
// START..END inclusive) into a Frame.
func (c *Codec) Decode(raw []byte) (Frame, error) {
	if len(raw) < 2 || raw[0] != START {
		return Frame{}, errors.New("wire: frame missing START byte")
	}
	if raw[len(raw)-1] != END {
		return Frame{}, errors.New("wire: frame missing END byte")
	}

	encrypted := len(raw) > 1 && raw[1] == EncryptionFlag
	start := 1
	if encrypted {
		start = 2
	}
	stuffed := raw[start : len(raw)-1]
	unstuffed := unstuff(stuffed)

	if encrypted {
		xorKeyStream(unstuffed, c.keystream)
	}

	sep := bytes.IndexByte(unstuffed, fieldSep)
	if sep < 0 {
		return Frame{}, errors.New("wire: frame missing field separator")
	}
	body := string(unstuffed[:sep])
	crc := string(unstuffed[sep+1:])

	f := Frame{}
	if len(body) > 0 && (body[0] == 'N' || body[0] == 'B') {
		f.Idless = true
		f.Payload = body
	} else {
		if len(body) < 2 {
			return Frame{}, errors.New("wire: command body too short for id prefix")
		}
		id, err := strconv.Atoi(body[0:2])
		if err != nil {
			return Frame{}, errors.Wrap(err, "wire: invalid command id")
		}
		f.ID = id
		f.Payload = body[2:]
	}

	f.CRCValid = validCRC(crc) && crc16Hex(unstuffed[:sep+1]) == crc
	return f, nil
}

func validCRC(crc string) bool {
	if len(crc) != 4 {
		return false
	}
	for i := 0; i < len(crc); i++ {
		if crc[i] > 0x7F {
			return false
		}
	}
	return true
}

func stuff(in []byte) []byte {
	out := make([]byte, 0, len(in)+4)
	for _, b := range in {
		switch b {
		case DLE:
			out = append(out, escapedDLE...)
		case START:
			out = append(out, escapedStart...)
		case END:
			out = append(out, escapedEnd...)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unstuff(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == DLE && i+1 < len(in) {
			out = append(out, in[i+1])
			i++
			continue
		}
		out = append(out, in[i])
	}
	return out
}

func xorKeyStream(b []byte, ks [255]byte) {
	for i := range b {
		b[i] ^= ks[i%len(ks)]
	}
}

// SplitResult splits a "key=value[=more]" response on the first '='
// and returns the right-hand side, as send_result_command does.
func SplitResult(s string) string {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// crc16Hex computes the panel's CRC16 over b and renders it as 4
// uppercase hex digits.
func crc16Hex(b []byte) string {
	crc := uint16(0xFFFF)
	for _, by := range b {
		crc = (crc >> 8) ^ crcTable[(crc&0xFF)^uint16(by)]
	}
	return fmt.Sprintf("%04X", crc)
}
