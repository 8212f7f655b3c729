package servo

import "fmt"

// Command codes from the vendor protocol. The servo echoes the code as the
// first byte of its reply.
const (
	cmdReadEncoder      byte = 0x31
	cmdSetSubdivision   byte = 0x84
	cmdSetInterpolation byte = 0x89
	cmdSetHomeParams    byte = 0x90
	cmdGoHome           byte = 0x91
	cmdSetZeroAxis      byte = 0x92
	cmdRunAbsolute      byte = 0xF5
	cmdEmergencyStop    byte = 0xF7
)

// statusAccepted is the accept byte in single-status replies.
const statusAccepted = 1

// FrameError reports a reply frame that could not be parsed: wrong length,
// wrong command echo, or a checksum mismatch.
type FrameError struct {
	Cmd    byte
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("servo: reply to %#02x: %s", e.Cmd, e.Reason)
}

// byteChecksum is the low byte of seed plus the sum of all frame bytes.
// CAN frames seed with the arbitration ID; RS485 frames seed with zero and
// include the header bytes in the sum.
func byteChecksum(seed uint16, bs []byte) byte {
	sum := seed
	for _, b := range bs {
		sum += uint16(b)
	}
	return byte(sum)
}

// verifyReply checks a [cmd, payload..., crc] reply frame and returns the
// payload.
func verifyReply(seed uint16, cmd byte, frame []byte, respLen int) ([]byte, error) {
	if len(frame) != respLen+2 {
		return nil, &FrameError{Cmd: cmd, Reason: fmt.Sprintf("got %d bytes, want %d", len(frame), respLen+2)}
	}
	if frame[0] != cmd {
		return nil, &FrameError{Cmd: cmd, Reason: fmt.Sprintf("command echo %#02x", frame[0])}
	}
	if got, want := frame[len(frame)-1], byteChecksum(seed, frame[:len(frame)-1]); got != want {
		return nil, &FrameError{Cmd: cmd, Reason: fmt.Sprintf("checksum %#02x, want %#02x", got, want)}
	}
	return frame[1 : len(frame)-1], nil
}

// packAbsoluteMove encodes speed, acceleration and the signed 24-bit
// absolute axis target for the absolute-motion command.
func packAbsoluteMove(speedRPM uint16, accel uint8, pulses int32) []byte {
	return []byte{
		byte(speedRPM >> 8), byte(speedRPM),
		accel,
		byte(pulses >> 16), byte(pulses >> 8), byte(pulses),
	}
}

// decodeInt48 decodes the big-endian signed 48-bit accumulated encoder value.
func decodeInt48(b []byte) int64 {
	v := int64(b[0])<<40 | int64(b[1])<<32 | int64(b[2])<<24 |
		int64(b[3])<<16 | int64(b[4])<<8 | int64(b[5])
	if b[0]&0x80 != 0 {
		v -= 1 << 48
	}
	return v
}
