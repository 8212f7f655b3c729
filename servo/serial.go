package servo

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// RS485 framing around the shared command set: the host sends
// [0xFA, addr, cmd, data..., crc] and the servo answers
// [0xFB, addr, cmd, payload..., crc]. The crc is the byte checksum over the
// whole frame including the header.
const (
	uplinkHead   byte = 0xFA
	downlinkHead byte = 0xFB
)

// SerialConfig configures the RS485 transport.
type SerialConfig struct {
	Port string
	// Baud defaults to 38400, the servo's factory setting.
	Baud int
	// Addr is the servo's bus address.
	Addr uint8
	// ReadTimeout bounds a single reply wait. Defaults to 1s.
	ReadTimeout time.Duration
}

type serialTransport struct {
	mu   sync.Mutex
	port *serial.Port
	addr uint8
}

// DialSerial opens the RS485 port.
func DialSerial(cfg SerialConfig) (Transport, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 38400
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 1 * time.Second
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("servo: open %q: %w", cfg.Port, err)
	}
	return &serialTransport{port: port, addr: cfg.Addr}, nil
}

func (s *serialTransport) Roundtrip(cmd byte, data []byte, respLen int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := append([]byte{uplinkHead, s.addr, cmd}, data...)
	frame = append(frame, byteChecksum(0, frame))
	if _, err := s.port.Write(frame); err != nil {
		return nil, fmt.Errorf("servo: serial write: %w", err)
	}
	return s.readReply(cmd, respLen)
}

func (s *serialTransport) Await(cmd byte, respLen int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		resp, err := s.readReply(cmd, respLen)
		if err == nil {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("servo: serial read: %w", ErrTimeout)
		}
	}
}

// readReply reads one downlink frame. The port's ReadTimeout makes the
// blocking reads return short, which surfaces as io.EOF from ReadFull.
func (s *serialTransport) readReply(cmd byte, respLen int) ([]byte, error) {
	buf := make([]byte, respLen+4)
	if _, err := io.ReadFull(s.port, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("servo: serial read: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("servo: serial read: %w", err)
	}
	if buf[0] != downlinkHead {
		return nil, &FrameError{Cmd: cmd, Reason: fmt.Sprintf("header %#02x", buf[0])}
	}
	if buf[1] != s.addr {
		return nil, &FrameError{Cmd: cmd, Reason: fmt.Sprintf("address %d, want %d", buf[1], s.addr)}
	}
	// The checksum covers the header bytes; seed with their sum so
	// verifyReply can treat the rest as [cmd, payload..., crc].
	seed := uint16(buf[0]) + uint16(buf[1])
	return verifyReply(seed, cmd, buf[2:], respLen)
}

func (s *serialTransport) Close() error {
	return s.port.Close()
}
