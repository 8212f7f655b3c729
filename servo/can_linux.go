//go:build linux

package servo

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// CANConfig configures the socketcan transport.
type CANConfig struct {
	// Interface is the CAN network interface, e.g. "can0".
	Interface string
	// ID is the servo's arbitration ID on the bus.
	ID uint16
	// ReadTimeout bounds a single reply wait. Defaults to 1s.
	ReadTimeout time.Duration
}

type canTransport struct {
	fd      int
	id      uint16
	timeout time.Duration
}

// canFrameSize is sizeof(struct can_frame).
const canFrameSize = 16

// DialCAN opens a raw socketcan socket filtered to the servo's ID.
func DialCAN(cfg CANConfig) (Transport, error) {
	if cfg.Interface == "" {
		cfg.Interface = "can0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 1 * time.Second
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("servo: interface %q: %w", cfg.Interface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("servo: socketcan socket: %w", err)
	}
	filter := []unix.CanFilter{{Id: uint32(cfg.ID), Mask: unix.CAN_SFF_MASK}}
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filter); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("servo: socketcan filter: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("servo: bind %q: %w", cfg.Interface, err)
	}
	return &canTransport{fd: fd, id: cfg.ID, timeout: cfg.ReadTimeout}, nil
}

func (c *canTransport) writeFrame(payload []byte) error {
	if len(payload) > 8 {
		return fmt.Errorf("servo: frame payload %d bytes, max 8", len(payload))
	}
	buf := make([]byte, canFrameSize)
	buf[0] = byte(c.id)
	buf[1] = byte(c.id >> 8)
	buf[4] = byte(len(payload))
	copy(buf[8:], payload)
	n, err := unix.Write(c.fd, buf)
	if err != nil {
		return fmt.Errorf("servo: can write: %w", err)
	}
	if n != canFrameSize {
		return fmt.Errorf("servo: can write: short write (%d bytes)", n)
	}
	return nil
}

// readFrame returns the payload of the next frame from the servo, or an
// error once deadline passes.
func (c *canTransport) readFrame(deadline time.Time) ([]byte, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("servo: can read: %w", ErrTimeout)
		}
		pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("servo: can poll: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("servo: can read: %w", ErrTimeout)
		}
		buf := make([]byte, canFrameSize)
		n, err = unix.Read(c.fd, buf)
		if err != nil {
			return nil, fmt.Errorf("servo: can read: %w", err)
		}
		if n != canFrameSize {
			return nil, fmt.Errorf("servo: can read: short frame (%d bytes)", n)
		}
		dlc := int(buf[4])
		if dlc > 8 {
			dlc = 8
		}
		return buf[8 : 8+dlc], nil
	}
}

func (c *canTransport) Roundtrip(cmd byte, data []byte, respLen int) ([]byte, error) {
	frame := append([]byte{cmd}, data...)
	frame = append(frame, byteChecksum(c.id, frame))
	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}
	return c.await(cmd, respLen, c.timeout)
}

func (c *canTransport) Await(cmd byte, respLen int, timeout time.Duration) ([]byte, error) {
	return c.await(cmd, respLen, timeout)
}

func (c *canTransport) await(cmd byte, respLen int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		payload, err := c.readFrame(deadline)
		if err != nil {
			return nil, err
		}
		// Periodic reports for other commands share the arbitration ID;
		// skip frames that do not echo ours.
		if len(payload) == 0 || payload[0] != cmd {
			continue
		}
		return verifyReply(c.id, cmd, payload, respLen)
	}
}

func (c *canTransport) Close() error {
	return unix.Close(c.fd)
}
