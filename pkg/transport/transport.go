// Package transport carries MusicPi buffers over stream or datagram sockets
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/james-see/musicpi/pkg/mpp"
)

// ErrFrameTooLarge is returned when a message does not fit the buffer size
var ErrFrameTooLarge = errors.New("transport: message larger than buffer")

// Transport sends and receives whole protocol buffers
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	SetDeadline(t time.Time) error
	Close() error
}

// Stream carries fixed-size frames over a connection. Each message is padded
// with NUL bytes up to the buffer size.
type Stream struct {
	conn net.Conn
	size int
}

// NewStream wraps conn. A size <= 0 selects mpp.BufferSize.
func NewStream(conn net.Conn, size int) *Stream {
	if size <= 0 {
		size = mpp.BufferSize
	}
	return &Stream{conn: conn, size: size}
}

// Send writes one frame
func (s *Stream) Send(data []byte) error {
	if len(data) > s.size {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), s.size)
	}
	frame := make([]byte, s.size)
	copy(frame, data)
	_, err := s.conn.Write(frame)
	return err
}

// Receive reads one frame and strips its padding. A peer closing the
// connection between frames yields io.EOF.
func (s *Stream) Receive() ([]byte, error) {
	frame := make([]byte, s.size)
	if _, err := io.ReadFull(s.conn, frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}
	return trimPadding(frame), nil
}

// SetDeadline bounds the next Send/Receive
func (s *Stream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Close closes the connection
func (s *Stream) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the peer address
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Datagram carries one message per packet. Send goes to the peer, which is
// either fixed at creation or the sender of the last received packet. A
// fixed peer is never replaced; packets from other addresses are dropped.
type Datagram struct {
	pc    net.PacketConn
	peer  net.Addr
	fixed bool
	size  int
}

// NewDatagram wraps pc. peer may be nil for a socket that answers whoever
// wrote last.
func NewDatagram(pc net.PacketConn, peer net.Addr, size int) *Datagram {
	if size <= 0 {
		size = mpp.BufferSize
	}
	return &Datagram{pc: pc, peer: peer, fixed: peer != nil, size: size}
}

// Send writes one packet to the peer
func (d *Datagram) Send(data []byte) error {
	if len(data) > d.size {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), d.size)
	}
	if d.peer == nil {
		return errors.New("transport: datagram has no peer address")
	}
	_, err := d.pc.WriteTo(data, d.peer)
	return err
}

// Receive reads one packet. Without a fixed peer the sender becomes the
// peer; with one, packets from other sources are skipped.
func (d *Datagram) Receive() ([]byte, error) {
	buf := make([]byte, d.size+1)
	for {
		n, addr, err := d.pc.ReadFrom(buf)
		if err != nil {
			return nil, err
		}
		if d.fixed && !sameAddr(addr, d.peer) {
			continue
		}
		if n > d.size {
			return nil, fmt.Errorf("%w: packet from %s", ErrFrameTooLarge, addr)
		}
		if !d.fixed {
			d.peer = addr
		}
		return trimPadding(buf[:n]), nil
	}
}

func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// Peer returns the current destination address
func (d *Datagram) Peer() net.Addr {
	return d.peer
}

// SetDeadline bounds the next Send/Receive
func (d *Datagram) SetDeadline(t time.Time) error {
	return d.pc.SetDeadline(t)
}

// Close closes the socket
func (d *Datagram) Close() error {
	return d.pc.Close()
}

func trimPadding(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
