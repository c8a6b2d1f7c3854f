package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/mpp"
)

// Exchanger turns a raw request into a raw response
type Exchanger interface {
	Exchange(data []byte) ([]byte, *mpp.Request, *mpp.Response)
}

// Server answers protocol exchanges on a listener or packet socket
type Server struct {
	exchanger   Exchanger
	size        int
	idleTimeout time.Duration
	log         *zap.Logger
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the server logger
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithBufferSize sets the frame size
func WithBufferSize(n int) ServerOption {
	return func(s *Server) {
		s.size = n
	}
}

// WithIdleTimeout closes stream connections idle for longer than d
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// NewServer creates a server answering with ex
func NewServer(ex Exchanger, opts ...ServerOption) *Server {
	s := &Server{exchanger: ex, size: mpp.BufferSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.size <= 0 {
		s.size = mpp.BufferSize
	}
	return s
}

// ListenAndServe listens on network ("tcp" or "udp") and serves until ctx is
// cancelled
func (s *Server) ListenAndServe(ctx context.Context, network, addr string) error {
	switch network {
	case "tcp", "tcp4", "tcp6":
		ln, err := net.Listen(network, addr)
		if err != nil {
			return fmt.Errorf("listen %s %s: %w", network, addr, err)
		}
		return s.Serve(ctx, ln)
	case "udp", "udp4", "udp6":
		pc, err := net.ListenPacket(network, addr)
		if err != nil {
			return fmt.Errorf("listen %s %s: %w", network, addr, err)
		}
		return s.ServePacket(ctx, pc)
	default:
		return fmt.Errorf("unsupported network %q", network)
	}
}

// Serve accepts stream connections. Exchanges are sequential within a
// connection; connections are served concurrently.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info("serving stream", zap.String("addr", ln.Addr().String()), zap.Int("buffer_size", s.size))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	st := NewStream(conn, s.size)
	defer func() { _ = st.Close() }()

	remote := conn.RemoteAddr().String()
	s.log.Debug("connection opened", zap.String("remote", remote))
	for {
		if s.idleTimeout > 0 {
			_ = st.SetDeadline(time.Now().Add(s.idleTimeout))
		}
		data, err := st.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("receive failed", zap.String("remote", remote), zap.Error(err))
			}
			s.log.Debug("connection closed", zap.String("remote", remote))
			return
		}
		out := s.exchange(remote, data)
		if err := st.Send(out); err != nil {
			s.log.Warn("send failed", zap.String("remote", remote), zap.Error(err))
			return
		}
	}
}

// ServePacket answers datagrams, one exchange per packet
func (s *Server) ServePacket(ctx context.Context, pc net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	s.log.Info("serving datagrams", zap.String("addr", pc.LocalAddr().String()), zap.Int("buffer_size", s.size))

	dg := NewDatagram(pc, nil, s.size)
	for {
		data, err := dg.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrFrameTooLarge) {
				s.log.Warn("oversized datagram dropped", zap.Error(err))
				continue
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		remote := dg.Peer().String()
		out := s.exchange(remote, data)
		if err := dg.Send(out); err != nil {
			s.log.Warn("send failed", zap.String("remote", remote), zap.Error(err))
		}
	}
}

func (s *Server) exchange(remote string, data []byte) []byte {
	start := time.Now()
	out, req, resp := s.exchanger.Exchange(data)

	fields := []zap.Field{
		zap.String("exchange_id", uuid.NewString()),
		zap.String("remote", remote),
		zap.Stringer("response", resp.Code),
		zap.Int("bytes_in", len(data)),
		zap.Int("bytes_out", len(out)),
		zap.Duration("took", time.Since(start)),
	}
	if req != nil {
		fields = append(fields, zap.Stringer("request", req.Code), zap.String("user", req.UserKey))
	}
	s.log.Info("exchange", fields...)
	return out
}
