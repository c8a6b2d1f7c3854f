package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// DefaultTimeout bounds one client exchange
const DefaultTimeout = 5 * time.Second

// Client performs request/response exchanges over a Transport. It is safe
// for concurrent use; exchanges are serialized.
type Client struct {
	mu      sync.Mutex
	t       Transport
	codec   *mpp.Codec
	timeout time.Duration
}

// NewClient creates a client. A nil codec selects the default buffer size.
func NewClient(t Transport, codec *mpp.Codec) *Client {
	if codec == nil {
		codec = mpp.NewCodec(mpp.BufferSize)
	}
	return &Client{t: t, codec: codec, timeout: DefaultTimeout}
}

// Dial connects to a server over "tcp" or "udp"
func Dial(network, addr string, size int) (*Client, error) {
	if size <= 0 {
		size = mpp.BufferSize
	}
	codec := mpp.NewCodec(size)

	switch network {
	case "tcp", "tcp4", "tcp6":
		conn, err := net.DialTimeout(network, addr, DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewClient(NewStream(conn, size), codec), nil
	case "udp", "udp4", "udp6":
		raddr, err := net.ResolveUDPAddr(network, addr)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", addr, err)
		}
		pc, err := net.ListenPacket(network, ":0")
		if err != nil {
			return nil, fmt.Errorf("open datagram socket: %w", err)
		}
		return NewClient(NewDatagram(pc, raddr, size), codec), nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// SetTimeout changes the per-exchange deadline. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Close releases the underlying transport
func (c *Client) Close() error {
	return c.t.Close()
}

// Do sends req and waits for the response. Negative response codes are
// returned as responses, not errors; see mpp.Response.Err.
func (c *Client) Do(req *mpp.Request) (*mpp.Response, error) {
	out, err := c.codec.SerializeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Code, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		if err := c.t.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
	}
	if err := c.t.Send(out); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Code, err)
	}
	in, err := c.t.Receive()
	if err != nil {
		return nil, fmt.Errorf("receive %s: %w", req.Code, err)
	}
	resp, err := c.codec.DeserializeResponse(in)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Code, err)
	}
	return resp, nil
}

// Connect checks the user key and returns the registered username
func (c *Client) Connect(userKey string) (*mpp.Response, error) {
	return c.Do(mpp.NewRequest(mpp.Connect, userKey))
}

// ListMusic fetches the user's music ids
func (c *Client) ListMusic(userKey string) (*mpp.Response, error) {
	return c.Do(mpp.NewRequest(mpp.ListMusic, userKey))
}

// GetMusic fetches one music
func (c *Client) GetMusic(userKey string, id int64) (*mpp.Response, error) {
	req := mpp.NewRequest(mpp.GetMusic, userKey)
	req.MusicID = id
	return c.Do(req)
}

// AddMusic stores m, replacing any music with the same creation time
func (c *Client) AddMusic(userKey string, m *music.Music) (*mpp.Response, error) {
	req := mpp.NewRequest(mpp.AddMusic, userKey)
	req.Music = m
	return c.Do(req)
}

// DeleteMusic removes one music
func (c *Client) DeleteMusic(userKey string, id int64) (*mpp.Response, error) {
	req := mpp.NewRequest(mpp.DeleteMusic, userKey)
	req.MusicID = id
	return c.Do(req)
}
