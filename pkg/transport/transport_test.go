package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/james-see/musicpi/pkg/handler"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/store"
)

const testKey = "AB12CD34EF"

func TestStreamFraming(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender := NewStream(a, 64)
	receiver := NewStream(b, 64)

	go func() {
		_ = sender.Send([]byte("200 AB12 -1\n"))
		_ = sender.Send([]byte("300 AB12 -1\n"))
		_ = sender.Close()
	}()

	for _, want := range []string{"200 AB12 -1\n", "300 AB12 -1\n"} {
		got, err := receiver.Receive()
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Receive() = %q, want %q", got, want)
		}
	}
	if _, err := receiver.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() after close error = %v, want io.EOF", err)
	}
}

func TestStreamSendTooLarge(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := NewStream(a, 8)
	if err := s.Send([]byte("123456789")); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Send() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDatagramFixedPeer(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	defer server.Close()
	stranger, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	client := NewDatagram(pc, server.LocalAddr(), 64)
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := stranger.WriteTo([]byte("200 x\n0\n"), pc.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	if _, err := server.WriteTo([]byte("200 alice\n0\n"), pc.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	got, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != "200 alice\n0\n" {
		t.Errorf("Receive() = %q, want the server's packet", got)
	}
	if client.Peer().String() != server.LocalAddr().String() {
		t.Errorf("Peer() = %s, want %s", client.Peer(), server.LocalAddr())
	}
}

func TestDatagramAdoptsSender(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	srv := NewDatagram(pc, nil, 64)
	defer srv.Close()
	_ = srv.SetDeadline(time.Now().Add(5 * time.Second))

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	if _, err := sender.WriteTo([]byte("200 AB12 -1\n"), pc.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Receive(); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if srv.Peer().String() != sender.LocalAddr().String() {
		t.Errorf("Peer() = %v, want %s", srv.Peer(), sender.LocalAddr())
	}
}

func newTestHandler(t *testing.T) *handler.Handler {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	if err := s.AddUser(testKey, "alice"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	return handler.New(s)
}

func exerciseClient(t *testing.T, c *Client) {
	t.Helper()

	resp, err := c.Connect(testKey)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if resp.Code != mpp.Ok || resp.Username != "alice" {
		t.Errorf("Connect() = %d %q", resp.Code, resp.Username)
	}

	resp, err = c.Connect("NOBODY")
	if err != nil {
		t.Fatalf("Connect(unknown) error = %v", err)
	}
	var se *mpp.StatusError
	if !errors.As(resp.Err(), &se) || se.Code != mpp.BadRequest {
		t.Errorf("Connect(unknown).Err() = %v, want BadRequest", resp.Err())
	}

	m := music.New(1000, 90)
	_ = m.Channels[1].Set(3, music.Note{Index: 5, Octave: 3, Instrument: music.InstrumentSquare, Duration: music.DurationHalf})
	if resp, err = c.AddMusic(testKey, m); err != nil || resp.Code != mpp.MusicCreated {
		t.Fatalf("AddMusic() = %v, %v", resp, err)
	}

	resp, err = c.ListMusic(testKey)
	if err != nil {
		t.Fatalf("ListMusic() error = %v", err)
	}
	if ids := resp.MusicIDs.IDs(); len(ids) != 1 || ids[0] != 1000 {
		t.Errorf("ListMusic() ids = %v", ids)
	}

	resp, err = c.GetMusic(testKey, 1000)
	if err != nil {
		t.Fatalf("GetMusic() error = %v", err)
	}
	if !resp.Music.Equal(m) {
		t.Error("GetMusic() returned a different music")
	}

	if resp, err = c.DeleteMusic(testKey, 1000); err != nil || resp.Code != mpp.Ok {
		t.Fatalf("DeleteMusic() = %v, %v", resp, err)
	}
	if resp, err = c.GetMusic(testKey, 1000); err != nil || resp.Code != mpp.NotFound {
		t.Errorf("GetMusic() after delete = %v, %v", resp, err)
	}
}

func TestServeStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(newTestHandler(t))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	c, err := Dial("tcp", ln.Addr().String(), 0)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	exerciseClient(t, c)
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop after cancel")
	}
}

func TestServePacket(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(newTestHandler(t))
	done := make(chan error, 1)
	go func() { done <- srv.ServePacket(ctx, pc) }()

	c, err := Dial("udp", pc.LocalAddr().String(), 0)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	exerciseClient(t, c)
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServePacket() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServePacket() did not stop after cancel")
	}
}

func TestServerRejectsGarbage(t *testing.T) {
	a, b := net.Pipe()
	srv := NewServer(newTestHandler(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.serveConn(ctx, a)

	st := NewStream(b, 0)
	defer st.Close()
	if err := st.Send([]byte("not a request")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	data, err := st.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	resp, err := mpp.NewCodec(0).DeserializeResponse(data)
	if err != nil {
		t.Fatalf("DeserializeResponse() error = %v", err)
	}
	if resp.Code != mpp.BadRequest {
		t.Errorf("code = %d, want BadRequest", resp.Code)
	}
}
