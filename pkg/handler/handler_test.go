package handler

import (
	"errors"
	"testing"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/store"
)

const (
	aliceKey  = "AB12CD34EF"
	aliceName = "alice"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	if err := s.AddUser(aliceKey, aliceName); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	return New(s), s
}

func scenarioMusic() *music.Music {
	m := music.New(1000, 120)
	_ = m.Channels[0].Set(5, music.Note{Index: 3, Octave: 4, Instrument: music.InstrumentSine, Duration: music.DurationQuarter})
	return m
}

func TestScenario(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := h.Handle(mpp.NewRequest(mpp.Connect, aliceKey))
	if resp.Code != mpp.Ok || resp.Username != aliceName {
		t.Fatalf("Connect = %d %q, want 200 alice", resp.Code, resp.Username)
	}

	add := mpp.NewRequest(mpp.AddMusic, aliceKey)
	add.Music = scenarioMusic()
	if resp := h.Handle(add); resp.Code != mpp.MusicCreated {
		t.Fatalf("AddMusic = %d, want MusicCreated", resp.Code)
	}

	resp = h.Handle(mpp.NewRequest(mpp.ListMusic, aliceKey))
	if resp.Code != mpp.Ok {
		t.Fatalf("ListMusic = %d, want Ok", resp.Code)
	}
	if ids := resp.MusicIDs.IDs(); len(ids) != 1 || ids[0] != 1000 {
		t.Errorf("ListMusic ids = %v, want [1000]", ids)
	}

	get := &mpp.Request{Code: mpp.GetMusic, UserKey: aliceKey, MusicID: 1000}
	resp = h.Handle(get)
	if resp.Code != mpp.Ok {
		t.Fatalf("GetMusic = %d, want Ok", resp.Code)
	}
	if !resp.Music.Equal(scenarioMusic()) {
		t.Error("GetMusic returned a different music")
	}

	del := &mpp.Request{Code: mpp.DeleteMusic, UserKey: aliceKey, MusicID: 1000}
	if resp := h.Handle(del); resp.Code != mpp.Ok {
		t.Fatalf("DeleteMusic = %d, want Ok", resp.Code)
	}

	if resp := h.Handle(get); resp.Code != mpp.NotFound {
		t.Errorf("GetMusic after delete = %d, want NotFound", resp.Code)
	}
	if resp := h.Handle(del); resp.Code != mpp.NotFound {
		t.Errorf("DeleteMusic after delete = %d, want NotFound", resp.Code)
	}
}

// spyStore records every store call after the identity lookup
type spyStore struct {
	calls int
}

func (s *spyStore) LookupUsername(key string) (string, error) {
	return "", store.ErrUnknownUser
}
func (s *spyStore) ListMusicIDs(key string) (*music.IDList, error) {
	s.calls++
	return music.NewIDList(), nil
}
func (s *spyStore) SaveMusic(m *music.Music, key string) (bool, error) {
	s.calls++
	return true, nil
}
func (s *spyStore) FetchMusic(id int64, key string) (*music.Music, error) {
	s.calls++
	return music.New(id, 120), nil
}
func (s *spyStore) DeleteMusic(id int64, key string) error {
	s.calls++
	return nil
}

func TestIdentityGate(t *testing.T) {
	spy := &spyStore{}
	h := New(spy)

	requests := []*mpp.Request{
		mpp.NewRequest(mpp.Connect, "UNKNOWN"),
		mpp.NewRequest(mpp.ListMusic, "UNKNOWN"),
		{Code: mpp.GetMusic, UserKey: "UNKNOWN", MusicID: 1},
		{Code: mpp.AddMusic, UserKey: "UNKNOWN", MusicID: mpp.NoMusicID, Music: scenarioMusic()},
		{Code: mpp.DeleteMusic, UserKey: "UNKNOWN", MusicID: 1},
	}
	for _, req := range requests {
		t.Run(req.Code.String(), func(t *testing.T) {
			resp := h.Handle(req)
			if resp.Code != mpp.BadRequest {
				t.Errorf("Handle() = %d, want BadRequest", resp.Code)
			}
			if resp.Username != "" {
				t.Errorf("username leaked: %q", resp.Username)
			}
		})
	}
	if spy.calls != 0 {
		t.Errorf("store touched %d times for an unknown user", spy.calls)
	}
}

func TestMissingArguments(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		req  *mpp.Request
	}{
		{"add without music", mpp.NewRequest(mpp.AddMusic, aliceKey)},
		{"get without id", mpp.NewRequest(mpp.GetMusic, aliceKey)},
		{"delete without id", mpp.NewRequest(mpp.DeleteMusic, aliceKey)},
		{"unknown code", mpp.NewRequest(mpp.RequestCode(999), aliceKey)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := h.Handle(tt.req); resp.Code != mpp.BadRequest {
				t.Errorf("Handle() = %d, want BadRequest", resp.Code)
			}
		})
	}
}

func TestExchange(t *testing.T) {
	h, _ := newTestHandler(t)
	codec := mpp.NewCodec(0)

	out, _, resp := h.Exchange(nil)
	if resp.Code != mpp.BadRequest {
		t.Errorf("Exchange(empty) = %d, want BadRequest", resp.Code)
	}
	decoded, err := codec.DeserializeResponse(out)
	if err != nil || decoded.Code != mpp.BadRequest {
		t.Errorf("encoded response = %v, %v", decoded, err)
	}

	out, req, resp := h.Exchange([]byte("200 AB12CD34EF -1\n"))
	if req == nil || req.Code != mpp.Connect {
		t.Fatalf("decoded request = %+v", req)
	}
	if resp.Code != mpp.Ok {
		t.Errorf("Exchange(connect) = %d, want Ok", resp.Code)
	}
	decoded, err = codec.DeserializeResponse(out)
	if err != nil || decoded.Username != aliceName {
		t.Errorf("encoded response = %+v, %v", decoded, err)
	}
}

func TestExchangeOversizeResponse(t *testing.T) {
	h, s := newTestHandler(t)

	// Stored directly: too large for one exchange buffer
	m := music.New(2000, 120)
	for line := 0; line < 300; line++ {
		_ = m.Channels[line%3].Set(line, music.Note{Index: 1, Octave: 1, Instrument: music.InstrumentSine, Duration: music.DurationEighth})
	}
	if _, err := s.SaveMusic(m, aliceKey); err != nil {
		t.Fatal(err)
	}

	_, _, resp := h.Exchange([]byte("301 AB12CD34EF 2000\n"))
	if resp.Code != mpp.Nok {
		t.Errorf("Exchange() = %d, want Nok", resp.Code)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want mpp.ResponseCode
	}{
		{nil, mpp.Ok},
		{mpp.ErrBadRequest, mpp.BadRequest},
		{store.ErrUnknownUser, mpp.BadRequest},
		{store.ErrInvalidKey, mpp.BadRequest},
		{ErrMissingMusic, mpp.BadRequest},
		{store.ErrNotFound, mpp.NotFound},
		{store.ErrCorrupt, mpp.Nok},
		{errors.New("disk full"), mpp.Nok},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
