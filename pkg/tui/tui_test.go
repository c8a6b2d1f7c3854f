package tui

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// fakeClient serves one user from memory
type fakeClient struct {
	key    string
	musics map[int64]*music.Music
}

func newFakeClient() *fakeClient {
	m := music.New(1000, 120)
	_ = m.Channels[0].Set(0, music.Note{Index: 1, Octave: 3, Instrument: music.InstrumentSine, Duration: music.DurationQuarter})
	return &fakeClient{key: "AB12", musics: map[int64]*music.Music{1000: m}}
}

func (f *fakeClient) check(key string) *mpp.Response {
	if key != f.key {
		return mpp.NewResponse(mpp.BadRequest, "")
	}
	return nil
}

func (f *fakeClient) Connect(key string) (*mpp.Response, error) {
	if r := f.check(key); r != nil {
		return r, nil
	}
	return mpp.NewResponse(mpp.Ok, "alice"), nil
}

func (f *fakeClient) ListMusic(key string) (*mpp.Response, error) {
	if r := f.check(key); r != nil {
		return r, nil
	}
	resp := mpp.NewResponse(mpp.Ok, "alice")
	resp.MusicIDs = music.NewIDList()
	for id := range f.musics {
		resp.MusicIDs.Append(id)
	}
	return resp, nil
}

func (f *fakeClient) GetMusic(key string, id int64) (*mpp.Response, error) {
	m, ok := f.musics[id]
	if !ok {
		return mpp.NewResponse(mpp.NotFound, "alice"), nil
	}
	resp := mpp.NewResponse(mpp.Ok, "alice")
	resp.Music = m
	return resp, nil
}

func (f *fakeClient) DeleteMusic(key string, id int64) (*mpp.Response, error) {
	if _, ok := f.musics[id]; !ok {
		return mpp.NewResponse(mpp.NotFound, "alice"), nil
	}
	delete(f.musics, id)
	return mpp.NewResponse(mpp.Ok, "alice"), nil
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T", next)
	}
	return model
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLoginFlow(t *testing.T) {
	c := newFakeClient()
	m := New(c, nil, t.TempDir())

	if m.state != StateLogin {
		t.Fatalf("initial state = %v, want login", m.state)
	}

	m = update(t, m, connect(c, "NOPE")())
	if m.state != StateLogin || m.err == nil {
		t.Errorf("refused login: state %v err %v", m.state, m.err)
	}

	m = update(t, m, connect(c, "AB12")())
	if m.username != "alice" || m.state != StateWaiting {
		t.Fatalf("login: user %q state %v", m.username, m.state)
	}

	m = update(t, m, listMusic(c, "AB12")())
	if m.state != StateList || len(m.ids) != 1 {
		t.Fatalf("list: state %v ids %v", m.state, m.ids)
	}
	if !strings.Contains(m.View(), "1000") {
		t.Error("list view does not show the music id")
	}
}

func TestDetailAndDelete(t *testing.T) {
	c := newFakeClient()
	m := New(c, nil, t.TempDir())
	m = update(t, m, loginMsg{userKey: "AB12", username: "alice"})
	m = update(t, m, listMsg{ids: []int64{1000}})

	m = update(t, m, key("enter"))
	if m.state != StateWaiting {
		t.Fatalf("enter: state %v, want waiting", m.state)
	}
	m = update(t, m, getMusic(c, "AB12", 1000)())
	if m.state != StateDetail || m.current == nil {
		t.Fatalf("detail: state %v", m.state)
	}
	if !strings.Contains(m.View(), "Channel 0") {
		t.Error("detail view lacks channels")
	}

	m = update(t, m, deleteMusic(c, "AB12", 1000)())
	if m.state != StateResult || m.err != nil {
		t.Fatalf("delete: state %v err %v", m.state, m.err)
	}
	m = update(t, m, listMusic(c, "AB12")())
	if m.state != StateResult {
		t.Errorf("refresh replaced the result screen: state %v", m.state)
	}
	m = update(t, m, key("enter"))
	if m.state != StateList || len(m.ids) != 0 {
		t.Errorf("after result: state %v ids %v", m.state, m.ids)
	}

	msg := deleteMusic(c, "AB12", 1000)()
	var se *mpp.StatusError
	if d := msg.(deletedMsg); !errors.As(d.err, &se) || se.Code != mpp.NotFound {
		t.Errorf("second delete err = %v, want NotFound", d.err)
	}
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	c := newFakeClient()

	for _, ext := range []string{".mid", ".wav"} {
		msg := exportMusic(c.musics[1000], dir, ext)().(exportedMsg)
		if msg.err != nil {
			t.Fatalf("export %s error = %v", ext, msg.err)
		}
		if _, err := os.Stat(filepath.Join(dir, "1000"+ext)); err != nil {
			t.Errorf("export %s: %v", ext, err)
		}
	}
}

func TestLogout(t *testing.T) {
	c := newFakeClient()
	m := New(c, nil, t.TempDir())
	m = update(t, m, loginMsg{userKey: "AB12", username: "alice"})
	m = update(t, m, listMsg{ids: []int64{1000}})

	m = update(t, m, key("esc"))
	if m.state != StateLogin || m.userKey != "" {
		t.Errorf("logout: state %v key %q", m.state, m.userKey)
	}
}
