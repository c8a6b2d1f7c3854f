package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/james-see/musicpi/pkg/export"
	"github.com/james-see/musicpi/pkg/handler"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/store"
)

const testKey = "AB12CD34EF"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	if err := s.AddUser(testKey, "alice"); err != nil {
		t.Fatal(err)
	}
	return NewServer(handler.New(s), nil).Router()
}

func serve(r http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(t)
	w := serve(r, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestMusicLifecycle(t *testing.T) {
	r := newTestRouter(t)
	base := "/api/v1/users/" + testKey

	w := serve(r, http.MethodGet, base, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET user status = %d", w.Code)
	}
	var user UserJSON
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil || user.Username != "alice" {
		t.Errorf("user = %+v, %v", user, err)
	}

	body := `{"created_at":1000,"bpm":120,"notes":[{"channel":0,"line":5,"index":3,"octave":4,"instrument":"sine","duration":4}]}`
	w = serve(r, http.MethodPost, base+"/musics", []byte(body), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("POST music status = %d: %s", w.Code, w.Body)
	}

	w = serve(r, http.MethodGet, base+"/musics", nil, "")
	var list MusicListJSON
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.IDs) != 1 || list.IDs[0] != 1000 {
		t.Errorf("ids = %v, want [1000]", list.IDs)
	}

	w = serve(r, http.MethodGet, base+"/musics/1000", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET music status = %d", w.Code)
	}
	var got MusicJSON
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Notes) != 1 || got.Notes[0].Name != "D" || got.Notes[0].Line != 5 {
		t.Errorf("music = %+v", got)
	}

	w = serve(r, http.MethodGet, base+"/musics/1000/midi", nil, "")
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("MThd")) {
		t.Errorf("GET midi status = %d", w.Code)
	}

	w = serve(r, http.MethodGet, base+"/musics/1000/wav", nil, "")
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("RIFF")) {
		t.Errorf("GET wav status = %d", w.Code)
	}

	w = serve(r, http.MethodDelete, base+"/musics/1000", nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", w.Code)
	}
	w = serve(r, http.MethodGet, base+"/musics/1000", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}
}

func TestErrors(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown user", http.MethodGet, "/api/v1/users/NOBODY", "", http.StatusBadRequest},
		{"unknown user list", http.MethodGet, "/api/v1/users/NOBODY/musics", "", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/users/" + testKey + "/musics/abc", "", http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/v1/users/" + testKey + "/musics/42", "", http.StatusNotFound},
		{"bad json", http.MethodPost, "/api/v1/users/" + testKey + "/musics", "{", http.StatusBadRequest},
		{"bad instrument", http.MethodPost, "/api/v1/users/" + testKey + "/musics",
			`{"created_at":1,"notes":[{"channel":0,"line":0,"index":1,"octave":3,"instrument":"kazoo","duration":4}]}`,
			http.StatusBadRequest},
		{"bad channel", http.MethodPost, "/api/v1/users/" + testKey + "/musics",
			`{"created_at":1,"notes":[{"channel":3,"line":0,"index":1,"octave":3,"instrument":"sine","duration":4}]}`,
			http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, []byte(tt.body), "application/json")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestWAVTooLong(t *testing.T) {
	r := newTestRouter(t)
	base := "/api/v1/users/" + testKey + "/musics"

	body := `{"created_at":9,"bpm":1,"notes":[{"channel":0,"line":4095,"index":1,"octave":4,"instrument":"sine","duration":8}]}`
	if w := serve(r, http.MethodPost, base, []byte(body), "application/json"); w.Code != http.StatusCreated {
		t.Fatalf("POST music status = %d: %s", w.Code, w.Body)
	}
	w := serve(r, http.MethodGet, base+"/9/wav", nil, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("GET wav status = %d, want 422", w.Code)
	}
}

func TestImportMIDI(t *testing.T) {
	r := newTestRouter(t)

	m := music.New(1, 100)
	_ = m.Channels[0].Set(0, music.Note{Index: 1, Octave: 3, Instrument: music.InstrumentSine, Duration: music.DurationQuarter})
	data, err := export.NewMIDIExporter().GenerateMIDI(m)
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "song.mid")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	path := "/api/v1/users/" + testKey + "/musics/import?created_at=77&instrument=organ"
	w := serve(r, http.MethodPost, path, body.Bytes(), mw.FormDataContentType())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var got MusicJSON
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.CreatedAt != 77 || got.BPM != 100 || len(got.Notes) != 1 || got.Notes[0].Instrument != "organ" {
		t.Errorf("imported = %+v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code mpp.ResponseCode
		want int
	}{
		{mpp.Ok, http.StatusOK},
		{mpp.MusicCreated, http.StatusCreated},
		{mpp.BadRequest, http.StatusBadRequest},
		{mpp.NotFound, http.StatusNotFound},
		{mpp.Nok, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%d) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
