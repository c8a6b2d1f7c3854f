package api

import (
	"fmt"
	"net/http"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// NoteJSON is one occupied slot of a channel
type NoteJSON struct {
	Channel    int    `json:"channel"`
	Line       int    `json:"line"`
	Index      int    `json:"index"`
	Name       string `json:"name,omitempty"`
	Octave     int    `json:"octave"`
	Instrument string `json:"instrument"`
	Duration   int    `json:"duration"`
}

// MusicJSON is the gateway representation of a music
type MusicJSON struct {
	CreatedAt int64      `json:"created_at"`
	BPM       int        `json:"bpm"`
	Notes     []NoteJSON `json:"notes"`
}

// UserJSON answers a connect
type UserJSON struct {
	RFID     string `json:"rfid"`
	Username string `json:"username"`
}

// MusicListJSON answers a list
type MusicListJSON struct {
	Username string  `json:"username"`
	IDs      []int64 `json:"ids"`
}

// ErrorJSON is returned for every non-success outcome
type ErrorJSON struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func musicToJSON(m *music.Music) MusicJSON {
	out := MusicJSON{CreatedAt: m.CreatedAt, BPM: m.BPM, Notes: []NoteJSON{}}
	for _, ch := range m.Channels {
		for _, line := range ch.Lines() {
			n := ch.Get(line)
			out.Notes = append(out.Notes, NoteJSON{
				Channel:    ch.ID,
				Line:       line,
				Index:      n.Index,
				Name:       n.Name(),
				Octave:     n.Octave,
				Instrument: n.Instrument.String(),
				Duration:   int(n.Duration),
			})
		}
	}
	return out
}

func (mj MusicJSON) toMusic() (*music.Music, error) {
	if mj.BPM < 0 {
		return nil, fmt.Errorf("bpm %d is negative", mj.BPM)
	}
	m := music.New(mj.CreatedAt, mj.BPM)
	for i, n := range mj.Notes {
		if n.Channel < 0 || n.Channel >= music.MusicMaxChannels {
			return nil, fmt.Errorf("note %d: channel %d out of range", i, n.Channel)
		}
		instrument, err := music.ParseInstrument(n.Instrument)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		note := music.Note{
			Index:      n.Index,
			Octave:     n.Octave,
			Instrument: instrument,
			Duration:   music.Duration(n.Duration),
		}
		if err := m.Channels[n.Channel].Set(n.Line, note); err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
	}
	return m, nil
}

// statusFor maps a protocol response code to an HTTP status
func statusFor(code mpp.ResponseCode) int {
	switch code {
	case mpp.Ok, mpp.MusicUpdated:
		return http.StatusOK
	case mpp.MusicCreated:
		return http.StatusCreated
	case mpp.BadRequest:
		return http.StatusBadRequest
	case mpp.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
