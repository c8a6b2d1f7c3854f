// Package export renders musics to standard audio formats
package export

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/musicpi/pkg/music"
)

// DefaultBPM is used when a music carries no tempo
const DefaultBPM = 120

// Programs maps instruments to General MIDI programs
var Programs = map[music.Instrument]uint8{
	music.InstrumentStepMotor: 80, // square lead
	music.InstrumentSine:      79, // ocarina
	music.InstrumentSawtooth:  81, // saw lead
	music.InstrumentTriangle:  74, // flute
	music.InstrumentSquare:    80,
	music.InstrumentOrgan:     16, // drawbar organ
	music.InstrumentSinPhaser: 88, // new age pad
}

// MIDIExporter converts musics to and from Standard MIDI Files. One line of
// a channel is a sixteenth note.
type MIDIExporter struct {
	ticksPerQuarter uint16
	velocity        uint8
}

// NewMIDIExporter creates a MIDI exporter
func NewMIDIExporter() *MIDIExporter {
	return &MIDIExporter{
		ticksPerQuarter: 480,
		velocity:        100,
	}
}

type midiEvent struct {
	tick uint32
	off  bool
	msgs [][]byte
}

// GenerateMIDI renders m as a format 1 file with one track per channel
func (e *MIDIExporter) GenerateMIDI(m *music.Music) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil music")
	}

	bpm := m.BPM
	if bpm <= 0 {
		bpm = DefaultBPM
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(e.ticksPerQuarter)

	// Tempo track
	var tempo smf.Track
	microsecondsPerBeat := uint32(60000000 / bpm)
	tempo.Add(0, smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsecondsPerBeat >> 16),
		byte(microsecondsPerBeat >> 8),
		byte(microsecondsPerBeat),
	}))
	tempo.Add(0, smf.Message([]byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08}))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return nil, fmt.Errorf("failed to add tempo track: %w", err)
	}

	ticksPerStep := uint32(e.ticksPerQuarter) / 4
	for _, ch := range m.Channels {
		if ch == nil {
			continue
		}
		track := e.channelTrack(ch, ticksPerStep)
		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add channel %d: %w", ch.ID, err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *MIDIExporter) channelTrack(ch *music.Channel, ticksPerStep uint32) smf.Track {
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName(fmt.Sprintf("channel %d", ch.ID)))

	midiCh := uint8(ch.ID)
	var events []midiEvent
	program := -1
	for _, line := range ch.Lines() {
		n := ch.Get(line)
		if n.Instrument == music.InstrumentNone {
			continue
		}
		start := uint32(line) * ticksPerStep
		on := midiEvent{tick: start}
		if p, ok := Programs[n.Instrument]; ok && int(p) != program {
			program = int(p)
			on.msgs = append(on.msgs, midi.ProgramChange(midiCh, p))
		}
		key := n.MIDINumber()
		on.msgs = append(on.msgs, midi.NoteOn(midiCh, key, e.velocity))
		events = append(events,
			on,
			midiEvent{tick: start + uint32(n.Duration)*ticksPerStep, off: true, msgs: [][]byte{midi.NoteOff(midiCh, key)}},
		)
	}

	// Offs sort before ons on the same tick so repeated keys retrigger
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var current uint32
	for _, ev := range events {
		for i, msg := range ev.msgs {
			delta := uint32(0)
			if i == 0 {
				delta = ev.tick - current
			}
			track.Add(delta, msg)
		}
		current = ev.tick
	}
	track.Close(0)
	return track
}

// WriteMIDIFile writes m to filename
func (e *MIDIExporter) WriteMIDIFile(m *music.Music, filename string) error {
	data, err := e.GenerateMIDI(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ParseMIDI builds a music from a Standard MIDI File. Note-on events are
// quantized to sixteenth lines. Tracks named "channel N" go back to channel
// N, other tracks holding notes fill the free channels in order. Notes get
// instrument and the nearest duration. A file with notes past the last line
// yields ErrTooLong.
func (e *MIDIExporter) ParseMIDI(data []byte, createdAt int64, instrument music.Instrument) (*music.Music, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	tpq := int64(e.ticksPerQuarter)
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		tpq = int64(mt.Resolution())
	}
	ticksPerStep := tpq / 4
	if ticksPerStep == 0 {
		ticksPerStep = 1
	}

	m := music.New(createdAt, DefaultBPM)
	used := make([]bool, music.MusicMaxChannels)
	next := 0
	dropped := 0
	for _, track := range s.Tracks {
		type pending struct {
			tick int64
			key  uint8
		}
		type placed struct {
			line int
			note music.Note
		}
		var open []pending
		var notes []placed
		named := -1
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message

			// Tempo meta message (FF 51 03 ...)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				usPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if usPerBeat > 0 {
					m.BPM = int(60000000 / usPerBeat)
				}
				continue
			}
			// Track name written by GenerateMIDI (FF 03 len "channel N")
			if len(msg) >= 3 && msg[0] == 0xFF && msg[1] == 0x03 && msg[2] < 0x80 && len(msg) >= 3+int(msg[2]) {
				var n int
				if _, err := fmt.Sscanf(string(msg[3:3+int(msg[2])]), "channel %d", &n); err == nil && n >= 0 && n < music.MusicMaxChannels {
					named = n
				}
				continue
			}
			if len(msg) < 3 {
				continue
			}

			status, key, velocity := msg[0], msg[1], msg[2]
			switch {
			case status >= 0x90 && status <= 0x9F && velocity > 0:
				open = append(open, pending{tick: tick, key: key})
			case (status >= 0x80 && status <= 0x8F) || (status >= 0x90 && status <= 0x9F && velocity == 0):
				for i, p := range open {
					if p.key != key {
						continue
					}
					open = append(open[:i], open[i+1:]...)
					steps := (tick - p.tick + ticksPerStep/2) / ticksPerStep
					note := noteFromKey(key, instrument, nearestDuration(steps))
					if note.Validate() == nil {
						notes = append(notes, placed{line: int(p.tick / ticksPerStep), note: note})
					}
					break
				}
			}
		}
		if len(notes) == 0 {
			continue
		}

		channel := named
		if channel < 0 || used[channel] {
			for next < len(used) && used[next] {
				next++
			}
			if next >= len(used) {
				break
			}
			channel = next
		}
		used[channel] = true
		for _, n := range notes {
			if n.line >= music.ChannelMaxNotes {
				dropped++
				continue
			}
			if err := m.Channels[channel].Set(n.line, n.note); err != nil {
				return nil, fmt.Errorf("channel %d: %w", channel, err)
			}
		}
	}
	if dropped > 0 {
		return nil, fmt.Errorf("%w: %d notes past line %d", ErrTooLong, dropped, music.ChannelMaxNotes-1)
	}
	return m, nil
}

// ParseMIDIFile reads filename and parses it as ParseMIDI does
func (e *MIDIExporter) ParseMIDIFile(filename string, createdAt int64, instrument music.Instrument) (*music.Music, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return e.ParseMIDI(data, createdAt, instrument)
}

func noteFromKey(key uint8, instrument music.Instrument, d music.Duration) music.Note {
	rel := int(key) - (60 - 12*music.ReferenceOctave)
	if rel < 0 {
		return music.Note{}
	}
	return music.Note{
		Index:      rel%12 + 1,
		Octave:     rel / 12,
		Instrument: instrument,
		Duration:   d,
	}
}

var durations = []music.Duration{
	music.DurationDoubleEighth,
	music.DurationEighth,
	music.DurationQuarter,
	music.DurationHalf,
	music.DurationWhole,
}

func nearestDuration(steps int64) music.Duration {
	best := durations[0]
	for _, d := range durations[1:] {
		if abs64(int64(d)-steps) < abs64(int64(best)-steps) {
			best = d
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
