// Package music provides the note, channel and music document types shared by
// the MusicPi protocol, store and exporters.
package music

import (
	"fmt"
	"sort"
)

// Capacity constants
const (
	ChannelMaxNotes  = 4096 // Slots per channel, addressed by line
	MusicMaxChannels = 3    // Channels per music
	MaxNoteIndex     = 12   // Highest scale degree (B)
	MaxOctave        = 8
)

// Instrument selects the waveform used to render a note
type Instrument int

const (
	InstrumentStepMotor Instrument = iota
	InstrumentSine
	InstrumentSawtooth
	InstrumentTriangle
	InstrumentSquare
	InstrumentOrgan
	InstrumentSinPhaser
	InstrumentNone
)

var instrumentNames = [...]string{
	InstrumentStepMotor: "step-motor",
	InstrumentSine:      "sine",
	InstrumentSawtooth:  "sawtooth",
	InstrumentTriangle:  "triangle",
	InstrumentSquare:    "square",
	InstrumentOrgan:     "organ",
	InstrumentSinPhaser: "sin-phaser",
	InstrumentNone:      "none",
}

// Valid reports whether i is a known instrument code
func (i Instrument) Valid() bool {
	return i >= InstrumentStepMotor && i <= InstrumentNone
}

func (i Instrument) String() string {
	if !i.Valid() {
		return fmt.Sprintf("instrument(%d)", int(i))
	}
	return instrumentNames[i]
}

// ParseInstrument resolves an instrument by name
func ParseInstrument(name string) (Instrument, error) {
	for i, n := range instrumentNames {
		if n == name {
			return Instrument(i), nil
		}
	}
	return InstrumentNone, fmt.Errorf("unknown instrument %q", name)
}

// Duration is a note length expressed in sixteenth notes
type Duration int

const (
	DurationDoubleEighth Duration = 1
	DurationEighth       Duration = 2
	DurationQuarter      Duration = 4
	DurationHalf         Duration = 6
	DurationWhole        Duration = 8
)

// Valid reports whether d is one of the defined durations
func (d Duration) Valid() bool {
	switch d {
	case DurationDoubleEighth, DurationEighth, DurationQuarter, DurationHalf, DurationWhole:
		return true
	}
	return false
}

// Beats returns the length of d in quarter-note beats
func (d Duration) Beats() float64 {
	return float64(d) / 4
}

func (d Duration) String() string {
	switch d {
	case DurationDoubleEighth:
		return "double-eighth"
	case DurationEighth:
		return "eighth"
	case DurationQuarter:
		return "quarter"
	case DurationHalf:
		return "half"
	case DurationWhole:
		return "whole"
	}
	return fmt.Sprintf("duration(%d)", int(d))
}

// Note is a single slot of a channel. Index 0 is a rest.
type Note struct {
	Index      int        // Scale degree 1..12, 0 = no note
	Octave     int        // 0..8
	Instrument Instrument
	Duration   Duration
}

// Empty reports whether the slot holds no note
func (n Note) Empty() bool {
	return n.Index == 0
}

// Validate checks the note fields are within range
func (n Note) Validate() error {
	if n.Index < 0 || n.Index > MaxNoteIndex {
		return fmt.Errorf("note index %d out of range 0-%d", n.Index, MaxNoteIndex)
	}
	if n.Empty() {
		return nil
	}
	if n.Octave < 0 || n.Octave > MaxOctave {
		return fmt.Errorf("octave %d out of range 0-%d", n.Octave, MaxOctave)
	}
	if !n.Instrument.Valid() {
		return fmt.Errorf("invalid instrument %d", int(n.Instrument))
	}
	if !n.Duration.Valid() {
		return fmt.Errorf("invalid duration %d", int(n.Duration))
	}
	return nil
}

// Channel is a sparse, fixed-capacity track of notes addressed by line.
// The zero value is not usable; use NewChannel.
type Channel struct {
	ID       int
	notes    []Note
	occupied map[int]struct{}
}

// NewChannel creates an empty channel
func NewChannel(id int) *Channel {
	return &Channel{
		ID:       id,
		notes:    make([]Note, ChannelMaxNotes),
		occupied: make(map[int]struct{}),
	}
}

// Set stores n at line. Setting an empty note clears the slot.
func (c *Channel) Set(line int, n Note) error {
	if line < 0 || line >= ChannelMaxNotes {
		return fmt.Errorf("line %d out of range 0-%d", line, ChannelMaxNotes-1)
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", line, err)
	}
	if n.Empty() {
		c.Clear(line)
		return nil
	}
	c.notes[line] = n
	c.occupied[line] = struct{}{}
	return nil
}

// Clear empties the slot at line
func (c *Channel) Clear(line int) {
	if line < 0 || line >= ChannelMaxNotes {
		return
	}
	c.notes[line] = Note{}
	delete(c.occupied, line)
}

// Get returns the note at line, or an empty note when out of range
func (c *Channel) Get(line int) Note {
	if line < 0 || line >= ChannelMaxNotes {
		return Note{}
	}
	return c.notes[line]
}

// Count returns the number of non-empty notes
func (c *Channel) Count() int {
	return len(c.occupied)
}

// Lines returns the occupied lines in ascending order
func (c *Channel) Lines() []int {
	lines := make([]int, 0, len(c.occupied))
	for l := range c.occupied {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	return lines
}

// Last returns the highest occupied line, or -1 for an empty channel
func (c *Channel) Last() int {
	last := -1
	for l := range c.occupied {
		if l > last {
			last = l
		}
	}
	return last
}

// Equal compares the non-empty slots of two channels
func (c *Channel) Equal(o *Channel) bool {
	if c.ID != o.ID || c.Count() != o.Count() {
		return false
	}
	for l := range c.occupied {
		if c.notes[l] != o.notes[l] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the channel
func (c *Channel) Clone() *Channel {
	cp := NewChannel(c.ID)
	for l := range c.occupied {
		cp.notes[l] = c.notes[l]
		cp.occupied[l] = struct{}{}
	}
	return cp
}

// Music is a composition of MusicMaxChannels channels. CreatedAt, in unix
// seconds, identifies the music within a user's collection.
type Music struct {
	CreatedAt int64
	BPM       int
	Channels  [MusicMaxChannels]*Channel
}

// New creates an empty music with initialised channels
func New(createdAt int64, bpm int) *Music {
	m := &Music{CreatedAt: createdAt, BPM: bpm}
	for i := range m.Channels {
		m.Channels[i] = NewChannel(i)
	}
	return m
}

// NoteCount returns the number of non-empty notes across all channels
func (m *Music) NoteCount() int {
	n := 0
	for _, ch := range m.Channels {
		n += ch.Count()
	}
	return n
}

// Length returns the number of lines spanned by the music
func (m *Music) Length() int {
	length := 0
	for _, ch := range m.Channels {
		if l := ch.Last() + 1; l > length {
			length = l
		}
	}
	return length
}

// Equal compares two musics slot by slot
func (m *Music) Equal(o *Music) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.CreatedAt != o.CreatedAt || m.BPM != o.BPM {
		return false
	}
	for i := range m.Channels {
		if !m.Channels[i].Equal(o.Channels[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the music
func (m *Music) Clone() *Music {
	cp := &Music{CreatedAt: m.CreatedAt, BPM: m.BPM}
	for i, ch := range m.Channels {
		cp.Channels[i] = ch.Clone()
	}
	return cp
}
