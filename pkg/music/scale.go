package music

import "math"

// ReferenceOctave is the octave at which the reference frequencies apply
const ReferenceOctave = 3

// NoteNames maps a note index to its name. Index 0 is the rest.
var NoteNames = [MaxNoteIndex + 1]string{
	"--", "C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B",
}

// referenceFrequencies in Hz at ReferenceOctave
var referenceFrequencies = [MaxNoteIndex + 1]float64{
	0, 261.63, 277.18, 293.66, 311.13, 329.63, 349.23, 369.99, 392.00, 415.30, 440.00, 466.16, 493.88,
}

// Name returns the note name, "--" for a rest
func (n Note) Name() string {
	if n.Index < 0 || n.Index > MaxNoteIndex {
		return "??"
	}
	return NoteNames[n.Index]
}

// Frequency returns the pitch of the note in Hz, 0 for a rest
func (n Note) Frequency() float64 {
	if n.Empty() || n.Index > MaxNoteIndex {
		return 0
	}
	return referenceFrequencies[n.Index] * math.Pow(2, float64(n.Octave-ReferenceOctave))
}

// MIDINumber returns the MIDI key number of the note. Reference C is key 60.
func (n Note) MIDINumber() uint8 {
	k := 60 + 12*(n.Octave-ReferenceOctave) + n.Index - 1
	if k < 0 {
		return 0
	}
	if k > 127 {
		return 127
	}
	return uint8(k)
}

// Scale is a cursor over the note names, used by the composer to cycle
// through notes with up/down buttons.
type Scale struct {
	current int
}

// Current returns the selected note index
func (s *Scale) Current() int {
	return s.current
}

// Next moves to the following note, wrapping after B to the rest
func (s *Scale) Next() string {
	s.current = (s.current + 1) % len(NoteNames)
	return NoteNames[s.current]
}

// Previous moves to the preceding note, wrapping from the rest to B
func (s *Scale) Previous() string {
	s.current = (s.current - 1 + len(NoteNames)) % len(NoteNames)
	return NoteNames[s.current]
}
