package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		expected Format
	}{
		{"song.mus", FormatMusic},
		{"song.mid", FormatMIDI},
		{"song.MIDI", FormatMIDI},
		{"song.wav", FormatWAV},
		{"song.txt", FormatUnknown},
		{"song", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			result := DetectFormat(tt.filename)
			if result != tt.expected {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.filename, result, tt.expected)
			}
		})
	}
}

func TestDetectFormatFromContent(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected Format
	}{
		{"MIDI file", []byte("MThd\x00\x00\x00\x06"), FormatMIDI},
		{"WAV file", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), FormatWAV},
		{"music file", []byte("1000 120\nEND\nEND\nEND\n"), FormatMusic},
		{"short data", []byte{0x00, 0x01}, FormatUnknown},
		{"binary", []byte{0xF0, 0x00, 0x20, 0x32}, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectFormatFromContent(tt.data)
			if result != tt.expected {
				t.Errorf("DetectFormatFromContent() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.mus")
	if err := os.WriteFile(src, mpp.MarshalMusic(melody()), 0644); err != nil {
		t.Fatal(err)
	}

	mid := filepath.Join(dir, "song.mid")
	if err := ConvertFile(src, mid, music.InstrumentSine); err != nil {
		t.Fatalf("ConvertFile(mus -> mid) error = %v", err)
	}
	back := filepath.Join(dir, "back.mus")
	if err := ConvertFile(mid, back, music.InstrumentSine); err != nil {
		t.Fatalf("ConvertFile(mid -> mus) error = %v", err)
	}
	m, err := LoadFile(back, music.InstrumentSine)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if m.NoteCount() != melody().NoteCount() {
		t.Errorf("NoteCount() = %d, want %d", m.NoteCount(), melody().NoteCount())
	}

	if err := ConvertFile(src, filepath.Join(dir, "song.wav"), music.InstrumentSine); err != nil {
		t.Fatalf("ConvertFile(mus -> wav) error = %v", err)
	}
	if err := ConvertFile(src, filepath.Join(dir, "song.txt"), music.InstrumentSine); err == nil {
		t.Error("ConvertFile() to unknown format should fail")
	}
}
