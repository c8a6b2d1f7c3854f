package export

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// Format represents a file format
type Format string

const (
	FormatMusic   Format = "mus"
	FormatMIDI    Format = "midi"
	FormatWAV     Format = "wav"
	FormatUnknown Format = "unknown"
)

// DetectFormat detects the format of a file from its extension
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mus":
		return FormatMusic
	case ".mid", ".midi":
		return FormatMIDI
	case ".wav":
		return FormatWAV
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects the format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(data, []byte("MThd")):
		return FormatMIDI
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && string(data[8:12]) == "WAVE":
		return FormatWAV
	case (data[0] >= '0' && data[0] <= '9') || data[0] == '-':
		// Music files open with "<createdAt> <bpm>"
		return FormatMusic
	}
	return FormatUnknown
}

// SupportedConversions lists the conversions ConvertFile performs
func SupportedConversions() []string {
	return []string{
		"mus -> midi",
		"mus -> wav",
		"midi -> mus",
		"midi -> wav",
	}
}

// LoadFile reads a music file or imports a MIDI file. Imported notes get
// instrument and the current time as id.
func LoadFile(path string, instrument music.Instrument) (*music.Music, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	format := DetectFormat(path)
	if format == FormatUnknown {
		format = DetectFormatFromContent(data)
	}

	switch format {
	case FormatMusic:
		return mpp.UnmarshalMusic(data)
	case FormatMIDI:
		return NewMIDIExporter().ParseMIDI(data, time.Now().Unix(), instrument)
	default:
		return nil, fmt.Errorf("cannot load %s files", format)
	}
}

// ConvertFile converts inputPath to the format named by outputPath's
// extension
func ConvertFile(inputPath, outputPath string, instrument music.Instrument) error {
	outputFormat := DetectFormat(outputPath)
	if outputFormat == FormatUnknown {
		return errors.New("cannot determine output format from filename")
	}

	m, err := LoadFile(inputPath, instrument)
	if err != nil {
		return err
	}

	switch outputFormat {
	case FormatMusic:
		err = os.WriteFile(outputPath, mpp.MarshalMusic(m), 0644)
	case FormatMIDI:
		err = NewMIDIExporter().WriteMIDIFile(m, outputPath)
	case FormatWAV:
		err = NewWAVExporter().WriteWAVFile(m, outputPath)
	}
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}
	return nil
}
