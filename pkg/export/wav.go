package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/james-see/musicpi/pkg/music"
)

// Synthesis parameters
const (
	SampleRate    = 48000
	BitDepth      = 16
	BaseAmplitude = 8000

	// MaxRenderSeconds bounds the audio Render will produce
	MaxRenderSeconds = 600
)

// ErrTooLong is returned for musics that exceed what an exporter accepts
var ErrTooLong = errors.New("export: music too long")

// Waveform returns the value of a unit-amplitude wave at time t seconds
type Waveform func(freq, t float64) float64

// Waveforms maps instruments to their generators. Instruments without an
// entry are silent.
var Waveforms = map[music.Instrument]Waveform{
	music.InstrumentStepMotor: stepMotorWave,
	music.InstrumentSine:      sineWave,
	music.InstrumentSawtooth:  sawtoothWave,
	music.InstrumentTriangle:  triangleWave,
	music.InstrumentSquare:    squareWave,
	music.InstrumentOrgan:     organWave,
	music.InstrumentSinPhaser: phaserWave,
}

func sineWave(freq, t float64) float64 {
	return math.Sin(2 * math.Pi * freq * t)
}

func squareWave(freq, t float64) float64 {
	_, frac := math.Modf(freq * t)
	if frac < 0.5 {
		return 1
	}
	return -1
}

// stepMotorWave is a quiet square, the buzz of a motor driven at freq
func stepMotorWave(freq, t float64) float64 {
	return 0.4 * squareWave(freq, t)
}

func sawtoothWave(freq, t float64) float64 {
	_, frac := math.Modf(freq * t)
	return 2*frac - 1
}

func triangleWave(freq, t float64) float64 {
	_, frac := math.Modf(freq * t)
	return 1 - 4*math.Abs(frac-0.5)
}

// organWave stacks the fundamental with octave and twelfth drawbars
func organWave(freq, t float64) float64 {
	return sineWave(freq, t) +
		sineWave(freq*2, t) +
		sineWave(freq*3, t) +
		sineWave(freq/2, t) +
		sineWave(freq/4, t)
}

// phaserWave is a sine whose phase is swept by a slow 4 Hz oscillator
func phaserWave(freq, t float64) float64 {
	return math.Sin(2*math.Pi*freq*t + 1.5*math.Sin(2*math.Pi*4*t))
}

// WAVExporter renders musics to mono 16-bit PCM
type WAVExporter struct {
	sampleRate int
	amplitude  float64
}

// NewWAVExporter creates a WAV exporter
func NewWAVExporter() *WAVExporter {
	return &WAVExporter{sampleRate: SampleRate, amplitude: BaseAmplitude}
}

// StepSamples returns the number of samples of one line at bpm
func (e *WAVExporter) StepSamples(bpm int) int {
	if bpm <= 0 {
		bpm = DefaultBPM
	}
	return int(float64(e.sampleRate) * 60 / float64(bpm) / 4)
}

// Render mixes all channels of m. Samples are clipped to 16 bits. Musics
// longer than MaxRenderSeconds yield ErrTooLong.
func (e *WAVExporter) Render(m *music.Music) ([]int, error) {
	if m == nil {
		return nil, errors.New("nil music")
	}
	step := e.StepSamples(m.BPM)

	end := 0
	for _, ch := range m.Channels {
		for _, line := range ch.Lines() {
			if n := ch.Get(line); line+int(n.Duration) > end {
				end = line + int(n.Duration)
			}
		}
	}

	if limit := MaxRenderSeconds * e.sampleRate; end*step > limit {
		return nil, fmt.Errorf("%w: %d samples at %d bpm, limit %d s", ErrTooLong, end*step, m.BPM, MaxRenderSeconds)
	}
	mix := make([]float64, end*step)
	for _, ch := range m.Channels {
		for _, line := range ch.Lines() {
			n := ch.Get(line)
			wave, ok := Waveforms[n.Instrument]
			if !ok {
				continue
			}
			freq := n.Frequency()
			start := line * step
			count := int(n.Duration) * step
			for i := 0; i < count; i++ {
				mix[start+i] += e.amplitude * wave(freq, float64(i)/float64(e.sampleRate))
			}
		}
	}

	samples := make([]int, len(mix))
	for i, v := range mix {
		samples[i] = clip16(v)
	}
	return samples, nil
}

func clip16(v float64) int {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int(v)
}

// WriteWAV renders m and encodes it to w
func (e *WAVExporter) WriteWAV(w io.WriteSeeker, m *music.Music) error {
	samples, err := e.Render(m)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(w, e.sampleRate, BitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: e.sampleRate, NumChannels: 1},
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return nil
}

// WriteWAVFile renders m to filename
func (e *WAVExporter) WriteWAVFile(m *music.Music, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := e.WriteWAV(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
