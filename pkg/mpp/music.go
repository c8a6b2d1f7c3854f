package mpp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/james-see/musicpi/pkg/music"
)

// MarshalMusic encodes a music block without any size limit. The store uses
// it for the per-music files.
//
//	<createdAt> <bpm>
//	<line> <noteIndex> <octave> <instrument> <duration>
//	...
//	END
//	(three channel blocks)
func MarshalMusic(m *music.Music) []byte {
	var buf bytes.Buffer
	writeMusic(&buf, m)
	return buf.Bytes()
}

// UnmarshalMusic decodes a single music block
func UnmarshalMusic(data []byte) (*music.Music, error) {
	lr := newLineReader(data)
	if !lr.more() {
		return nil, fmt.Errorf("%w: empty music", ErrBadRequest)
	}
	m, err := readMusic(lr)
	if err != nil {
		return nil, err
	}
	if lr.more() {
		return nil, badLine(lr, "unexpected data after music block")
	}
	return m, nil
}

func writeMusic(buf *bytes.Buffer, m *music.Music) {
	buf.WriteString(strconv.FormatInt(m.CreatedAt, 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(m.BPM))
	buf.WriteByte('\n')

	for _, ch := range m.Channels {
		if ch != nil {
			// Only occupied slots travel, with their line
			for _, line := range ch.Lines() {
				n := ch.Get(line)
				fmt.Fprintf(buf, "%d %d %d %d %d\n", line, n.Index, n.Octave, int(n.Instrument), int(n.Duration))
			}
		}
		buf.WriteString(EndMarker)
		buf.WriteByte('\n')
	}
}

func readMusic(lr *lineReader) (*music.Music, error) {
	header, _ := lr.next()
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return nil, badLine(lr, "expected <createdAt> <bpm>, got %d fields", len(fields))
	}
	createdAt, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, badLine(lr, "invalid creation date %q", fields[0])
	}
	bpm, err := strconv.Atoi(fields[1])
	if err != nil || bpm < 0 {
		return nil, badLine(lr, "invalid bpm %q", fields[1])
	}

	m := music.New(createdAt, bpm)
	for i := 0; i < music.MusicMaxChannels; i++ {
		if err := readChannel(lr, m.Channels[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readChannel(lr *lineReader, ch *music.Channel) error {
	for {
		line, ok := lr.next()
		if !ok {
			return fmt.Errorf("%w: channel %d: missing %s", ErrBadRequest, ch.ID, EndMarker)
		}
		if strings.TrimSpace(line) == EndMarker {
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) != 5 {
			return badLine(lr, "channel %d: expected 5 note fields, got %d", ch.ID, len(fields))
		}
		var v [5]int
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil {
				return badLine(lr, "channel %d: invalid number %q", ch.ID, f)
			}
			v[i] = n
		}
		note := music.Note{
			Index:      v[1],
			Octave:     v[2],
			Instrument: music.Instrument(v[3]),
			Duration:   music.Duration(v[4]),
		}
		if err := ch.Set(v[0], note); err != nil {
			return badLine(lr, "channel %d: %v", ch.ID, err)
		}
	}
}
