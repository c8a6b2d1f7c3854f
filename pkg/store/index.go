package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/james-see/musicpi/pkg/music"
)

// Index file layout, big endian:
//
//	magic   [4]byte "MPIX"
//	version uint16
//	count   uint32
//	ids     [count]int64
const (
	indexMagic      = "MPIX"
	indexVersion    = 1
	indexHeaderSize = 4 + 2 + 4
)

func encodeIndex(index *music.IDList) []byte {
	ids := index.IDs()
	buf := bytes.NewBuffer(make([]byte, 0, indexHeaderSize+8*len(ids)))
	buf.WriteString(indexMagic)
	_ = binary.Write(buf, binary.BigEndian, uint16(indexVersion))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(ids)))
	for _, id := range ids {
		_ = binary.Write(buf, binary.BigEndian, id)
	}
	return buf.Bytes()
}

func decodeIndex(data []byte) (*music.IDList, error) {
	if len(data) < indexHeaderSize {
		return nil, fmt.Errorf("index too short: %d bytes", len(data))
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("bad index magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", v)
	}
	count := int(binary.BigEndian.Uint32(data[6:10]))
	if want := indexHeaderSize + 8*count; len(data) != want {
		return nil, fmt.Errorf("index size %d, want %d for %d ids", len(data), want, count)
	}

	index := music.NewIDList()
	for i := 0; i < count; i++ {
		off := indexHeaderSize + 8*i
		index.Append(int64(binary.BigEndian.Uint64(data[off : off+8])))
	}
	return index, nil
}
