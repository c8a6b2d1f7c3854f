package mpp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/james-see/musicpi/pkg/music"
)

// Codec errors
var (
	ErrBadRequest     = errors.New("mpp: malformed message")
	ErrBufferOverflow = errors.New("mpp: message exceeds buffer capacity")
	ErrInvalidField   = errors.New("mpp: field cannot be serialized")
)

// EndMarker terminates each channel block
const EndMarker = "END"

// Codec serializes envelopes into buffers of at most MaxSize bytes
type Codec struct {
	maxSize int
}

// NewCodec creates a codec bounded by maxSize bytes. A size <= 0 selects
// BufferSize.
func NewCodec(maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = BufferSize
	}
	return &Codec{maxSize: maxSize}
}

// MaxSize returns the buffer capacity enforced by the codec
func (c *Codec) MaxSize() int {
	return c.maxSize
}

// SerializeRequest writes the request as:
//
//	<code> <userKey> <musicId>
//	[music block]
func (c *Codec) SerializeRequest(r *Request) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil request")
	}
	if err := validateToken("user key", r.UserKey, UserKeySize, false); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(int(r.Code)))
	buf.WriteByte(' ')
	buf.WriteString(r.UserKey)
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(r.MusicID, 10))
	buf.WriteByte('\n')
	if r.Music != nil {
		writeMusic(&buf, r.Music)
	}
	return c.checkSize(buf.Bytes())
}

// DeserializeRequest parses a request. Every malformed input, including an
// empty buffer, yields an error wrapping ErrBadRequest.
func (c *Codec) DeserializeRequest(data []byte) (*Request, error) {
	lr := newLineReader(data)
	line, ok := lr.next()
	if !ok {
		return nil, fmt.Errorf("%w: empty request", ErrBadRequest)
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, badLine(lr, "expected <code> <userKey> <musicId>, got %d fields", len(fields))
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, badLine(lr, "invalid request code %q", fields[0])
	}
	req := &Request{Code: RequestCode(code), UserKey: fields[1]}
	if !req.Code.Valid() {
		return nil, badLine(lr, "unknown request code %d", code)
	}
	if len(req.UserKey) > UserKeySize {
		return nil, badLine(lr, "user key longer than %d bytes", UserKeySize)
	}
	if req.MusicID, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return nil, badLine(lr, "invalid music id %q", fields[2])
	}

	if lr.more() {
		if req.Music, err = readMusic(lr); err != nil {
			return nil, err
		}
	}
	if lr.more() {
		return nil, badLine(lr, "unexpected data after music block")
	}
	return req, nil
}

// SerializeResponse writes the response as:
//
//	<code> <username>
//	<idCount>
//	<musicId>...
//	[music block]
//
// The id count line is always written; 0 stands for "no list".
func (c *Codec) SerializeResponse(r *Response) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil response")
	}
	if err := validateToken("username", r.Username, UsernameSize, true); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(int(r.Code)))
	if r.Username != "" {
		buf.WriteByte(' ')
		buf.WriteString(r.Username)
	}
	buf.WriteByte('\n')

	ids := r.MusicIDs.IDs()
	buf.WriteString(strconv.Itoa(len(ids)))
	buf.WriteByte('\n')
	for _, id := range ids {
		buf.WriteString(strconv.FormatInt(id, 10))
		buf.WriteByte('\n')
	}
	if r.Music != nil {
		writeMusic(&buf, r.Music)
	}
	return c.checkSize(buf.Bytes())
}

// DeserializeResponse parses a response
func (c *Codec) DeserializeResponse(data []byte) (*Response, error) {
	lr := newLineReader(data)
	line, ok := lr.next()
	if !ok {
		return nil, fmt.Errorf("%w: empty response", ErrBadRequest)
	}

	fields := strings.Fields(line)
	if len(fields) < 1 || len(fields) > 2 {
		return nil, badLine(lr, "expected <code> [username], got %d fields", len(fields))
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, badLine(lr, "invalid response code %q", fields[0])
	}
	resp := &Response{Code: ResponseCode(code)}
	if !resp.Code.Valid() {
		return nil, badLine(lr, "unknown response code %d", code)
	}
	if len(fields) == 2 {
		if len(fields[1]) > UsernameSize {
			return nil, badLine(lr, "username longer than %d bytes", UsernameSize)
		}
		resp.Username = fields[1]
	}

	// A single field is the id count; two fields mean the count line was
	// omitted and the music header follows directly.
	if line, ok := lr.peek(); ok && len(strings.Fields(line)) == 1 {
		lr.next()
		count, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || count < 0 {
			return nil, badLine(lr, "invalid id count %q", line)
		}
		if count > 0 {
			resp.MusicIDs = music.NewIDList()
		}
		for i := 0; i < count; i++ {
			line, ok := lr.next()
			if !ok {
				return nil, fmt.Errorf("%w: id list truncated after %d of %d ids", ErrBadRequest, i, count)
			}
			id, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
			if err != nil {
				return nil, badLine(lr, "invalid music id %q", line)
			}
			if !resp.MusicIDs.Append(id) {
				return nil, badLine(lr, "duplicate music id %d", id)
			}
		}
	}

	if lr.more() {
		if resp.Music, err = readMusic(lr); err != nil {
			return nil, err
		}
	}
	if lr.more() {
		return nil, badLine(lr, "unexpected data after music block")
	}
	return resp, nil
}

func (c *Codec) checkSize(data []byte) ([]byte, error) {
	if len(data) > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", ErrBufferOverflow, len(data), c.maxSize)
	}
	return data, nil
}

// validateToken checks a string can travel as a single space-separated field
func validateToken(name, s string, max int, allowEmpty bool) error {
	if s == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: empty %s", ErrInvalidField, name)
	}
	if len(s) > max {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidField, name, max)
	}
	if strings.ContainsAny(s, " \t\r\n\x00") {
		return fmt.Errorf("%w: %s contains whitespace", ErrInvalidField, name)
	}
	return nil
}

func badLine(lr *lineReader, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrBadRequest, lr.lineNo(), fmt.Sprintf(format, args...))
}

// lineReader splits a buffer into non-empty lines. Content after the first
// NUL byte is padding and is ignored.
type lineReader struct {
	lines []string
	pos   int
	last  int
}

func newLineReader(data []byte) *lineReader {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	lr := &lineReader{}
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lr.lines = append(lr.lines, l)
	}
	return lr
}

func (lr *lineReader) next() (string, bool) {
	if lr.pos >= len(lr.lines) {
		return "", false
	}
	l := lr.lines[lr.pos]
	lr.pos++
	lr.last = lr.pos
	return l, true
}

func (lr *lineReader) peek() (string, bool) {
	if lr.pos >= len(lr.lines) {
		return "", false
	}
	return lr.lines[lr.pos], true
}

func (lr *lineReader) more() bool {
	return lr.pos < len(lr.lines)
}

// lineNo returns the 1-based index of the last line read
func (lr *lineReader) lineNo() int {
	return lr.last
}
