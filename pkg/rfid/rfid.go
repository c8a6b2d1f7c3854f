// Package rfid reads user keys from RFID badge readers
package rfid

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/mpp"
)

// ErrInvalidTag is returned for reads that do not yield a usable key
var ErrInvalidTag = errors.New("rfid: invalid tag")

// Reader blocks until a badge is presented
type Reader interface {
	ReadTag(ctx context.Context) (string, error)
	Close() error
}

// Normalize strips framing bytes and whitespace from a raw read and upper
// cases it. The result must fit a protocol user key.
func Normalize(raw string) (string, error) {
	tag := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
	if tag == "" || len(tag) > mpp.UserKeySize {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, raw)
	}
	return tag, nil
}

// SerialReader reads newline terminated tags from a serial reader
type SerialReader struct {
	port  serial.Port
	lines chan string
	errs  chan error
	log   *zap.Logger
}

// OpenSerial opens portName at baud
func OpenSerial(portName string, baud int, log *zap.Logger) (*SerialReader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	_ = port.ResetInputBuffer()

	r := newSerialReader(port, log)
	log.Info("rfid reader opened", zap.String("port", portName), zap.Int("baud", baud))
	return r, nil
}

func newSerialReader(port serial.Port, log *zap.Logger) *SerialReader {
	r := &SerialReader{
		port:  port,
		lines: make(chan string),
		errs:  make(chan error, 1),
		log:   log,
	}
	go r.scan(port)
	return r
}

func (r *SerialReader) scan(src io.Reader) {
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		r.lines <- sc.Text()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	r.errs <- err
	close(r.lines)
}

// ReadTag returns the next valid tag. Malformed reads are logged and skipped.
func (r *SerialReader) ReadTag(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-r.lines:
			if !ok {
				return "", <-r.errs
			}
			tag, err := Normalize(line)
			if err != nil {
				r.log.Debug("rfid read skipped", zap.Error(err))
				continue
			}
			return tag, nil
		}
	}
}

// Close closes the port
func (r *SerialReader) Close() error {
	return r.port.Close()
}

// FileReader waits for a tag written to a file by an external reader
// process. The file is removed once consumed.
type FileReader struct {
	path     string
	interval time.Duration
	log      *zap.Logger
}

// NewFileReader polls path every interval
func NewFileReader(path string, interval time.Duration, log *zap.Logger) *FileReader {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileReader{path: path, interval: interval, log: log}
}

// ReadTag blocks until the file holds a valid tag
func (r *FileReader) ReadTag(ctx context.Context) (string, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		tag, err := r.poll()
		if err != nil {
			return "", err
		}
		if tag != "" {
			return tag, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *FileReader) poll() (string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read tag file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", nil
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("consume tag file: %w", err)
	}
	tag, err := Normalize(string(data))
	if err != nil {
		r.log.Warn("tag file ignored", zap.Error(err))
		return "", nil
	}
	return tag, nil
}

// Close is a no-op
func (r *FileReader) Close() error {
	return nil
}
