// Package store persists users' musics as flat files:
//
//	<root>/user.db                      rfid -> username registry
//	<root>/music/<rfid>/music.db        binary id index
//	<root>/music/<rfid>/<createdAt>.mus one music block per file
//
// The music file and the index are each replaced atomically, but not
// together: a crash between the two can leave an orphan music file.
package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// File layout
const (
	UserDBFile    = "user.db"
	MusicDir      = "music"
	IndexFile     = "music.db"
	MusicFileExt  = ".mus"
	lockFile      = ".lock"
	dirPerm       = 0755
	filePerm      = 0644
	maxUserKeyLen = mpp.UserKeySize
)

// Store errors
var (
	ErrNotFound     = errors.New("store: music not found")
	ErrUnknownUser  = errors.New("store: unknown user")
	ErrInvalidKey   = errors.New("store: invalid user key")
	ErrInvalidMusic = errors.New("store: invalid music")
	ErrCorrupt      = errors.New("store: corrupt file")
)

var userKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is a flat-file music store rooted at a directory
type Store struct {
	root string
	log  *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for store events
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates a store rooted at root, creating the directory if needed
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, MusicDir), dirPerm); err != nil {
		return nil, errors.Wrapf(err, "create store root %s", root)
	}
	return s, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// ValidateUserKey checks key is usable as a directory name
func ValidateUserKey(key string) error {
	if len(key) == 0 || len(key) > maxUserKeyLen || !userKeyPattern.MatchString(key) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}

func (s *Store) userDir(key string) string {
	return filepath.Join(s.root, MusicDir, key)
}

func (s *Store) indexPath(key string) string {
	return filepath.Join(s.userDir(key), IndexFile)
}

func (s *Store) musicPath(key string, id int64) string {
	return filepath.Join(s.userDir(key), strconv.FormatInt(id, 10)+MusicFileExt)
}

// ListMusicIDs returns the user's music ids. A user without an index gets an
// empty one, which is persisted.
func (s *Store) ListMusicIDs(key string) (*music.IDList, error) {
	if err := ValidateUserKey(key); err != nil {
		return nil, err
	}
	unlock, err := s.lockUser(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.loadIndex(key)
}

// SaveMusic inserts or replaces the music identified by m.CreatedAt. The
// returned flag is true when the id was not in the index yet.
func (s *Store) SaveMusic(m *music.Music, key string) (bool, error) {
	if err := ValidateUserKey(key); err != nil {
		return false, err
	}
	if m == nil {
		return false, errors.Wrap(ErrInvalidMusic, "nil music")
	}
	if m.CreatedAt < 0 {
		return false, errors.Wrapf(ErrInvalidMusic, "negative id %d", m.CreatedAt)
	}
	unlock, err := s.lockUser(key)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Music file first: a crash leaves an orphan file, never a dangling id
	path := s.musicPath(key, m.CreatedAt)
	if err := writeFileAtomic(path, mpp.MarshalMusic(m)); err != nil {
		return false, errors.Wrapf(err, "write music %s", path)
	}

	index, err := s.loadIndex(key)
	if err != nil {
		return false, err
	}
	created := index.Append(m.CreatedAt)
	if created {
		if err := s.writeIndex(key, index); err != nil {
			return false, err
		}
	}

	s.log.Debug("music saved",
		zap.String("user", key),
		zap.Int64("music_id", m.CreatedAt),
		zap.Int("notes", m.NoteCount()),
		zap.Bool("created", created))
	return created, nil
}

// FetchMusic reads one music. A missing file yields ErrNotFound.
func (s *Store) FetchMusic(id int64, key string) (*music.Music, error) {
	if err := ValidateUserKey(key); err != nil {
		return nil, err
	}
	if id < 0 {
		return nil, errors.Wrapf(ErrNotFound, "music %d", id)
	}
	unlock, err := s.lockUser(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := s.musicPath(key, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "music %d", id)
		}
		return nil, errors.Wrapf(err, "read music %s", path)
	}
	m, err := mpp.UnmarshalMusic(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: %v", path, err)
	}
	return m, nil
}

// DeleteMusic removes a music file and its index entry. A music missing from
// disk yields ErrNotFound, after any dangling index entry has been dropped.
func (s *Store) DeleteMusic(id int64, key string) error {
	if err := ValidateUserKey(key); err != nil {
		return err
	}
	if id < 0 {
		return errors.Wrapf(ErrNotFound, "music %d", id)
	}
	unlock, err := s.lockUser(key)
	if err != nil {
		return err
	}
	defer unlock()

	path := s.musicPath(key, id)
	found := true
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "remove music %s", path)
		}
		found = false
	}

	index, err := s.loadIndex(key)
	if err != nil {
		return err
	}
	if index.Remove(id) {
		if err := s.writeIndex(key, index); err != nil {
			return err
		}
	}

	if !found {
		return errors.Wrapf(ErrNotFound, "music %d", id)
	}
	s.log.Debug("music deleted", zap.String("user", key), zap.Int64("music_id", id))
	return nil
}

// SearchMusic returns the position of id in index, or -1
func SearchMusic(index *music.IDList, id int64) int {
	return index.Search(id)
}

// loadIndex reads the index, creating an empty one for a new user. The
// caller holds the user lock.
func (s *Store) loadIndex(key string) (*music.IDList, error) {
	path := s.indexPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read index %s", path)
		}
		index := music.NewIDList()
		if err := s.writeIndex(key, index); err != nil {
			return nil, err
		}
		s.log.Debug("index created", zap.String("user", key))
		return index, nil
	}

	index, err := decodeIndex(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: %v", path, err)
	}
	return index, nil
}

func (s *Store) writeIndex(key string, index *music.IDList) error {
	if err := os.MkdirAll(s.userDir(key), dirPerm); err != nil {
		return errors.Wrapf(err, "create user dir %s", key)
	}
	path := s.indexPath(key)
	if err := writeFileAtomic(path, encodeIndex(index)); err != nil {
		return errors.Wrapf(err, "write index %s", path)
	}
	return nil
}

// writeFileAtomic replaces path with data through a temporary file and rename
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
