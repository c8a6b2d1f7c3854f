package store

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/mpp"
)

// User is one entry of the registry
type User struct {
	Key      string `json:"rfid"`
	Username string `json:"username"`
}

func (s *Store) userDBPath() string {
	return filepath.Join(s.root, UserDBFile)
}

// LookupUsername resolves a user key against the registry. Unknown keys and
// a missing registry yield ErrUnknownUser.
func (s *Store) LookupUsername(key string) (string, error) {
	users, err := s.ListUsers()
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Key == key {
			return u.Username, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownUser, "%q", key)
}

// ListUsers returns the registry entries in file order. Blank lines, comments
// and lines without exactly two fields are skipped.
func (s *Store) ListUsers() ([]User, error) {
	data, err := os.ReadFile(s.userDBPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read user registry")
	}

	var users []User
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		users = append(users, User{Key: fields[0], Username: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan user registry")
	}
	return users, nil
}

// AddUser registers key with username, replacing any existing entry
func (s *Store) AddUser(key, username string) error {
	if err := ValidateUserKey(key); err != nil {
		return err
	}
	if username == "" || len(username) > mpp.UsernameSize || strings.ContainsAny(username, " \t\r\n") {
		return errors.Errorf("invalid username %q", username)
	}
	return s.updateUsers(func(users []User) []User {
		for i := range users {
			if users[i].Key == key {
				users[i].Username = username
				return users
			}
		}
		return append(users, User{Key: key, Username: username})
	})
}

// RemoveUser drops key from the registry. The user's musics are kept.
func (s *Store) RemoveUser(key string) error {
	found := false
	err := s.updateUsers(func(users []User) []User {
		kept := users[:0]
		for _, u := range users {
			if u.Key == key {
				found = true
				continue
			}
			kept = append(kept, u)
		}
		return kept
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(ErrUnknownUser, "%q", key)
	}
	return nil
}

func (s *Store) updateUsers(update func([]User) []User) error {
	unlock, err := lockPath(filepath.Join(s.root, lockFile))
	if err != nil {
		return err
	}
	defer unlock()

	users, err := s.ListUsers()
	if err != nil {
		return err
	}
	users = update(users)
	sort.SliceStable(users, func(i, j int) bool { return users[i].Key < users[j].Key })

	var buf bytes.Buffer
	for _, u := range users {
		buf.WriteString(u.Key)
		buf.WriteByte(' ')
		buf.WriteString(u.Username)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(s.userDBPath(), buf.Bytes()); err != nil {
		return errors.Wrap(err, "write user registry")
	}
	s.log.Debug("user registry updated", zap.Int("users", len(users)))
	return nil
}
