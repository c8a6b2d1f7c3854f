//go:build !unix

package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Without flock, locks only serialize goroutines of this process
var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func (s *Store) lockUser(key string) (func(), error) {
	return lockPath(filepath.Join(s.userDir(key), lockFile))
}

func lockPath(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, errors.Wrapf(err, "create lock dir for %s", path)
	}
	locksMu.Lock()
	mu, ok := locks[path]
	if !ok {
		mu = &sync.Mutex{}
		locks[path] = mu
	}
	locksMu.Unlock()

	mu.Lock()
	return mu.Unlock, nil
}
