package pipelinecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
)

const blobExt = ".pcache"

/**
 * @brief Persists pipeline caches on disk, one file per pipeline. File names
 * are name based UUIDs scoped to the device identity, so a driver or device
 * change never picks up a foreign binary.
 */
type Store struct {
	dir       string
	namespace uuid.UUID
	events    *core.EventBus

	mutex sync.RWMutex
	memo  map[string]*Cache
	// Files as Save left them. Watch events for them are not invalidations.
	written map[string]os.FileInfo

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewStore(dir, deviceIdentity string, events *core.EventBus) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = fmt.Errorf("failed to create pipeline cache dir %s: %w", dir, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Store{
		dir:       dir,
		namespace: uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceIdentity)),
		events:    events,
		memo:      make(map[string]*Cache),
		written:   make(map[string]os.FileInfo),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file a named pipeline is stored in.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, uuid.NewSHA1(s.namespace, []byte(name)).String()+blobExt)
}

// Load returns the cache for name, from memory if it was seen before.
// ErrCacheMiss is returned when nothing is stored. A corrupt file is removed.
func (s *Store) Load(name string) (*Cache, error) {
	path := s.Path(name)

	s.mutex.RLock()
	c, ok := s.memo[path]
	s.mutex.RUnlock()
	if ok {
		return c, nil
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, core.ErrCacheMiss)
		}
		return nil, err
	}
	c, err = Deserialize(blob)
	if err != nil {
		core.LogWarn("dropping pipeline cache %s: %s", path, err)
		_ = os.Remove(path)
		return nil, err
	}

	s.mutex.Lock()
	s.memo[path] = c
	s.mutex.Unlock()
	return c, nil
}

// Save writes c for name. An empty cache removes the file.
func (s *Store) Save(name string, c *Cache) error {
	path := s.Path(name)
	blob := c.Serialize()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(blob) == 0 {
		delete(s.memo, path)
		delete(s.written, path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		s.written[path] = info
	}
	s.memo[path] = c
	core.LogDebug("stored pipeline cache %s (%d bytes)", name, len(blob))
	return nil
}

// Invalidate forgets the memoized cache of a file so the next Load reads the disk.
func (s *Store) Invalidate(path string) {
	s.mutex.Lock()
	_, ok := s.memo[path]
	delete(s.memo, path)
	s.mutex.Unlock()

	if ok && s.events != nil {
		s.events.Fire(core.EVENT_CODE_PIPELINE_CACHE_INVALIDATED, s, core.EventContext{Payload: path})
	}
}

// ownWrite reports whether the file at path is still the one Save wrote.
func (s *Store) ownWrite(path string) bool {
	s.mutex.RLock()
	info, ok := s.written[path]
	s.mutex.RUnlock()
	if !ok {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(info, current) && current.Size() == info.Size() && current.ModTime().Equal(info.ModTime())
}

// Watch starts invalidating memoized caches when their files change on disk.
func (s *Store) Watch() error {
	if s.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.start()
	return nil
}

func (s *Store) start() {
	defer s.wg.Done()
	for {
		select {
		case e, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(e.Name) != blobExt {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 && !s.ownWrite(e.Name) {
				s.Invalidate(e.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("%s", err)

		case <-s.done:
			return
		}
	}
}

func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
