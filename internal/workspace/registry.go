package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RegistryFileName is the user-level registry of known workspaces.
const RegistryFileName = "workspace_registry.json"

// registryVersion is the on-disk format version.
const registryVersion = 1

// registryCacheTTL bounds how stale cached reads may be. Repeated reads
// within the window skip the disk entirely; writers invalidate the cache.
const registryCacheTTL = 5 * time.Second

// registryFile is the on-disk shape: a version plus a map keyed by
// workspace ID.
type registryFile struct {
	Version    int               `json:"version"`
	Workspaces map[string]*Entry `json:"workspaces"`
}

// Registry tracks the set of known workspaces in a JSON file shared across
// processes for the same user. Mutations take a process-shared advisory
// lock, re-read the file, apply the change, and write atomically via tmp +
// rename, so concurrent julie processes never lose each other's updates.
type Registry struct {
	path string
	lock *flock.Flock

	mu        sync.Mutex
	cached    *registryFile
	cachedAt  time.Time
}

// DefaultRegistryPath is <home>/.julie/workspace_registry.json.
func DefaultRegistryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, julieDir, RegistryFileName), nil
}

// OpenRegistry opens (creating directories as needed) the registry at path.
// An empty path uses DefaultRegistryPath.
func OpenRegistry(path string) (*Registry, error) {
	if path == "" {
		var err error
		path, err = DefaultRegistryPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &Registry{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Get returns the entry for a workspace ID, or nil when unknown.
func (r *Registry) Get(id string) (*Entry, error) {
	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	return reg.Workspaces[id], nil
}

// List returns all entries ordered by most recently seen.
func (r *Registry) List() ([]*Entry, error) {
	reg, err := r.read()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(reg.Workspaces))
	for _, e := range reg.Workspaces {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries, nil
}

// Recent returns up to n entries ordered by most recently seen.
func (r *Registry) Recent(n int) ([]*Entry, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Touch records that a workspace was seen now, creating its entry when
// absent.
func (r *Registry) Touch(w *Workspace) error {
	return r.update(func(reg *registryFile) {
		e := reg.Workspaces[w.ID]
		if e == nil {
			e = &Entry{
				WorkspaceID: w.ID,
				DisplayName: filepath.Base(w.Root),
				RootPath:    w.Root,
			}
			reg.Workspaces[w.ID] = e
		}
		e.LastSeen = time.Now().UTC()
	})
}

// RecordIndexed updates a workspace's post-index statistics.
func (r *Registry) RecordIndexed(w *Workspace, stats Stats) error {
	return r.update(func(reg *registryFile) {
		e := reg.Workspaces[w.ID]
		if e == nil {
			e = &Entry{
				WorkspaceID: w.ID,
				DisplayName: filepath.Base(w.Root),
				RootPath:    w.Root,
			}
			reg.Workspaces[w.ID] = e
		}
		now := time.Now().UTC()
		e.LastSeen = now
		e.LastIndexed = now
		e.Stats = stats
	})
}

// Remove deletes a workspace's registry entry. The workspace's own index
// directory is untouched; callers remove it separately.
func (r *Registry) Remove(id string) error {
	return r.update(func(reg *registryFile) {
		delete(reg.Workspaces, id)
	})
}

// read returns the registry contents, served from the in-memory cache when
// fresh.
func (r *Registry) read() (*registryFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cachedAt) < registryCacheTTL {
		return r.cached, nil
	}

	reg, err := r.load()
	if err != nil {
		return nil, err
	}
	r.cached = reg
	r.cachedAt = time.Now()
	return reg, nil
}

// load reads and parses the file without locking; callers hold r.mu or the
// advisory lock as appropriate.
func (r *Registry) load() (*registryFile, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return &registryFile{Version: registryVersion, Workspaces: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		// A corrupt registry is not fatal: it's derived bookkeeping, so
		// start over rather than refuse to serve.
		return &registryFile{Version: registryVersion, Workspaces: map[string]*Entry{}}, nil
	}
	if reg.Workspaces == nil {
		reg.Workspaces = map[string]*Entry{}
	}
	return &reg, nil
}

// update runs the lock-then-load-modify-save cycle for one mutation.
func (r *Registry) update(mutate func(*registryFile)) error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer r.lock.Unlock() //nolint:errcheck

	reg, err := r.load()
	if err != nil {
		return err
	}
	mutate(reg)
	reg.Version = registryVersion

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}

	r.mu.Lock()
	r.cached = reg
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return nil
}
