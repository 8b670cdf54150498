// Package registry maintains the process-global index of active and
// resumable sessions at `<user_config_dir>/sessions.json`, consulted by
// the status and listen commands and by the remote server's
// list_sessions RPC.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ralphtui/ralph/internal/core"
)

// Status is the liveness state of a registered session.
type Status string

const (
	StatusRunning Status = "running"
	StatusStale   Status = "stale"
)

// Entry is one registered session, per spec §3.10.
type Entry struct {
	SessionID string    `json:"session_id"`
	Cwd       string    `json:"cwd"`
	PID       int       `json:"pid"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen_at"`
}

// Filter narrows List's results.
type Filter struct {
	Cwd    string
	Status Status
}

func (f Filter) matches(e Entry) bool {
	if f.Cwd != "" && f.Cwd != e.Cwd {
		return false
	}
	if f.Status != "" && f.Status != e.Status {
		return false
	}
	return true
}

// Registry reads and writes the shared sessions.json file. All writes
// are atomic (temp file + rename) and take an exclusive in-process lock
// as well, since a single process may hold multiple registry handles.
type Registry struct {
	mu   sync.Mutex
	path string
}

// New returns a Registry backed by path (typically
// `<user_config_dir>/sessions.json`).
func New(path string) *Registry {
	return &Registry{path: path}
}

// DefaultPath returns `<user_config_dir>/sessions.json`.
func DefaultPath(userConfigDir string) string {
	return filepath.Join(userConfigDir, "sessions.json")
}

// Register adds or updates entry, keyed by SessionID.
func (r *Registry) Register(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i, e := range entries {
		if e.SessionID == entry.SessionID {
			entries[i] = entry
			updated = true
			break
		}
	}
	if !updated {
		entries = append(entries, entry)
	}

	return r.writeLocked(entries)
}

// Unregister removes the entry for sessionID, if present.
func (r *Registry) Unregister(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return err
	}

	out := entries[:0]
	for _, e := range entries {
		if e.SessionID != sessionID {
			out = append(out, e)
		}
	}
	return r.writeLocked(out)
}

// List returns every entry matching filter, with liveness re-evaluated
// against the current process table rather than cached from disk.
func (r *Registry) List(filter Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !processExists(e.PID) {
			e.Status = StatusStale
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Registry) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrExecution("REGISTRY_READ_FAILED", "reading session registry").WithCause(err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, core.ErrExecution("REGISTRY_PARSE_FAILED", "parsing session registry").WithCause(err)
	}
	return entries, nil
}

func (r *Registry) writeLocked(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return core.ErrExecution("REGISTRY_MARSHAL_FAILED", "encoding session registry").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return core.ErrExecution("REGISTRY_DIR_FAILED", "creating registry directory").WithCause(err)
	}
	if err := renameio.WriteFile(r.path, data, 0o600); err != nil {
		return core.ErrExecution("REGISTRY_WRITE_FAILED", "writing session registry").WithCause(err)
	}
	return nil
}

// processExists reports whether pid refers to a live process.
func processExists(pid int) bool {
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
