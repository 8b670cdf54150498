// Package sessionlock implements the per-workspace exclusive session lock
// (L6): `<workspace>/.ralph-tui/session.lock`, held for the duration of one
// execution-engine run so two runs never operate on the same workspace
// concurrently.
package sessionlock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/fsutil"
)

// DefaultStaleThreshold is how old an acquired_at may be, with its PID
// dead or unreachable, before the lock is considered abandoned.
const DefaultStaleThreshold = time.Hour

// Info is the on-disk shape of a session lock, per spec §3.4.
type Info struct {
	SessionID  string    `json:"session_id"`
	PID        int       `json:"pid"`
	Cwd        string    `json:"cwd"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname"`
}

// Lock holds an acquired session lock; Release must be called to drop it.
type Lock struct {
	path string
	info Info
}

// Path returns `<workspace>/.ralph-tui/session.lock`.
func Path(workspace string) string {
	return filepath.Join(workspace, ".ralph-tui", "session.lock")
}

// Acquire takes the exclusive lock at Path(workspace) for sessionID. If an
// existing lock is stale (owning PID dead, or older than staleThreshold
// with a dead PID check unavailable) it is replaced; otherwise Acquire
// fails with a core.ErrState naming the holding PID. staleThreshold <= 0
// uses DefaultStaleThreshold.
func Acquire(workspace, sessionID string, staleThreshold time.Duration) (*Lock, error) {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}

	lockPath := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o750); err != nil {
		return nil, core.ErrExecution("LOCK_DIR_FAILED", "creating session lock directory").WithCause(err)
	}

	if data, err := fsutil.ReadFileScoped(lockPath); err == nil {
		var existing Info
		if json.Unmarshal(data, &existing) == nil {
			if time.Since(existing.AcquiredAt) < staleThreshold && processExists(existing.PID) {
				return nil, core.ErrState(core.CodeLockAcquireFailed,
					fmt.Sprintf("locked by PID %d since %s", existing.PID, existing.AcquiredAt.Format(time.RFC3339)))
			}
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, core.ErrExecution("LOCK_STALE_REMOVE_FAILED", "removing stale session lock").WithCause(err)
		}
	} else if !os.IsNotExist(err) {
		return nil, core.ErrExecution("LOCK_READ_FAILED", "reading session lock").WithCause(err)
	}

	hostname, _ := os.Hostname()
	info := Info{
		SessionID:  sessionID,
		PID:        os.Getpid(),
		Cwd:        workspace,
		AcquiredAt: time.Now(),
		Hostname:   hostname,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, core.ErrExecution("LOCK_MARSHAL_FAILED", "encoding session lock").WithCause(err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, core.ErrState(core.CodeLockAcquireFailed, "session lock created by another process")
		}
		return nil, core.ErrExecution("LOCK_CREATE_FAILED", "creating session lock").WithCause(err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, core.ErrExecution("LOCK_WRITE_FAILED", "writing session lock").WithCause(err)
	}

	return &Lock{path: lockPath, info: info}, nil
}

// Release removes the lock file, if it is still owned by this process.
func (l *Lock) Release() error {
	data, err := fsutil.ReadFileScoped(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.ErrExecution("LOCK_READ_FAILED", "reading session lock on release").WithCause(err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return core.ErrExecution("LOCK_PARSE_FAILED", "parsing session lock on release").WithCause(err)
	}
	if info.PID != os.Getpid() {
		return core.ErrState("LOCK_NOT_OWNED", "session lock owned by a different process")
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return core.ErrExecution("LOCK_REMOVE_FAILED", "removing session lock").WithCause(err)
	}
	return nil
}

// Info returns the lock's current metadata.
func (l *Lock) Info() Info {
	return l.info
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
