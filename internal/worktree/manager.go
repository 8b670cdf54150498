// Package worktree implements the parallel executor's per-worker git
// worktree lifecycle (M3): branch-name derivation from a task id,
// acquire/release/cleanup, disk-space preflight, and .gitignore upkeep.
package worktree

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/core"
)

// DefaultMaxWorktrees is how many concurrent worker worktrees may be
// active before Acquire refuses new ones.
const DefaultMaxWorktrees = 8

// DefaultMinFreeDiskBytes gates Acquire when disk space is low.
const DefaultMinFreeDiskBytes = 500 * 1024 * 1024

// Info describes one acquired worktree, per spec §3.5.
type Info struct {
	ID       string
	Path     string
	Branch   string
	WorkerID string
	TaskID   string
	Active   bool
	Dirty    bool
	CreatedAt time.Time
}

// Manager creates and tears down per-worker worktrees under a single
// base directory, one branch per task.
type Manager struct {
	mu             sync.Mutex
	git            *git.Client
	baseDir        string
	maxWorktrees   int
	minFreeBytes   int64
	active         map[string]*Info // keyed by ID
}

// NewManager returns a Manager rooted at baseDir (created if absent).
func NewManager(client *git.Client, baseDir string, maxWorktrees int, minFreeBytes int64) (*Manager, error) {
	if maxWorktrees <= 0 {
		maxWorktrees = DefaultMaxWorktrees
	}
	if minFreeBytes <= 0 {
		minFreeBytes = DefaultMinFreeDiskBytes
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, core.ErrExecution("WORKTREE_BASEDIR_FAILED", "creating worktree base directory").WithCause(err)
	}
	return &Manager{
		git:          client,
		baseDir:      baseDir,
		maxWorktrees: maxWorktrees,
		minFreeBytes: minFreeBytes,
		active:       make(map[string]*Info),
	}, nil
}

// BranchName derives a git-safe branch name from a task id, per spec
// §4.10: replace whitespace and `~^:?*[\@{}` with `-`, drop control
// characters, collapse duplicate slashes/dashes/dots, strip leading and
// trailing dot/dash/slash, reject a `.lock` suffix, and fall back to an
// 8-character alphanumeric derived from the base64 of the original id
// when nothing survives.
func BranchName(taskID string) string {
	sanitized := sanitizeRefComponent(taskID)
	if sanitized == "" || strings.HasSuffix(sanitized, ".lock") {
		sanitized = fallbackID(taskID)
	}
	return "ralph-parallel/" + sanitized
}

var (
	controlCharsRe  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	specialCharsRe  = regexp.MustCompile(`[~^:?*\[\\@{}\s]`)
	dupSlashRe      = regexp.MustCompile(`/{2,}`)
	dupDashRe       = regexp.MustCompile(`-{2,}`)
	dupDotRe        = regexp.MustCompile(`\.{2,}`)
)

func sanitizeRefComponent(id string) string {
	s := controlCharsRe.ReplaceAllString(id, "")
	s = specialCharsRe.ReplaceAllString(s, "-")
	s = dupSlashRe.ReplaceAllString(s, "/")
	s = dupDashRe.ReplaceAllString(s, "-")
	s = dupDotRe.ReplaceAllString(s, ".")
	s = strings.Trim(s, "./-")
	return s
}

func fallbackID(original string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(original))
	cleaned := make([]byte, 0, len(encoded))
	for i := 0; i < len(encoded) && len(cleaned) < 8; i++ {
		c := encoded[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			cleaned = append(cleaned, c)
		}
	}
	for len(cleaned) < 8 {
		cleaned = append(cleaned, 'x')
	}
	return string(cleaned)
}

// Acquire creates (or reuses) a worktree for taskID, owned by workerID.
func (m *Manager) Acquire(ctx context.Context, workerID, taskID string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeCount := 0
	for _, info := range m.active {
		if info.Active {
			activeCount++
		}
	}
	if activeCount >= m.maxWorktrees {
		return nil, core.ErrState("WORKTREE_LIMIT", fmt.Sprintf("max_worktrees=%d reached", m.maxWorktrees))
	}

	if ok, err := hasFreeDisk(m.baseDir, m.minFreeBytes); err == nil && !ok {
		return nil, core.ErrState("WORKTREE_DISK_LOW", "insufficient free disk space for a new worktree")
	}

	branch := BranchName(taskID)
	id := fmt.Sprintf("%s-%s", workerID, sanitizeRefComponent(taskID))
	path := filepath.Join(m.baseDir, id)

	if err := m.git.CreateWorktree(ctx, path, branch); err != nil {
		return nil, core.ErrExecution("WORKTREE_CREATE_FAILED", "creating worker worktree").WithCause(err)
	}

	info := &Info{
		ID:        id,
		Path:      path,
		Branch:    branch,
		WorkerID:  workerID,
		TaskID:    taskID,
		Active:    true,
		CreatedAt: time.Now(),
	}
	m.active[id] = info
	return info, nil
}

// Release marks info inactive and removes its worktree from disk,
// leaving the branch intact for the merge queue to consume.
func (m *Manager) Release(ctx context.Context, info *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.RemoveWorktree(ctx, info.Path); err != nil {
		return core.ErrExecution("WORKTREE_REMOVE_FAILED", "removing worker worktree").WithCause(err)
	}
	info.Active = false
	return nil
}

// CleanupAll removes every tracked worktree and its branch, then the
// base directory if it ends up empty.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.active {
		if !info.Active {
			continue
		}
		if err := m.git.RemoveWorktree(ctx, info.Path); err != nil {
			_ = os.RemoveAll(info.Path)
		}
		_ = m.git.DeleteBranchForce(ctx, info.Branch)
		info.Active = false
	}

	entries, err := os.ReadDir(m.baseDir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(m.baseDir)
	}
	return nil
}

// EnsureGitignore idempotently appends an ignore pattern for baseDir's
// relative worktree directory to the repo's .gitignore, marked with a
// comment so repeated calls don't duplicate the entry.
func EnsureGitignore(repoRoot, relativeWorktreeDir string) error {
	const marker = "# ralph worker worktrees"
	pattern := strings.TrimSuffix(relativeWorktreeDir, "/") + "/"

	path := filepath.Join(repoRoot, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return core.ErrExecution("GITIGNORE_READ_FAILED", "reading .gitignore").WithCause(err)
	}
	if strings.Contains(string(data), pattern) {
		return nil
	}

	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(marker)
	b.WriteString("\n")
	b.WriteString(pattern)
	b.WriteString("\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func hasFreeDisk(path string, minBytes int64) (bool, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return true, err
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return free >= minBytes, nil
}
