package audit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphtui/ralph/internal/audit"
)

func TestAppendAndReadRecent_ReverseChronological(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := audit.New(path)

	for i, action := range []string{"check_config", "push_config", "start_run"} {
		require.NoError(t, log.Append(audit.Entry{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			ClientID:  "client-1",
			Action:    action,
			Success:   true,
		}))
	}

	entries, err := log.ReadRecent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "start_run", entries[0].Action)
	assert.Equal(t, "push_config", entries[1].Action)
}

func TestReadRecent_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"client_id\":\"c\",\"action\":\"ok\",\"success\":true}\n"), 0o600))

	log := audit.New(path)
	entries, err := log.ReadRecent(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Action)
}

func TestReadRecent_MissingFileReturnsEmpty(t *testing.T) {
	log := audit.New(filepath.Join(t.TempDir(), "missing.log"))
	entries, err := log.ReadRecent(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppend_RotatesWhenOverMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	big := make([]byte, audit.MaxBytes+10)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, big, 0o600))

	log := audit.New(path)
	require.NoError(t, log.Append(audit.Entry{ClientID: "c", Action: "after_rotation", Success: true}))

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	rotatedCount := 0
	for _, e := range entries {
		if e.Name() != "audit.log" {
			rotatedCount++
		}
	}
	assert.Equal(t, 1, rotatedCount, "oversized log should be rotated aside before the new entry is written")

	fresh, err := log.ReadRecent(1)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "after_rotation", fresh[0].Action)
}
