package progresslog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphtui/ralph/internal/progresslog"
)

func TestAppend_CreatesHeaderOnFirstWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ralph-tui", "progress.md")
	log := progresslog.New(path)

	require.NoError(t, log.Append(progresslog.IterationResult{
		Iteration: 1,
		TaskID:    "T1",
		TaskTitle: "Add widget",
		Success:   true,
		Duration:  2 * time.Second,
		RawOutput: "did the thing\n<promise>COMPLETE</promise>",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Codebase Patterns")
	assert.Contains(t, content, "## ✓ Iteration 1")
	assert.Contains(t, content, "T1")
	assert.Contains(t, content, "did the thing")
}

func TestAppend_SecondCallDoesNotRepeatHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	log := progresslog.New(path)

	require.NoError(t, log.Append(progresslog.IterationResult{Iteration: 1, TaskID: "T1", Success: true}))
	require.NoError(t, log.Append(progresslog.IterationResult{Iteration: 2, TaskID: "T2", Success: false}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Equal(t, 1, strings.Count(content, "Codebase Patterns"))
	assert.Contains(t, content, "## ✗ Iteration 2")
}

func TestExtractNotes_FiltersArtifactsAndTruncatesCompletionMarker(t *testing.T) {
	raw := "1234|some source line\n" +
		"</tag>\n" +
		"[---]\n" +
		"Implemented the feature correctly.\n" +
		"Verified with a manual check.\n" +
		"<promise>complete</promise>\nThis should not appear"

	notes := progresslog.ExtractNotes(raw)
	require.Len(t, notes, 2)
	assert.Equal(t, "Implemented the feature correctly.", notes[0])
	assert.Equal(t, "Verified with a manual check.", notes[1])
}

func TestExtractNotes_KeepsOnlyLastFiveLines(t *testing.T) {
	var raw string
	for i := 1; i <= 8; i++ {
		raw += "note line number " + string(rune('0'+i)) + "\n"
	}
	notes := progresslog.ExtractNotes(raw)
	assert.Len(t, notes, 5)
}

func TestExtractInsights_CollectsMarkedLines(t *testing.T) {
	raw := "regular line\n★ Insight the cache was stale\nanother line\n★ Insight retries need jitter"
	insights := progresslog.ExtractInsights(raw)
	require.Len(t, insights, 2)
	assert.Equal(t, "the cache was stale", insights[0])
	assert.Equal(t, "retries need jitter", insights[1])
}
