// Package progresslog maintains the append-only markdown progress
// journal each workspace keeps at `.ralph-tui/progress.md`, one entry
// per completed iteration.
package progresslog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ralphtui/ralph/internal/core"
)

const header = "# Ralph Progress Log\n\n## Codebase Patterns\n\n<!-- discovered conventions accumulate here across iterations -->\n\n"

// maxNoteLines is how many trailing lines of extracted notes are kept
// per iteration entry.
const maxNoteLines = 5

// completionMarker is the case-insensitive sentinel that ends the
// human-readable portion of an agent's output.
var completionMarkerRe = regexp.MustCompile(`(?i)<promise>\s*complete\s*</promise>`)

// linePrefixArtifactRe matches tool-output line-number prefixes such as
// "1234|some code", emitted by agents that echo file contents with
// line numbers.
var linePrefixArtifactRe = regexp.MustCompile(`^\s*\d{3,6}\|`)

// bareMarkerRe matches a line that is nothing but an XML-like tag.
var bareMarkerRe = regexp.MustCompile(`^\s*</?[a-zA-Z][\w:-]*\s*/?>\s*$`)

// punctuationOnlyRe matches a line composed solely of brackets and
// punctuation, with no alphanumeric content.
var punctuationOnlyRe = regexp.MustCompile(`^[\s\[\]{}()<>|:;,.\-_=*#~` + "`" + `]+$`)

// insightBlockRe extracts "★ Insight …" annotations from agent output.
var insightBlockRe = regexp.MustCompile(`★\s*Insight\s*(.*)$`)

// IterationResult is the data recorded for a single iteration.
type IterationResult struct {
	Iteration int
	TaskID    string
	TaskTitle string
	Success   bool
	Duration  time.Duration
	RawOutput string
}

// Log appends iteration entries to progress.md, creating the header and
// reserved Codebase Patterns section on first write.
type Log struct {
	mu   sync.Mutex
	path string
}

// New returns a Log writing to path (typically `<workspace>/.ralph-tui/progress.md`).
func New(path string) *Log {
	return &Log{path: path}
}

// DefaultPath returns `<workspace>/.ralph-tui/progress.md`.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".ralph-tui", "progress.md")
}

// Append records one iteration's outcome, creating the file (with
// header) on first call.
func (l *Log) Append(result IterationResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return core.ErrExecution("PROGRESS_DIR_FAILED", "creating progress log directory").WithCause(err)
	}

	needsHeader := false
	if _, err := os.Stat(l.path); err != nil {
		if !os.IsNotExist(err) {
			return core.ErrExecution("PROGRESS_STAT_FAILED", "checking progress log").WithCause(err)
		}
		needsHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return core.ErrExecution("PROGRESS_OPEN_FAILED", "opening progress log").WithCause(err)
	}
	defer f.Close()

	var b strings.Builder
	if needsHeader {
		b.WriteString(header)
	}
	b.WriteString(renderEntry(result))

	if _, err := f.WriteString(b.String()); err != nil {
		return core.ErrExecution("PROGRESS_WRITE_FAILED", "appending progress entry").WithCause(err)
	}
	return nil
}

func renderEntry(result IterationResult) string {
	mark := "✗"
	if result.Success {
		mark = "✓"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s Iteration %d\n\n", mark, result.Iteration)
	fmt.Fprintf(&b, "- Task: `%s` — %s\n", result.TaskID, result.TaskTitle)
	fmt.Fprintf(&b, "- Duration: %s\n", result.Duration.Round(time.Millisecond))

	notes := ExtractNotes(result.RawOutput)
	if len(notes) > 0 {
		b.WriteString("\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "%s\n", n)
		}
	}

	insights := ExtractInsights(result.RawOutput)
	if len(insights) > 0 {
		b.WriteString("\n")
		for _, ins := range insights {
			fmt.Fprintf(&b, "> ★ Insight %s\n", ins)
		}
	}

	b.WriteString("\n")
	return b.String()
}

// RecentEntries reads path and returns the last n "## " iteration
// sections verbatim, joined by blank lines, for use as a prompt's
// recent-progress summary. A missing file returns "".
func RecentEntries(path string, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", core.ErrExecution("PROGRESS_READ_FAILED", "reading progress log").WithCause(err)
	}

	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			if current.Len() > 0 {
				sections = append(sections, strings.TrimSpace(current.String()))
				current.Reset()
			}
		}
		if current.Len() > 0 || strings.HasPrefix(line, "## ") {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	if current.Len() > 0 {
		sections = append(sections, strings.TrimSpace(current.String()))
	}

	if len(sections) > n {
		sections = sections[len(sections)-n:]
	}
	return strings.Join(sections, "\n\n"), nil
}

// ExtractCompletionMarker reports whether raw contains the agent's task
// completion sentinel, `<promise>complete</promise>` (case-insensitive).
func ExtractCompletionMarker(raw string) bool {
	return completionMarkerRe.MatchString(raw)
}

// ExtractNotes filters raw agent output down to the last maxNoteLines
// human-readable lines preceding the completion marker, dropping
// line-numbered tool-output artifacts, bare XML-like markers, and
// punctuation-only lines.
func ExtractNotes(raw string) []string {
	loc := completionMarkerRe.FindStringIndex(raw)
	body := raw
	if loc != nil {
		body = raw[:loc[0]]
	}

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		if linePrefixArtifactRe.MatchString(trimmed) {
			continue
		}
		if bareMarkerRe.MatchString(trimmed) {
			continue
		}
		if punctuationOnlyRe.MatchString(trimmed) {
			continue
		}
		if insightBlockRe.MatchString(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}

	if len(kept) > maxNoteLines {
		kept = kept[len(kept)-maxNoteLines:]
	}
	return kept
}

// ExtractInsights returns the text following every "★ Insight" marker
// found in raw, in order of appearance.
func ExtractInsights(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if m := insightBlockRe.FindStringSubmatch(line); m != nil {
			text := strings.TrimSpace(m[1])
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
