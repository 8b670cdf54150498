// Package template renders tracker-supplied prompt templates.
//
// Tracker plugins own their own template string; the engine here only
// understands a fixed variable set and a Mustache-compatible `{{name}}`
// substitution syntax. It never executes arbitrary logic, unlike
// text/template — a tracker's template is untrusted-ish user content,
// not Go source.
package template

import (
	"strconv"
	"strings"
)

// Vars is the fixed variable set a rendered prompt may reference.
// Any field left unset renders as an empty string, never as the
// literal "{{name}}" placeholder.
type Vars struct {
	TaskID           string
	TaskTitle        string
	TaskDescription  string
	TaskStatus       string
	TaskPriority     int
	TaskLabels       []string
	TaskAcceptance   string
	Iteration        int
	TotalIterations  int
	ProgressSummary  string
	CodebasePatterns []string
	PRDContext       string
}

var placeholderNames = map[string]func(Vars) string{
	"taskId":          func(v Vars) string { return v.TaskID },
	"taskTitle":       func(v Vars) string { return v.TaskTitle },
	"taskDescription": func(v Vars) string { return v.TaskDescription },
	"taskStatus":      func(v Vars) string { return v.TaskStatus },
	"taskPriority":    func(v Vars) string { return strconv.Itoa(v.TaskPriority) },
	"taskLabels":      func(v Vars) string { return strings.Join(v.TaskLabels, ", ") },
	"taskAcceptance":  func(v Vars) string { return v.TaskAcceptance },
	"iteration":       func(v Vars) string { return strconv.Itoa(v.Iteration) },
	"totalIterations": func(v Vars) string { return totalIterationsString(v.TotalIterations) },
	"progressSummary": func(v Vars) string { return v.ProgressSummary },
	"codebasePatterns": func(v Vars) string {
		if len(v.CodebasePatterns) == 0 {
			return ""
		}
		return strings.Join(v.CodebasePatterns, "\n")
	},
	"prdContext": func(v Vars) string { return v.PRDContext },
}

func totalIterationsString(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

// Render substitutes every `{{name}}` placeholder in tmpl with the
// corresponding value from vars. Unrecognized placeholders and
// placeholders whose field is unset both render as the empty string;
// nothing in the output ever retains literal mustache braces for a
// variable that was part of the fixed set, recognized or not.
func Render(tmpl string, vars Vars) string {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			// Unterminated placeholder: emit the raw opening tag and stop scanning.
			b.WriteString("{{")
			b.WriteString(rest)
			break
		}

		name := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		if fn, ok := placeholderNames[name]; ok {
			b.WriteString(fn(vars))
		}
		// Unknown variable names render empty, matching the fixed-set contract.
	}
	return b.String()
}
