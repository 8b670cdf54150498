// Package remotebook manages the client-side address book of remote
// ralph daemons at `<user_config_dir>/remotes.toml`, backing the
// `remote {add|list|remove}` CLI surface.
package remotebook

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/ralphtui/ralph/internal/core"
)

// Remote is one bookmarked remote daemon.
type Remote struct {
	Name    string `toml:"name"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Token   string `toml:"token,omitempty"`
	Default bool   `toml:"default,omitempty"`
}

type document struct {
	Remote map[string]Remote `toml:"remote"`
}

// Book reads and writes the remotes.toml address book.
type Book struct {
	path string
}

// New returns a Book backed by path (typically `<user_config_dir>/remotes.toml`).
func New(path string) *Book {
	return &Book{path: path}
}

// DefaultPath returns `<user_config_dir>/remotes.toml`.
func DefaultPath(userConfigDir string) string {
	return filepath.Join(userConfigDir, "remotes.toml")
}

// List returns every bookmarked remote, sorted by name.
func (b *Book) List() ([]Remote, error) {
	doc, err := b.read()
	if err != nil {
		return nil, err
	}
	out := make([]Remote, 0, len(doc.Remote))
	for _, r := range doc.Remote {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the bookmarked remote named name, if present.
func (b *Book) Get(name string) (Remote, bool, error) {
	doc, err := b.read()
	if err != nil {
		return Remote{}, false, err
	}
	r, ok := doc.Remote[name]
	return r, ok, nil
}

// Add inserts or replaces the bookmark named remote.Name.
func (b *Book) Add(remote Remote) error {
	doc, err := b.read()
	if err != nil {
		return err
	}
	if doc.Remote == nil {
		doc.Remote = make(map[string]Remote)
	}
	if remote.Default {
		for name, existing := range doc.Remote {
			if existing.Default {
				existing.Default = false
				doc.Remote[name] = existing
			}
		}
	}
	doc.Remote[remote.Name] = remote
	return b.write(doc)
}

// Remove deletes the bookmark named name. A missing name is a no-op.
func (b *Book) Remove(name string) error {
	doc, err := b.read()
	if err != nil {
		return err
	}
	delete(doc.Remote, name)
	return b.write(doc)
}

func (b *Book) read() (document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Remote: make(map[string]Remote)}, nil
		}
		return document{}, core.ErrExecution("REMOTEBOOK_READ_FAILED", "reading remotes.toml").WithCause(err)
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return document{}, core.ErrExecution("REMOTEBOOK_PARSE_FAILED", "parsing remotes.toml").WithCause(err)
	}
	if doc.Remote == nil {
		doc.Remote = make(map[string]Remote)
	}
	return doc, nil
}

func (b *Book) write(doc document) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		return core.ErrExecution("REMOTEBOOK_DIR_FAILED", "creating remotes.toml directory").WithCause(err)
	}

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return core.ErrExecution("REMOTEBOOK_OPEN_FAILED", "opening remotes.toml for write").WithCause(err)
	}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return core.ErrExecution("REMOTEBOOK_ENCODE_FAILED", "encoding remotes.toml").WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return core.ErrExecution("REMOTEBOOK_CLOSE_FAILED", "closing remotes.toml").WithCause(err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return core.ErrExecution("REMOTEBOOK_RENAME_FAILED", "replacing remotes.toml").WithCause(err)
	}
	return nil
}
