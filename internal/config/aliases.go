package config

import (
	"regexp"
	"slices"
	"time"

	"github.com/Lllllllleong/paperdrop/internal/storage"
)

var (
	aliasToken   = regexp.MustCompile(`\{(\w+)\}`)
	builtinNames = map[string]struct{}{"books": {}, "papers": {}, "archive": {}, "latest": {}}
)

type Alias struct {
	Name string
	Path string
}

// Aliases is the fixed table of {name} path shortcuts.
type Aliases struct {
	entries []Alias
	index   map[string]string
}

// NewAliases builds the table: books, papers, archive, latest (the papers
// folder for now's month), then the user's extras sorted by name.
func NewAliases(dirs DirsConfig, extras map[string]string, now time.Time) *Aliases {
	a := &Aliases{index: make(map[string]string)}
	a.add("books", dirs.Books)
	a.add("papers", dirs.Papers)
	a.add("archive", dirs.Archive)
	a.add("latest", MonthFolder(dirs.Papers, now))

	names := make([]string, 0, len(extras))
	for name := range extras {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		a.add(name, extras[name])
	}
	return a
}

func (a *Aliases) add(name, path string) {
	if _, ok := a.index[name]; ok {
		return
	}
	p := storage.Clean(path)
	a.entries = append(a.entries, Alias{Name: name, Path: p})
	a.index[name] = p
}

// MonthFolder is the per-month subfolder new papers land in, e.g. /books/papers/2024-03.
func MonthFolder(papers string, now time.Time) string {
	return storage.Join(papers, now.Format("2006-01"))
}

func (a *Aliases) Lookup(name string) (string, bool) {
	p, ok := a.index[name]
	return p, ok
}

// Expand replaces every known {name} token; unknown tokens stay as written.
func (a *Aliases) Expand(s string) string {
	return aliasToken.ReplaceAllStringFunc(s, func(tok string) string {
		if p, ok := a.index[tok[1:len(tok)-1]]; ok {
			return p
		}
		return tok
	})
}

func (a *Aliases) Entries() []Alias {
	return slices.Clone(a.entries)
}
