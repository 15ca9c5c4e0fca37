package provider

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/text"
)

// ErrNoProvider means no matcher understood the token.
var ErrNoProvider = errors.New("no provider can handle this item")

var arxivID = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)

// Dispatcher holds two ordered matcher pools, one for URL tokens and one for
// everything else. The pools are fixed at construction.
type Dispatcher struct {
	urlMatchers    []Matcher
	nonURLMatchers []Matcher
	log            *zap.Logger
}

// NewDispatcher registers the built-in providers.
func NewDispatcher(fetcher HTMLFetcher, log *zap.Logger) *Dispatcher {
	arxiv := NewArxivProvider(fetcher, log)
	openreview := NewOpenReviewProvider(fetcher, log)

	d := &Dispatcher{log: log}
	d.RegisterURL(
		NewMatcher("arxiv", func(t string) bool { return strings.Contains(t, "arxiv") }, arxiv.Resolve),
		NewMatcher("openreview", func(t string) bool { return strings.Contains(t, "openreview.net") }, openreview.Resolve),
		NewMatcher("pdf", urlPathHasExt(".pdf"), resolveDirectLink(".pdf")),
		NewMatcher("epub", urlPathHasExt(".epub"), resolveDirectLink(".epub")),
	)
	d.RegisterNonURL(
		NewMatcher("arxiv", isArxivID, arxiv.Resolve),
		NewMatcher("local", isLocalFile, resolveLocal),
	)
	return d
}

// RegisterURL appends matchers to the URL pool.
func (d *Dispatcher) RegisterURL(ms ...Matcher) {
	d.urlMatchers = append(d.urlMatchers, ms...)
}

// RegisterNonURL appends matchers to the non-URL pool.
func (d *Dispatcher) RegisterNonURL(ms ...Matcher) {
	d.nonURLMatchers = append(d.nonURLMatchers, ms...)
}

// Resolve yields, in registration order, the resolve functions of every
// matcher in the token's pool that accepts the token.
func (d *Dispatcher) Resolve(token string) iter.Seq[ResolveFunc] {
	pool := d.nonURLMatchers
	if text.IsURL(token) {
		pool = d.urlMatchers
	}
	return func(yield func(ResolveFunc) bool) {
		for _, m := range pool {
			if !m.Matches(token) {
				continue
			}
			d.log.Debug("matcher accepted item", zap.String("matcher", m.Name()), zap.String("item", token))
			if !yield(m.Resolve) {
				return
			}
		}
	}
}

// ResolveByName yields the resolve functions of every matcher called name,
// URL pool first. Matches is not consulted.
func (d *Dispatcher) ResolveByName(name string) iter.Seq[ResolveFunc] {
	return func(yield func(ResolveFunc) bool) {
		for _, pool := range [][]Matcher{d.urlMatchers, d.nonURLMatchers} {
			for _, m := range pool {
				if m.Name() == name && !yield(m.Resolve) {
					return
				}
			}
		}
	}
}

// Names lists the distinct matcher names, URL pool first.
func (d *Dispatcher) Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range append(append([]Matcher{}, d.urlMatchers...), d.nonURLMatchers...) {
		if !seen[m.Name()] {
			seen[m.Name()] = true
			names = append(names, m.Name())
		}
	}
	return names
}

// First returns the first resolve function of seq.
func First(seq iter.Seq[ResolveFunc]) (ResolveFunc, bool) {
	for fn := range seq {
		return fn, true
	}
	return nil, false
}

func isArxivID(token string) bool {
	return arxivID.MatchString(strings.Trim(strings.TrimSuffix(token, ".pdf"), "[]"))
}

func urlPathHasExt(ext string) func(string) bool {
	return func(token string) bool {
		u, err := url.Parse(withScheme(token))
		if err != nil {
			return false
		}
		return strings.HasSuffix(u.Path, ext)
	}
}

// resolveDirectLink names a plain document link after the URL, falling back
// to "Untitled<ext>".
func resolveDirectLink(ext string) ResolveFunc {
	return func(_ context.Context, token string) (models.Uploadable, error) {
		source := withScheme(token)
		name, err := text.NameFrom(source)
		if errors.Is(err, text.ErrNoNameFound) {
			name = "Untitled" + ext
		}
		return models.Uploadable{Filename: name, Source: source}, nil
	}
}

func isLocalFile(token string) bool {
	_, err := os.Stat(ExpandHome(token))
	return err == nil
}

func resolveLocal(_ context.Context, token string) (models.Uploadable, error) {
	p := ExpandHome(token)
	return models.Uploadable{Filename: filepath.Base(p), Source: p}, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
