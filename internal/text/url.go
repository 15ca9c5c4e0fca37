package text

import (
	"errors"
	"iter"
	"net/url"
	"path"
	"strings"
)

// ErrNoNameFound is returned by NameFrom when no candidate name carries a
// tracked extension. Callers fall back to a generic name.
var ErrNoNameFound = errors.New("no file name found in url")

// Extensions are the document extensions names are inferred for, in priority order.
var Extensions = []string{".pdf", ".epub"}

// tlds is deliberately short: bare tokens like "notes.md" or "paper.ps"
// should stay local paths.
var tlds = map[string]bool{
	"com": true, "net": true, "org": true, "edu": true, "gov": true, "mil": true,
	"int": true, "info": true, "biz": true, "io": true, "ai": true, "co": true,
	"dev": true, "app": true, "xyz": true, "me": true, "uk": true, "de": true,
	"fr": true, "jp": true, "cn": true, "ru": true, "ca": true, "au": true,
	"eu": true, "us": true, "nl": true, "ch": true, "it": true, "es": true,
	"se": true, "no": true, "fi": true, "dk": true, "pl": true, "cz": true,
	"at": true, "be": true, "br": true, "in": true, "kr": true,
}

// IsURL reports whether a token looks like a URL: an http(s) scheme, a
// www. host, or a bare domain with a known top-level domain.
func IsURL(token string) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" || strings.ContainsAny(t, " \t\n") {
		return false
	}
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(t, scheme) {
			return len(t) > len(scheme)
		}
	}
	if strings.HasPrefix(t, "www.") && len(t) > len("www.") {
		return true
	}
	host := t
	if i := strings.IndexAny(t, "/?:#"); i >= 0 {
		host = t[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 || strings.Contains(host, "@") {
		return false
	}
	for _, l := range labels {
		if l == "" || !isHostLabel(l) {
			return false
		}
	}
	return tlds[labels[len(labels)-1]]
}

func isHostLabel(l string) bool {
	for _, r := range l {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// PotentialNames yields likely file names for the document behind a URL,
// most likely first. For each tracked extension it yields the last path
// segment, then the "filename" query parameter, then any other query value
// with that extension. Every name is passed through NormalizeFilename.
//
// The sequence is a pure function of the URL and can be ranged over again.
func PotentialNames(rawURL string) iter.Seq[string] {
	return func(yield func(string) bool) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return
		}
		params := orderedQuery(u.RawQuery)
		for _, ext := range Extensions {
			for _, name := range candidates(u.Path, params, ext) {
				if !yield(NormalizeFilename(name)) {
					return
				}
			}
		}
	}
}

// NameFrom returns the first of PotentialNames.
func NameFrom(rawURL string) (string, error) {
	for name := range PotentialNames(rawURL) {
		return name, nil
	}
	return "", ErrNoNameFound
}

func candidates(urlPath string, params []queryParam, ext string) []string {
	var out []string
	if strings.HasSuffix(urlPath, ext) {
		out = append(out, path.Base(strings.TrimRight(urlPath, "/")))
	}
	seenFilename := false
	for _, p := range params {
		if p.key == "filename" && !seenFilename {
			seenFilename = true
			if strings.HasSuffix(p.value, ext) {
				out = append(out, p.value)
			}
		}
	}
	for _, p := range params {
		if p.key != "filename" && strings.HasSuffix(p.value, ext) {
			out = append(out, p.value)
		}
	}
	return out
}

type queryParam struct {
	key, value string
}

// orderedQuery parses a query string keeping parameter order, which
// url.Values does not.
func orderedQuery(raw string) []queryParam {
	var out []queryParam
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		out = append(out, queryParam{key: key, value: value})
	}
	return out
}
