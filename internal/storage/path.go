package storage

import (
	"path"
	"strconv"
	"strings"
)

// Clean returns p as a "/"-rooted path without a trailing slash. The root is "/".
func Clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Join joins path elements under the root.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Within reports whether p is dir itself or lies below it. The comparison
// is case-insensitive, matching how Dropbox treats paths.
func Within(p, dir string) bool {
	p, dir = strings.ToLower(Clean(p)), strings.ToLower(Clean(dir))
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// HasExt reports whether name ends with one of exts (given without dots,
// case-insensitive). An empty exts matches everything.
func HasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, "."+strings.ToLower(strings.TrimPrefix(e, "."))) {
			return true
		}
	}
	return false
}

// Renamed returns the n-th alternative for a taken name: "a.pdf" -> "a (1).pdf".
func Renamed(p string, n int) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + " (" + strconv.Itoa(n) + ")" + ext
}
