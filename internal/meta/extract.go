// Package meta scrapes citation_* meta tags (Google Scholar style) out of
// paper landing pages.
package meta

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/Lllllllleong/paperdrop/internal/models"
)

const citationPrefix = "citation_"

// headingPattern matches arXiv page titles: "[2106.09608] Some Title".
var headingPattern = regexp.MustCompile(`^\[(\d+\.\d+(?:v\d+)?)\]\s+(.*)$`)

// Metadata maps citation keys (prefix stripped) to their values. A key seen
// once is a scalar; a repeated key is a list in document order.
type Metadata struct {
	keys   []string
	values map[string][]string

	// Heading is the text of the first <title> element.
	Heading string
}

// Get returns the first value stored under key.
func (m Metadata) Get(key string) (string, bool) {
	vs := m.values[key]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// All returns every value stored under key.
func (m Metadata) All(key string) []string {
	return m.values[key]
}

// IsList reports whether key occurred more than once.
func (m Metadata) IsList(key string) bool {
	return len(m.values[key]) > 1
}

// Keys returns the keys in first-seen order.
func (m Metadata) Keys() []string {
	return m.keys
}

// Len is the number of distinct keys.
func (m Metadata) Len() int {
	return len(m.keys)
}

func (m *Metadata) add(key, value string) {
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = append(m.values[key], value)
}

// Extract scans an HTML document for citation metadata. It never fails:
// malformed markup yields whatever was found before the tokenizer gave up.
func Extract(doc string) Metadata {
	var m Metadata
	z := html.NewTokenizer(strings.NewReader(doc))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return m
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				name, content := attr(tok, "name"), attr(tok, "content")
				if key, ok := strings.CutPrefix(name, citationPrefix); ok && key != "" {
					m.add(key, content)
				}
			case "title":
				inTitle = m.Heading == ""
			}
		case html.TextToken:
			if inTitle {
				m.Heading = strings.TrimSpace(string(z.Text()))
				inTitle = false
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Citation peels the known keys off the metadata into a typed record; the
// remaining keys land in Extra. When the citation tags carry no id or title,
// an arXiv style "[id] Title" heading fills them in.
func (m Metadata) Citation() models.Citation {
	c := models.Citation{Extra: make(map[string][]string)}
	known := map[string]bool{}
	take := func(keys ...string) string {
		for _, k := range keys {
			known[k] = true
		}
		for _, k := range keys {
			if v, ok := m.Get(k); ok && v != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	c.ID = take("arxiv_id", "id", "paper_id")
	c.Title = take("title")
	c.Date = take("date", "online_date", "publication_date")
	c.PDFURL = take("pdf_url")
	known["author"] = true
	for _, a := range m.All("author") {
		if a = strings.TrimSpace(a); a != "" {
			c.Authors = append(c.Authors, a)
		}
	}

	for _, k := range m.keys {
		if !known[k] {
			c.Extra[k] = m.values[k]
		}
	}

	if c.ID == "" || c.Title == "" {
		if match := headingPattern.FindStringSubmatch(m.Heading); match != nil {
			if c.ID == "" {
				c.ID = match[1]
			}
			if c.Title == "" {
				c.Title = strings.TrimSpace(match[2])
			}
		}
	}
	return c
}
