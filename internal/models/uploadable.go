package models

// Uploadable is what a provider resolves a user token into: the file name to
// store under and where the bytes come from.
type Uploadable struct {
	Filename string
	// Source is a local filesystem path when it exists locally, otherwise a
	// remote URL for the backend to fetch.
	Source string
	// Citation is set by providers that scraped paper metadata.
	Citation *Citation
}

// Citation is the typed view of citation_* metadata scraped from a paper page.
type Citation struct {
	ID      string
	Title   string
	Authors []string
	Date    string
	PDFURL  string

	// Extra holds every citation key that has no field above, in document order per key.
	Extra map[string][]string
}
