package provider

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/meta"
	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/text"
)

// CitationProvider resolves papers hosted on sites that publish citation_*
// metadata on an abstract page. The URL templates carry an "{id}" placeholder.
type CitationProvider struct {
	Name   string
	AbsURL string
	PDFURL string

	fetcher HTMLFetcher
	log     *zap.Logger
}

func NewArxivProvider(fetcher HTMLFetcher, log *zap.Logger) *CitationProvider {
	return &CitationProvider{
		Name:    "arxiv",
		AbsURL:  "https://arxiv.org/abs/{id}",
		PDFURL:  "https://arxiv.org/pdf/{id}.pdf",
		fetcher: fetcher,
		log:     log.With(zap.String("provider", "arxiv")),
	}
}

func NewOpenReviewProvider(fetcher HTMLFetcher, log *zap.Logger) *CitationProvider {
	return &CitationProvider{
		Name:    "openreview",
		AbsURL:  "https://openreview.net/forum?id={id}",
		PDFURL:  "https://openreview.net/pdf?id={id}",
		fetcher: fetcher,
		log:     log.With(zap.String("provider", "openreview")),
	}
}

func (p *CitationProvider) absURL(id string) string {
	return strings.ReplaceAll(p.AbsURL, "{id}", id)
}

func (p *CitationProvider) pdfURL(id string) string {
	return strings.ReplaceAll(p.PDFURL, "{id}", id)
}

// PaperID pulls the paper id out of a token: the "id" query parameter, else
// the last path segment, else the bare token itself. A ".pdf" suffix is dropped.
func PaperID(token string) (string, error) {
	token = strings.TrimSpace(token)
	if !text.IsURL(token) {
		id := strings.Trim(strings.TrimSuffix(token, ".pdf"), "[]")
		if id == "" {
			return "", fmt.Errorf("no paper id in %q", token)
		}
		return id, nil
	}

	u, err := url.Parse(withScheme(token))
	if err != nil {
		return "", fmt.Errorf("failed to parse %q: %w", token, err)
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	if last == "." || last == "/" || last == "" {
		return "", fmt.Errorf("no paper id in %q", token)
	}
	return strings.TrimSuffix(last, ".pdf"), nil
}

func (p *CitationProvider) Resolve(ctx context.Context, token string) (models.Uploadable, error) {
	id, err := PaperID(token)
	if err != nil {
		return models.Uploadable{}, err
	}
	logCtx := p.log.With(zap.String("paperId", id))

	page, err := p.fetcher.Get(ctx, p.absURL(id))
	if err != nil {
		return models.Uploadable{}, fmt.Errorf("failed to fetch abstract page for %s: %w", id, err)
	}
	citation := meta.Extract(page).Citation()
	if citation.ID != "" && citation.ID != id {
		logCtx.Warn("page metadata id differs from requested id, keeping requested id",
			zap.String("metadataId", citation.ID))
	}
	citation.ID = id
	if citation.PDFURL == "" {
		citation.PDFURL = p.pdfURL(id)
	}

	name := id + ".pdf"
	if title := text.Normalize(citation.Title); title != "" {
		name = id + "_" + title + ".pdf"
	}
	logCtx.Debug("resolved paper", zap.String("filename", name), zap.String("title", citation.Title))
	return models.Uploadable{
		Filename: name,
		Source:   p.pdfURL(id),
		Citation: &citation,
	}, nil
}

// withScheme gives scheme-less URL tokens ("arxiv.org/abs/...") an https
// scheme so net/url puts the host where it belongs.
func withScheme(token string) string {
	lower := strings.ToLower(token)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return token
	}
	return "https://" + token
}
