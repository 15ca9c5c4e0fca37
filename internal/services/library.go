package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/config"
	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/provider"
	"github.com/Lllllllleong/paperdrop/internal/storage"
)

// Resolver finds the providers able to handle a token.
type Resolver interface {
	Resolve(token string) iter.Seq[provider.ResolveFunc]
	ResolveByName(name string) iter.Seq[provider.ResolveFunc]
}

// Notes is the optional secondary record of ingested papers.
type Notes interface {
	RecordPaper(ctx context.Context, p models.Paper) error
}

type LibraryConfig struct {
	// PapersDir receives new papers in per-month subfolders.
	PapersDir string
	// Confirm asks the user a yes/no question. Nil answers yes.
	Confirm func(question string) bool
	// Notes may be nil.
	Notes Notes
	Now   func() time.Time
}

// Library implements the file commands on top of a storage backend.
type Library struct {
	store    storage.Store
	resolver Resolver
	config   LibraryConfig
	log      *zap.Logger
}

func NewLibrary(store storage.Store, resolver Resolver, config LibraryConfig, log *zap.Logger) *Library {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Confirm == nil {
		config.Confirm = func(string) bool { return true }
	}
	return &Library{store: store, resolver: resolver, config: config, log: log}
}

// List returns the immediate children of dir.
func (l *Library) List(ctx context.Context, dir string) ([]models.FileRecord, error) {
	files, err := l.store.List(ctx, dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return files, nil
}

// Search looks for files whose name matches query, optionally restricted to
// extensions (without dots).
func (l *Library) Search(ctx context.Context, query string, exts []string) ([]models.FileRecord, error) {
	files, err := l.store.Search(ctx, query, storage.SearchOptions{FilenameOnly: true, Extensions: exts})
	if err != nil {
		return nil, fmt.Errorf("failed to search for %q: %w", query, err)
	}
	return files, nil
}

// Move renames src to dst after confirmation. It reports false when the
// user declined.
func (l *Library) Move(ctx context.Context, src, dst string, yes bool) (bool, error) {
	if !yes && !l.config.Confirm(fmt.Sprintf("Moving: %s -> %s. Continue?", src, dst)) {
		l.log.Info("cancelled move", zap.String("src", src), zap.String("dst", dst))
		return false, nil
	}
	rec, err := l.store.Move(ctx, src, dst, false)
	if err != nil {
		return false, fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	l.log.Info("moved", zap.String("src", src), zap.String("dst", rec.Path))
	return true, nil
}

type PutOptions struct {
	Dir string
	// Name replaces the provider's file name when set.
	Name string
	// Provider picks a provider by name instead of by matching the item.
	Provider string
	// Yes skips the duplicate confirmation.
	Yes bool
}

type PutResult struct {
	Path string
	// Uploaded is set for local files.
	Uploaded *models.FileRecord
	// JobID is set when the backend was asked to fetch a URL.
	JobID     string
	Cancelled bool
}

// Put resolves item to a file and stores it in opts.Dir. Items bound for the
// papers folder go to its current month subfolder. A local source is
// uploaded; anything else is handed to the backend as a URL.
func (l *Library) Put(ctx context.Context, item string, opts PutOptions) (PutResult, error) {
	logCtx := l.log.With(zap.String("item", item))

	seq := l.resolver.Resolve(item)
	if opts.Provider != "" {
		seq = l.resolver.ResolveByName(opts.Provider)
	}
	resolve, ok := provider.First(seq)
	if !ok {
		logCtx.Error("failed to find a provider", zap.String("provider", opts.Provider))
		return PutResult{}, fmt.Errorf("%w: %s", provider.ErrNoProvider, item)
	}
	up, err := resolve(ctx, item)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to resolve %s: %w", item, err)
	}
	if opts.Name != "" {
		logCtx.Debug("overriding file name", zap.String("from", up.Filename), zap.String("to", opts.Name))
		up.Filename = opts.Name
	}

	cancelled, err := l.checkDuplicates(ctx, up.Filename, opts.Yes)
	if err != nil {
		return PutResult{}, err
	}
	if cancelled {
		logCtx.Info("cancelled due to duplicate files")
		return PutResult{Cancelled: true}, nil
	}

	dir := storage.Clean(opts.Dir)
	if l.config.PapersDir != "" && dir == storage.Clean(l.config.PapersDir) {
		dir = l.ensureMonthFolder(ctx, dir)
	}
	dest := storage.Join(dir, up.Filename)
	logCtx = logCtx.With(zap.String("source", up.Source), zap.String("path", dest))

	result := PutResult{Path: dest}
	if local, ok := localFile(up.Source); ok {
		logCtx.Info("uploading local file")
		rec, err := l.upload(ctx, local, dest)
		if err != nil {
			return PutResult{}, err
		}
		result.Uploaded = &rec
		result.Path = rec.Path
	} else {
		logCtx.Info("transferring url")
		jobID, err := l.store.SaveURL(ctx, up.Source, dest)
		if err != nil {
			return PutResult{}, fmt.Errorf("failed to save %s: %w", up.Source, err)
		}
		logCtx.Info("transfer started", zap.String("jobId", jobID))
		result.JobID = jobID
	}

	l.recordNotes(ctx, logCtx, up, result.Path)
	return result, nil
}

// checkDuplicates searches for files already carrying name and asks whether
// to go on. It reports true when the user backed out.
func (l *Library) checkDuplicates(ctx context.Context, name string, yes bool) (bool, error) {
	var exts []string
	if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
		exts = []string{ext}
	}
	existing, err := l.store.Search(ctx, name, storage.SearchOptions{FilenameOnly: true, Extensions: exts})
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicates of %s: %w", name, err)
	}
	if len(existing) == 0 || yes {
		return false, nil
	}
	names := make([]string, 0, len(existing))
	for _, f := range existing {
		names = append(names, f.Path)
	}
	return !l.config.Confirm(fmt.Sprintf("Found: %v. Continue?", names)), nil
}

// ensureMonthFolder creates the current month's folder below dir and
// returns it. Failures other than "already exists" fall back to dir.
func (l *Library) ensureMonthFolder(ctx context.Context, dir string) string {
	month := config.MonthFolder(dir, l.config.Now())
	_, err := l.store.CreateFolder(ctx, month)
	switch {
	case err == nil:
		l.log.Info("created folder", zap.String("path", month))
	case errors.Is(err, storage.ErrAlreadyExists):
		l.log.Info("folder exists", zap.String("path", month))
	default:
		l.log.Warn("failed to create month folder, using parent", zap.String("path", month), zap.Error(err))
		return dir
	}
	return month
}

func localFile(source string) (string, bool) {
	p := provider.ExpandHome(source)
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return p, true
}

func (l *Library) upload(ctx context.Context, local, dest string) (models.FileRecord, error) {
	f, err := os.Open(local)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("could not open local file %s: %w", local, err)
	}
	defer f.Close()
	rec, err := l.store.Upload(ctx, f, dest)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to upload %s: %w", local, err)
	}
	return rec, nil
}

// recordNotes writes the paper to the notes collection. It never fails the put.
func (l *Library) recordNotes(ctx context.Context, logCtx *zap.Logger, up models.Uploadable, storedAt string) {
	if l.config.Notes == nil || up.Citation == nil {
		return
	}
	paper := models.Paper{
		PaperID:     up.Citation.ID,
		Title:       up.Citation.Title,
		Authors:     up.Citation.Authors,
		Date:        up.Citation.Date,
		Source:      up.Source,
		StoragePath: storedAt,
		Filename:    path.Base(storedAt),
		RecordedAt:  l.config.Now().UTC(),
	}
	if err := l.config.Notes.RecordPaper(ctx, paper); err != nil {
		logCtx.Warn("failed to record paper notes", zap.Error(err))
		return
	}
	logCtx.Debug("recorded paper notes", zap.String("paperId", paper.PaperID))
}

// RenamePlan is one metafix rename.
type RenamePlan struct {
	From string
	To   string
}

type MetafixReport struct {
	Scanned   int
	Unmatched int
	Unchanged int
	Renamed   []RenamePlan
	Failed    []RenamePlan
}

// Metafix renames PDFs whose names a provider can improve on, such as bare
// arXiv ids. Per-file failures are logged and skipped.
func (l *Library) Metafix(ctx context.Context, dryRun bool) (MetafixReport, error) {
	l.log.Info("listing all pdf files")
	files, err := l.store.Search(ctx, "pdf", storage.SearchOptions{Extensions: []string{"pdf"}, Exhaust: true})
	if err != nil {
		return MetafixReport{}, fmt.Errorf("failed to list pdf files: %w", err)
	}
	l.log.Info("looking for files to rename", zap.Int("count", len(files)))

	var report MetafixReport
	for _, file := range files {
		if !file.IsFile() {
			continue
		}
		report.Scanned++
		logCtx := l.log.With(zap.String("path", file.Path))

		resolve, ok := provider.First(l.resolver.Resolve(file.Name))
		if !ok {
			report.Unmatched++
			continue
		}
		up, err := resolve(ctx, file.Name)
		if err != nil {
			logCtx.Error("failed to resolve", zap.Error(err))
			report.Failed = append(report.Failed, RenamePlan{From: file.Path})
			continue
		}
		if up.Filename == "" || up.Filename == file.Name {
			report.Unchanged++
			continue
		}

		plan := RenamePlan{From: file.Path, To: storage.Join(path.Dir(file.Path), up.Filename)}
		if dryRun {
			logCtx.Info("would rename", zap.String("to", plan.To))
			report.Renamed = append(report.Renamed, plan)
			continue
		}
		logCtx.Info("renaming", zap.String("to", plan.To))
		if _, err := l.store.Move(ctx, plan.From, plan.To, false); err != nil {
			logCtx.Error("failed to rename", zap.String("to", plan.To), zap.Error(err))
			report.Failed = append(report.Failed, plan)
			continue
		}
		report.Renamed = append(report.Renamed, plan)
	}
	return report, nil
}
