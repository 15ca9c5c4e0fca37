package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/storage"
)

// Pair is a root file and the same-named file it was matched with.
type Pair struct {
	Root      string
	Candidate string
}

// SkipFunc reports whether a matched pair must be left alone.
type SkipFunc func(root, candidate models.FileRecord) bool

// SkipCheck is a named SkipFunc plus the pairs it stopped during one run.
type SkipCheck struct {
	Name    string
	Fn      SkipFunc
	Skipped []Pair
}

// SameHash fires when both files report the same content hash. Two unknown
// hashes count as equal.
func SameHash(root, candidate models.FileRecord) bool {
	return root.ContentHash == candidate.ContentHash
}

// CandidateOlder fires when the candidate was modified strictly before the
// root file, or when either time is unknown.
func CandidateOlder(root, candidate models.FileRecord) bool {
	if !root.HasModTime() || !candidate.HasModTime() {
		return true
	}
	return candidate.LastModified.Before(root.LastModified)
}

// DefaultChecks returns the hash check followed by the modtime check.
func DefaultChecks() []SkipCheck {
	return []SkipCheck{
		{Name: "hash", Fn: SameHash},
		{Name: "modtime", Fn: CandidateOlder},
	}
}

type SyncOptions struct {
	// Root is scanned (not recursively) for PDFs.
	Root string
	// SyncDir is searched for same-named files.
	SyncDir string
	// ArchiveDir receives superseded files. Files below it never match.
	ArchiveDir string
}

type SyncReport struct {
	Moved     []Pair
	Failed    []Pair
	Unmatched []string
	// Skipped holds every check with the pairs it stopped, in check order.
	Skipped []SkipCheck
}

// Reconciler moves PDFs from a root folder (where a tablet drops annotated
// copies) over their originals in the organized tree, archiving the
// originals. It never deletes anything.
type Reconciler struct {
	store  storage.Store
	checks []SkipCheck
	log    *zap.Logger
}

// NewReconciler uses DefaultChecks when checks is empty.
func NewReconciler(store storage.Store, log *zap.Logger, checks ...SkipCheck) *Reconciler {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &Reconciler{store: store, checks: checks, log: log}
}

// Reconcile runs one pass. Only the initial listing can fail the run; every
// later failure is logged, recorded in the report and skipped.
func (r *Reconciler) Reconcile(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	checks := make([]*SkipCheck, len(r.checks))
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		checks[i] = &SkipCheck{Name: c.Name, Fn: c.Fn}
		names[i] = c.Name
	}
	r.log.Info("early exit conditions", zap.Strings("checks", names))

	files, err := r.store.List(ctx, opts.Root, false)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list %s: %w", opts.Root, err)
	}

	var report SyncReport
	for _, file := range files {
		if !file.IsFile() || !strings.HasSuffix(file.Name, ".pdf") {
			continue
		}
		logCtx := r.log.With(zap.String("file", file.Path))

		found, err := r.store.Search(ctx, file.Name, storage.SearchOptions{Path: opts.SyncDir, FilenameOnly: true})
		if err != nil {
			logCtx.Error("failed to search for matches", zap.Error(err))
			report.Failed = append(report.Failed, Pair{Root: file.Path})
			continue
		}
		candidate, ok := firstCandidate(file, found, opts)
		if !ok {
			report.Unmatched = append(report.Unmatched, file.Path)
			continue
		}
		pair := Pair{Root: file.Path, Candidate: candidate.Path}
		logCtx = logCtx.With(zap.String("candidate", candidate.Path))

		if check := firstFiring(checks, file, candidate); check != nil {
			check.Skipped = append(check.Skipped, pair)
			logCtx.Debug("skipped", zap.String("check", check.Name))
			continue
		}

		archivePath := storage.Join(opts.ArchiveDir, candidate.Name)
		logCtx.Info("archiving", zap.String("to", archivePath))
		if _, err := r.store.Move(ctx, candidate.Path, archivePath, true); err != nil {
			logCtx.Error("failed to archive", zap.String("src", candidate.Path), zap.String("dst", archivePath), zap.Error(err))
			report.Failed = append(report.Failed, pair)
			continue
		}
		logCtx.Info("moving")
		if _, err := r.store.Move(ctx, file.Path, candidate.Path, false); err != nil {
			logCtx.Error("failed to move", zap.String("src", file.Path), zap.String("dst", candidate.Path), zap.Error(err))
			report.Failed = append(report.Failed, pair)
			continue
		}
		report.Moved = append(report.Moved, pair)
	}

	for _, c := range checks {
		r.log.Debug("skipped pairs", zap.String("check", c.Name), zap.Int("count", len(c.Skipped)))
		report.Skipped = append(report.Skipped, *c)
	}
	return report, nil
}

// firstCandidate picks the first search result that has the file's name,
// lies inside the sync dir, outside the archive, and is not the file itself.
// The order is whatever the backend returned.
func firstCandidate(file models.FileRecord, found []models.FileRecord, opts SyncOptions) (models.FileRecord, bool) {
	for _, f := range found {
		if !f.IsFile() || !strings.EqualFold(f.Name, file.Name) {
			continue
		}
		if strings.EqualFold(storage.Clean(f.Path), storage.Clean(file.Path)) {
			continue
		}
		if !storage.Within(f.Path, opts.SyncDir) || opts.ArchiveDir != "" && storage.Within(f.Path, opts.ArchiveDir) {
			continue
		}
		return f, true
	}
	return models.FileRecord{}, false
}

func firstFiring(checks []*SkipCheck, root, candidate models.FileRecord) *SkipCheck {
	for _, c := range checks {
		if c.Fn(root, candidate) {
			return c
		}
	}
	return nil
}
