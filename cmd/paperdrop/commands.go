package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/Lllllllleong/paperdrop/internal/cli"
	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/services"
)

func commands() []cli.Command[*app] {
	return []cli.Command[*app]{
		{Name: "ls", Help: "List a folder.", Args: &lsCmd{}},
		{Name: "put", Help: "Store a paper or book from a link, an arXiv id or a local file.", Args: &putCmd{}},
		{Name: "mv", Help: "Move or rename a file.", Args: &mvCmd{}},
		{Name: "sync", Help: "Move annotated copies from the root over their originals, archiving the originals.", Args: &syncCmd{}},
		{Name: "metafix", Help: "Rename PDFs named after bare ids to id and title.", Args: &metafixCmd{}},
		{Name: "s", Help: "Search file names.", Args: &searchCmd{}},
		{Name: "aliases", Help: "Show the {alias} tokens accepted in paths.", Args: &aliasesCmd{}},
	}
}

type lsCmd struct {
	Dir  string `arg:"" optional:"" default:"{books}" help:"Folder to list."`
	Long bool   `short:"l" help:"Show kind, size and modification time."`
}

func (c *lsCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	files, err := s.library.List(ctx, a.path(c.Dir))
	if err != nil {
		return err
	}
	if !c.Long {
		for _, f := range files {
			fmt.Fprintln(a.out, displayName(f))
		}
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, f := range files {
		size, modified := "-", "-"
		if f.IsFile() {
			size = humanize.Bytes(uint64(f.Size))
		}
		if f.HasModTime() {
			modified = humanize.Time(f.LastModified)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Kind, size, modified, displayName(f))
	}
	return w.Flush()
}

func displayName(f models.FileRecord) string {
	if f.Kind == models.KindFolder {
		return f.Name + "/"
	}
	return f.Name
}

type putCmd struct {
	Item       string `arg:"" help:"Link, arXiv id or local file."`
	Dir        string `default:"{papers}" help:"Destination folder. Papers land in this month's subfolder."`
	Name       string `default:"" help:"File name to store under instead of the derived one."`
	Dispatcher string `default:"" help:"Force a provider: arxiv, openreview, pdf, epub or local."`
	Yes        bool   `short:"y" help:"Do not ask about existing files with the same name."`
}

func (c *putCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	res, err := s.library.Put(ctx, c.Item, services.PutOptions{
		Dir:      a.path(c.Dir),
		Name:     c.Name,
		Provider: c.Dispatcher,
		Yes:      c.Yes,
	})
	if err != nil {
		return err
	}
	switch {
	case res.Cancelled:
		fmt.Fprintln(a.out, "cancelled")
	case res.Uploaded != nil:
		fmt.Fprintf(a.out, "uploaded %s (%s)\n", res.Path, humanize.Bytes(uint64(res.Uploaded.Size)))
	default:
		fmt.Fprintf(a.out, "saving %s (job %s)\n", res.Path, res.JobID)
	}
	return nil
}

type mvCmd struct {
	Src string `arg:"" help:"File or folder to move."`
	Dst string `arg:"" help:"New path."`
	Yes bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *mvCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	_, err = s.library.Move(ctx, a.path(c.Src), a.path(c.Dst), c.Yes)
	return err
}

type syncCmd struct {
	SyncDir    string `name:"syncdir" default:"{books}" help:"Tree searched for the originals."`
	ArchiveDir string `name:"archivedir" default:"{archive}" help:"Where superseded originals go."`
	Root       string `default:"/" help:"Folder holding the annotated copies."`
}

func (c *syncCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	report, err := s.reconciler.Reconcile(ctx, services.SyncOptions{
		Root:       a.path(c.Root),
		SyncDir:    a.path(c.SyncDir),
		ArchiveDir: a.path(c.ArchiveDir),
	})
	if err != nil {
		return err
	}
	for _, p := range report.Moved {
		fmt.Fprintf(a.out, "moved %s -> %s\n", p.Root, p.Candidate)
	}
	skipped := make([]string, 0, len(report.Skipped))
	for _, check := range report.Skipped {
		skipped = append(skipped, fmt.Sprintf("%s: %d", check.Name, len(check.Skipped)))
	}
	fmt.Fprintf(a.out, "%d moved, %d failed, %d unmatched, skipped (%s)\n",
		len(report.Moved), len(report.Failed), len(report.Unmatched), strings.Join(skipped, ", "))
	return nil
}

type metafixCmd struct {
	DryRun bool `name:"dry-run" help:"Only print the renames."`
}

func (c *metafixCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	report, err := s.library.Metafix(ctx, c.DryRun)
	if err != nil {
		return err
	}
	verb := "renamed"
	if c.DryRun {
		verb = "would rename"
	}
	for _, p := range report.Renamed {
		fmt.Fprintf(a.out, "%s %s -> %s\n", verb, p.From, p.To)
	}
	fmt.Fprintf(a.out, "%d scanned, %d %s, %d unchanged, %d unmatched, %d failed\n",
		report.Scanned, len(report.Renamed), verb, report.Unchanged, report.Unmatched, len(report.Failed))
	return nil
}

type searchCmd struct {
	Query string   `arg:"" help:"Text to look for in file names."`
	Ext   []string `help:"Only these extensions, e.g. --ext pdf,epub."`
}

func (c *searchCmd) Run(ctx context.Context, a *app) error {
	s, err := a.services(ctx)
	if err != nil {
		return err
	}
	files, err := s.library.Search(ctx, c.Query, c.Ext)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(a.out, f.Path)
	}
	return nil
}

type aliasesCmd struct{}

func (c *aliasesCmd) Run(_ context.Context, a *app) error {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, al := range a.aliases.Entries() {
		fmt.Fprintf(w, "{%s}\t%s\n", al.Name, al.Path)
	}
	return w.Flush()
}
