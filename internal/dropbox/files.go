package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/storage"
)

const searchPageSize = 1000

// record converts SDK metadata. Deleted entries and anything without a path
// are reported as not ok.
func record(md files.IsMetadata) (models.FileRecord, bool) {
	var rec models.FileRecord
	switch m := md.(type) {
	case *files.FileMetadata:
		if m == nil {
			return models.FileRecord{}, false
		}
		rec = models.FileRecord{
			ID:           m.Id,
			Name:         m.Name,
			Path:         m.PathDisplay,
			Kind:         models.KindFile,
			ContentHash:  m.ContentHash,
			Size:         int64(m.Size),
			LastModified: m.ServerModified,
		}
		if rec.Path == "" {
			rec.Path = m.PathLower
		}
	case *files.FolderMetadata:
		if m == nil {
			return models.FileRecord{}, false
		}
		rec = models.FileRecord{
			ID:   m.Id,
			Name: m.Name,
			Path: m.PathDisplay,
			Kind: models.KindFolder,
		}
		if rec.Path == "" {
			rec.Path = m.PathLower
		}
	default:
		return models.FileRecord{}, false
	}
	if rec.Path == "" {
		return models.FileRecord{}, false
	}
	rec.Raw = rawMap(md)
	return rec, true
}

func rawMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return nil
	}
	return m
}

func records(entries []files.IsMetadata) []models.FileRecord {
	out := make([]models.FileRecord, 0, len(entries))
	for _, e := range entries {
		if rec, ok := record(e); ok {
			out = append(out, rec)
		}
	}
	return out
}

// List returns every entry under path, following the cursor until the
// listing is complete.
func (c *Client) List(ctx context.Context, path string, recursive bool) ([]models.FileRecord, error) {
	arg := files.NewListFolderArg(apiPath(path))
	arg.Recursive = recursive

	var res *files.ListFolderResult
	err := c.call(ctx, "files/list_folder", true, func() (err error) {
		res, err = c.files.ListFolder(arg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	var out []models.FileRecord
	for {
		out = append(out, records(res.Entries)...)
		if !res.HasMore {
			break
		}
		next := files.NewListFolderContinueArg(res.Cursor)
		err := c.call(ctx, "files/list_folder/continue", true, func() (err error) {
			res, err = c.files.ListFolderContinue(next)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to continue listing %s: %w", path, err)
		}
	}
	c.log.Debug("listed folder", zap.String("path", path), zap.Int("entries", len(out)))
	return out, nil
}

func searchRecords(res *files.SearchV2Result) []models.FileRecord {
	entries := make([]files.IsMetadata, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m != nil && m.Metadata != nil && m.Metadata.Metadata != nil {
			entries = append(entries, m.Metadata.Metadata)
		}
	}
	return records(entries)
}

func (c *Client) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]models.FileRecord, error) {
	options := files.NewSearchOptions()
	options.Path = apiPath(opts.Path)
	options.MaxResults = searchPageSize
	options.FilenameOnly = opts.FilenameOnly
	options.FileExtensions = opts.Extensions
	arg := files.NewSearchV2Arg(query)
	arg.Options = options

	var res *files.SearchV2Result
	err := c.call(ctx, "files/search_v2", true, func() (err error) {
		res, err = c.files.SearchV2(arg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search for %q: %w", query, err)
	}
	var out []models.FileRecord
	for {
		out = append(out, searchRecords(res)...)
		if !opts.Exhaust || !res.HasMore {
			break
		}
		next := files.NewSearchV2ContinueArg(res.Cursor)
		err := c.call(ctx, "files/search/continue_v2", true, func() (err error) {
			res, err = c.files.SearchContinueV2(next)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to continue search for %q: %w", query, err)
		}
	}
	return out, nil
}

func (c *Client) Move(ctx context.Context, src, dst string, allowRename bool) (models.FileRecord, error) {
	arg := files.NewRelocationArg(apiPath(src), apiPath(dst))
	arg.Autorename = allowRename

	var res *files.RelocationResult
	err := c.call(ctx, "files/move_v2", true, func() (err error) {
		res, err = c.files.MoveV2(arg)
		return err
	})
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	rec, ok := record(res.Metadata)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("move of %s returned no metadata", src)
	}
	return rec, nil
}

func (c *Client) CreateFolder(ctx context.Context, path string) (models.FileRecord, error) {
	arg := files.NewCreateFolderArg(apiPath(path))

	var res *files.CreateFolderResult
	err := c.call(ctx, "files/create_folder_v2", true, func() (err error) {
		res, err = c.files.CreateFolderV2(arg)
		return err
	})
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	rec, ok := record(res.Metadata)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("create folder %s returned no metadata", path)
	}
	return rec, nil
}

// Upload sends r in a single request, so it is bounded by Dropbox's 150 MB
// limit for files/upload. The body is a stream and is never retried.
func (c *Client) Upload(ctx context.Context, r io.Reader, dst string) (models.FileRecord, error) {
	arg := files.NewUploadArg(apiPath(dst))
	arg.Autorename = true

	var res *files.FileMetadata
	err := c.call(ctx, "files/upload", false, func() (err error) {
		res, err = c.files.Upload(arg, r)
		return err
	})
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	rec, ok := record(res)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("upload of %s returned no metadata", dst)
	}
	return rec, nil
}

// SaveURL starts a server side download and returns its async job id.
func (c *Client) SaveURL(ctx context.Context, url, dst string) (string, error) {
	arg := files.NewSaveUrlArg(apiPath(dst), url)

	var res *files.SaveUrlResult
	err := c.call(ctx, "files/save_url", true, func() (err error) {
		res, err = c.files.SaveUrl(arg)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to save %s to %s: %w", url, dst, err)
	}
	c.log.Info("save_url started", zap.String("url", url), zap.String("path", dst), zap.String("jobId", res.AsyncJobId))
	return res.AsyncJobId, nil
}
