package gcp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/paperdrop/internal/models"
	store "github.com/Lllllllleong/paperdrop/internal/storage"
)

const (
	maxRenames     = 100
	maxSaveRetries = 4
	searchLimit    = 1000
)

type BucketStoreConfig struct {
	Bucket string
	// CredentialsFile is optional; application default credentials are used otherwise.
	CredentialsFile string
	// Backoff is the first delay between SaveURL attempts.
	Backoff time.Duration
}

// BucketStore keeps the file tree in a Cloud Storage bucket. Paths map to
// object names without the leading "/"; folders are zero byte "dir/" objects.
type BucketStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	http   *http.Client
	config BucketStoreConfig
	log    *zap.Logger
}

var _ store.Store = (*BucketStore)(nil)

func NewBucketStore(ctx context.Context, config BucketStoreConfig, log *zap.Logger) (*BucketStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name must be provided to create a bucket store")
	}
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return newBucketStore(client, &http.Client{Timeout: 5 * time.Minute}, config, log), nil
}

func newBucketStore(client *storage.Client, hc *http.Client, config BucketStoreConfig, log *zap.Logger) *BucketStore {
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	return &BucketStore{
		client: client,
		bucket: client.Bucket(config.Bucket),
		http:   hc,
		config: config,
		log:    log.With(zap.String("backend", "gcs"), zap.String("bucket", config.Bucket)),
	}
}

func (s *BucketStore) Close() error {
	return s.client.Close()
}

// objectName maps "/books/a.pdf" to "books/a.pdf" and the root to "".
func objectName(p string) string {
	return strings.TrimPrefix(store.Clean(p), "/")
}

// dirPrefix is the listing prefix for a folder path.
func dirPrefix(p string) string {
	name := objectName(p)
	if name == "" {
		return ""
	}
	return name + "/"
}

func contentHash(attrs *storage.ObjectAttrs) string {
	if len(attrs.MD5) > 0 {
		return hex.EncodeToString(attrs.MD5)
	}
	if attrs.CRC32C != 0 {
		return fmt.Sprintf("crc32c:%08x", attrs.CRC32C)
	}
	return ""
}

// recordFromAttrs converts a listing entry. Synthetic prefixes from a
// delimited listing and "dir/" placeholders both become folders.
func recordFromAttrs(attrs *storage.ObjectAttrs) models.FileRecord {
	if attrs.Prefix != "" {
		p := "/" + strings.TrimSuffix(attrs.Prefix, "/")
		return models.FileRecord{ID: attrs.Prefix, Name: path.Base(p), Path: p, Kind: models.KindFolder}
	}
	p := "/" + strings.TrimSuffix(attrs.Name, "/")
	rec := models.FileRecord{
		ID:           fmt.Sprintf("%s#%d", attrs.Name, attrs.Generation),
		Name:         path.Base(p),
		Path:         p,
		Kind:         models.KindFile,
		LastModified: attrs.Updated,
		ContentHash:  contentHash(attrs),
		Size:         attrs.Size,
		Raw: map[string]any{
			"bucket":      attrs.Bucket,
			"name":        attrs.Name,
			"generation":  attrs.Generation,
			"contentType": attrs.ContentType,
		},
	}
	if strings.HasSuffix(attrs.Name, "/") {
		rec.Kind = models.KindFolder
		rec.ContentHash = ""
	}
	return rec
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// writeIfAbsent writes r to an object only if it doesn't already exist.
// The precondition failure surfaces as store.ErrAlreadyExists. A failed read
// from r abandons the upload, so no partial object is left behind.
func (s *BucketStore) writeIfAbsent(ctx context.Context, name string, r io.Reader, contentType string) (*storage.ObjectAttrs, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(wctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, r); err != nil {
		// Closing would commit what was written so far.
		cancel()
		if isPreconditionFailed(err) {
			return nil, fmt.Errorf("object %s: %w", name, store.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil, fmt.Errorf("object %s: %w", name, store.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return writer.Attrs(), nil
}

func (s *BucketStore) List(ctx context.Context, p string, recursive bool) ([]models.FileRecord, error) {
	prefix := dirPrefix(p)
	q := &storage.Query{Prefix: prefix}
	if !recursive {
		q.Delimiter = "/"
	}
	var out []models.FileRecord
	it := s.bucket.Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", p, err)
		}
		if attrs.Name == prefix && attrs.Prefix == "" {
			continue
		}
		out = append(out, recordFromAttrs(attrs))
	}
	s.log.Debug("listed folder", zap.String("path", p), zap.Int("entries", len(out)))
	return out, nil
}

// Search lists the subtree and matches query against object names,
// case-insensitively. Object contents are not searchable in a bucket, so
// FilenameOnly changes nothing.
func (s *BucketStore) Search(ctx context.Context, query string, opts store.SearchOptions) ([]models.FileRecord, error) {
	needle := strings.ToLower(query)
	var out []models.FileRecord
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: dirPrefix(opts.Path)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to search for %q: %w", query, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		rec := recordFromAttrs(attrs)
		if !strings.Contains(strings.ToLower(rec.Name), needle) || !store.HasExt(rec.Name, opts.Extensions) {
			continue
		}
		out = append(out, rec)
		if !opts.Exhaust && len(out) >= searchLimit {
			break
		}
	}
	return out, nil
}

// Move copies src to dst under a DoesNotExist precondition and then deletes
// src. With allowRename, a taken dst becomes "dst (1)", "dst (2)" and so on.
// A src naming a folder moves every object below it.
func (s *BucketStore) Move(ctx context.Context, src, dst string, allowRename bool) (models.FileRecord, error) {
	logCtx := s.log.With(zap.String("src", src), zap.String("dst", dst))
	srcName := objectName(src)

	if _, err := s.bucket.Object(srcName).Attrs(ctx); errors.Is(err, storage.ErrObjectNotExist) {
		return s.moveTree(ctx, src, dst)
	}

	for n := 0; n <= maxRenames; n++ {
		target := objectName(dst)
		if n > 0 {
			target = objectName(store.Renamed(store.Clean(dst), n))
		}
		taken, err := s.exists(ctx, target)
		if err != nil {
			return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
		}
		if taken {
			if !allowRename {
				return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", src, dst, store.ErrConflict)
			}
			continue
		}
		attrs, err := s.copyIfAbsent(ctx, srcName, target)
		if errors.Is(err, store.ErrAlreadyExists) {
			if !allowRename {
				return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", src, dst, store.ErrConflict)
			}
			continue
		}
		if err != nil {
			return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
		}
		if err := s.bucket.Object(srcName).Delete(ctx); err != nil {
			logCtx.Error("copied but failed to delete source", zap.Error(err))
			return models.FileRecord{}, fmt.Errorf("failed to delete %s after copy: %w", src, err)
		}
		if n > 0 {
			logCtx.Info("destination taken, renamed", zap.String("target", "/"+target))
		}
		return recordFromAttrs(attrs), nil
	}
	return models.FileRecord{}, fmt.Errorf("failed to move %s: no free name after %d attempts: %w", src, maxRenames, store.ErrConflict)
}

func (s *BucketStore) exists(ctx context.Context, name string) (bool, error) {
	_, err := s.bucket.Object(name).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return true, nil
}

// copyIfAbsent copies under a DoesNotExist precondition, which closes the
// window between Move's existence check and the copy.
func (s *BucketStore) copyIfAbsent(ctx context.Context, srcName, dstName string) (*storage.ObjectAttrs, error) {
	copier := s.bucket.Object(dstName).If(storage.Conditions{DoesNotExist: true}).CopierFrom(s.bucket.Object(srcName))
	attrs, err := copier.Run(ctx)
	switch {
	case isPreconditionFailed(err):
		return nil, store.ErrAlreadyExists
	case errors.Is(err, storage.ErrObjectNotExist):
		return nil, fmt.Errorf("object %s: %w", srcName, store.ErrNotFound)
	case err != nil:
		return nil, err
	}
	return attrs, nil
}

func (s *BucketStore) moveTree(ctx context.Context, src, dst string) (models.FileRecord, error) {
	srcPrefix, dstPrefix := dirPrefix(src), dirPrefix(dst)
	if srcPrefix == "" {
		return models.FileRecord{}, fmt.Errorf("cannot move the bucket root")
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: srcPrefix})
	moved := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return models.FileRecord{}, fmt.Errorf("failed to list %s: %w", src, err)
		}
		target := dstPrefix + strings.TrimPrefix(attrs.Name, srcPrefix)
		if _, err := s.copyIfAbsent(ctx, attrs.Name, target); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				err = store.ErrConflict
			}
			return models.FileRecord{}, fmt.Errorf("failed to move %s to %s: %w", attrs.Name, target, err)
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return models.FileRecord{}, fmt.Errorf("failed to delete %s after copy: %w", attrs.Name, err)
		}
		moved++
	}
	if moved == 0 {
		return models.FileRecord{}, fmt.Errorf("failed to move %s: %w", src, store.ErrNotFound)
	}
	p := store.Clean(dst)
	return models.FileRecord{ID: dstPrefix, Name: path.Base(p), Path: p, Kind: models.KindFolder}, nil
}

func (s *BucketStore) CreateFolder(ctx context.Context, p string) (models.FileRecord, error) {
	name := dirPrefix(p)
	if name == "" {
		return models.FileRecord{}, fmt.Errorf("failed to create folder /: %w", store.ErrAlreadyExists)
	}
	attrs, err := s.writeIfAbsent(ctx, name, strings.NewReader(""), "application/x-directory")
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to create folder %s: %w", p, err)
	}
	return recordFromAttrs(attrs), nil
}

// freeName returns dst, or the first "dst (n)" alternative with no object.
func (s *BucketStore) freeName(ctx context.Context, dst string) (string, error) {
	for n := 0; n <= maxRenames; n++ {
		candidate := store.Clean(dst)
		if n > 0 {
			candidate = store.Renamed(candidate, n)
		}
		taken, err := s.exists(ctx, objectName(candidate))
		if err != nil {
			return "", err
		}
		if !taken {
			return objectName(candidate), nil
		}
	}
	return "", fmt.Errorf("no free name for %s: %w", dst, store.ErrConflict)
}

func (s *BucketStore) Upload(ctx context.Context, r io.Reader, dst string) (models.FileRecord, error) {
	name, err := s.freeName(ctx, dst)
	if err != nil {
		return models.FileRecord{}, err
	}
	attrs, err := s.writeIfAbsent(ctx, name, r, contentTypeFor(name))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			err = fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return models.FileRecord{}, fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	s.log.Info("uploaded object", zap.String("object", name), zap.Int64("size", attrs.Size))
	return recordFromAttrs(attrs), nil
}

// SaveURL downloads url into dst. A bucket has no server side fetch, so the
// transfer runs here and the returned id is "object#generation".
func (s *BucketStore) SaveURL(ctx context.Context, url, dst string) (string, error) {
	name, err := s.freeName(ctx, dst)
	if err != nil {
		return "", err
	}
	logCtx := s.log.With(zap.String("url", url), zap.String("object", name))

	backoff := s.config.Backoff
	var lastErr error
	for i := 0; i < maxSaveRetries; i++ {
		attrs, err := s.fetchInto(ctx, url, name)
		if err == nil {
			logCtx.Info("saved url", zap.Int64("size", attrs.Size))
			return fmt.Sprintf("%s#%d", attrs.Name, attrs.Generation), nil
		}
		if errors.Is(err, store.ErrAlreadyExists) || !retryable(err) {
			logCtx.Error("save failed", zap.Error(err))
			return "", fmt.Errorf("failed to save %s: %w", url, err)
		}

		lastErr = err
		if i == maxSaveRetries-1 {
			break
		}
		logCtx.Warn("save failed, will retry",
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxSaveRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("context cancelled during backoff, aborting retries", zap.Error(ctx.Err()))
			return "", ctx.Err()
		}
	}
	logCtx.Error("save failed after all retries", zap.Error(lastErr))
	return "", fmt.Errorf("save of %s failed after all retries: %w", url, lastErr)
}

// retryable reports whether a failed fetch may succeed on another attempt.
// Client errors other than throttling will not.
func retryable(err error) bool {
	var remote *store.RemoteError
	if errors.As(err, &remote) {
		return remote.Status == http.StatusTooManyRequests || remote.Status >= 500
	}
	return true
}

func (s *BucketStore) fetchInto(ctx context.Context, url, name string) (*storage.ObjectAttrs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &store.RemoteError{Op: "GET " + url, Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentTypeFor(name)
	}
	return s.writeIfAbsent(ctx, name, resp.Body, ct)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	}
	return "application/octet-stream"
}
