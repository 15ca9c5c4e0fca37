package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/paperdrop/internal/models"
	store "github.com/Lllllllleong/paperdrop/internal/storage"
)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "", objectName("/"))
	assert.Equal(t, "books/a.pdf", objectName("/books/a.pdf"))
	assert.Equal(t, "books", objectName("books/"))

	assert.Equal(t, "", dirPrefix("/"))
	assert.Equal(t, "books/papers/", dirPrefix("/books/papers"))
}

func TestRecordFromAttrs(t *testing.T) {
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("object", func(t *testing.T) {
		rec := recordFromAttrs(&storage.ObjectAttrs{
			Name:       "books/a.pdf",
			Generation: 7,
			Size:       42,
			Updated:    updated,
			MD5:        []byte{0xde, 0xad, 0xbe, 0xef},
		})
		assert.Equal(t, models.FileRecord{
			ID:           "books/a.pdf#7",
			Name:         "a.pdf",
			Path:         "/books/a.pdf",
			Kind:         models.KindFile,
			LastModified: updated,
			ContentHash:  "deadbeef",
			Size:         42,
			Raw:          rec.Raw,
		}, rec)
		assert.Equal(t, int64(7), rec.Raw["generation"])
	})

	t.Run("crc fallback", func(t *testing.T) {
		rec := recordFromAttrs(&storage.ObjectAttrs{Name: "a.pdf", CRC32C: 0xabc})
		assert.Equal(t, "crc32c:00000abc", rec.ContentHash)
	})

	t.Run("synthetic prefix", func(t *testing.T) {
		rec := recordFromAttrs(&storage.ObjectAttrs{Prefix: "books/papers/"})
		assert.Equal(t, models.KindFolder, rec.Kind)
		assert.Equal(t, "/books/papers", rec.Path)
		assert.Equal(t, "papers", rec.Name)
	})

	t.Run("placeholder", func(t *testing.T) {
		rec := recordFromAttrs(&storage.ObjectAttrs{Name: "books/2024-03/", MD5: []byte{1}})
		assert.Equal(t, models.KindFolder, rec.Kind)
		assert.Equal(t, "/books/2024-03", rec.Path)
		assert.Empty(t, rec.ContentHash)
	})
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: 412}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: 404}))
	assert.False(t, isPreconditionFailed(errors.New("412")))
	assert.False(t, isPreconditionFailed(nil))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("books/A.PDF"))
	assert.Equal(t, "application/epub+zip", contentTypeFor("b.epub"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("c"))
}

func TestDocID(t *testing.T) {
	assert.Equal(t, "2106.09608", docID(models.Paper{PaperID: "2106.09608", Filename: "x.pdf"}))
	assert.Equal(t, "a_b.pdf", docID(models.Paper{Filename: "a/b.pdf"}))
	assert.Equal(t, "", docID(models.Paper{PaperID: ".."}))
	assert.Equal(t, "", docID(models.Paper{}))
}

const testBucket = "papers"

func object(name, content string) fakestorage.Object {
	return fakestorage.Object{
		ObjectAttrs: fakestorage.ObjectAttrs{BucketName: testBucket, Name: name},
		Content:     []byte(content),
	}
}

func newFakeBucket(t *testing.T, objects ...fakestorage.Object) (*BucketStore, *fakestorage.Server) {
	t.Helper()
	srv := fakestorage.NewServer(objects)
	t.Cleanup(srv.Stop)
	srv.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: testBucket})
	bs := newBucketStore(srv.Client(), &http.Client{Timeout: 10 * time.Second}, BucketStoreConfig{
		Bucket:  testBucket,
		Backoff: time.Millisecond,
	}, zap.NewNop())
	return bs, srv
}

func content(t *testing.T, srv *fakestorage.Server, name string) string {
	t.Helper()
	obj, err := srv.GetObject(testBucket, name)
	require.NoError(t, err, name)
	return string(obj.Content)
}

func assertMissing(t *testing.T, srv *fakestorage.Server, name string) {
	t.Helper()
	_, err := srv.GetObject(testBucket, name)
	assert.Error(t, err, "%s should not exist", name)
}

func paths(recs []models.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Path)
	}
	return out
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestBucketStore_CreateFolder(t *testing.T) {
	bs, srv := newFakeBucket(t)
	ctx := context.Background()

	rec, err := bs.CreateFolder(ctx, "/books/papers/2024-03")
	require.NoError(t, err)
	assert.Equal(t, models.KindFolder, rec.Kind)
	assert.Equal(t, "/books/papers/2024-03", rec.Path)
	assert.Equal(t, "", content(t, srv, "books/papers/2024-03/"))

	_, err = bs.CreateFolder(ctx, "/books/papers/2024-03")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = bs.CreateFolder(ctx, "/")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestBucketStore_List(t *testing.T) {
	bs, _ := newFakeBucket(t,
		object("books/a.pdf", "a"),
		object("books/papers/", ""),
		object("books/papers/b.pdf", "b"),
		object("elsewhere.pdf", "c"),
	)
	ctx := context.Background()

	recs, err := bs.List(ctx, "/books", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/books/a.pdf", "/books/papers"}, paths(recs))

	recs, err = bs.List(ctx, "/books", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/books/a.pdf", "/books/papers", "/books/papers/b.pdf"}, paths(recs))
}

func TestBucketStore_Move(t *testing.T) {
	ctx := context.Background()

	t.Run("taken destination without rename", func(t *testing.T) {
		bs, srv := newFakeBucket(t, object("a.pdf", "annotated"), object("books/a.pdf", "original"))

		_, err := bs.Move(ctx, "/a.pdf", "/books/a.pdf", false)
		assert.ErrorIs(t, err, store.ErrConflict)
		assert.Equal(t, "annotated", content(t, srv, "a.pdf"))
		assert.Equal(t, "original", content(t, srv, "books/a.pdf"))
	})

	t.Run("taken destination with rename", func(t *testing.T) {
		bs, srv := newFakeBucket(t,
			object("a.pdf", "annotated"),
			object("books/a.pdf", "original"),
			object("books/a (1).pdf", "older"),
		)

		rec, err := bs.Move(ctx, "/a.pdf", "/books/a.pdf", true)
		require.NoError(t, err)
		assert.Equal(t, "/books/a (2).pdf", rec.Path)
		assert.Equal(t, "annotated", content(t, srv, "books/a (2).pdf"))
		assertMissing(t, srv, "a.pdf")
	})

	t.Run("missing source", func(t *testing.T) {
		bs, _ := newFakeBucket(t)

		_, err := bs.Move(ctx, "/nothing.pdf", "/books/nothing.pdf", false)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("folder", func(t *testing.T) {
		bs, srv := newFakeBucket(t,
			object("books/nlp/", ""),
			object("books/nlp/a.pdf", "a"),
			object("books/nlp/b.pdf", "b"),
		)

		rec, err := bs.Move(ctx, "/books/nlp", "/archive/nlp", false)
		require.NoError(t, err)
		assert.Equal(t, models.KindFolder, rec.Kind)
		assert.Equal(t, "/archive/nlp", rec.Path)
		assert.Equal(t, "a", content(t, srv, "archive/nlp/a.pdf"))
		assert.Equal(t, "b", content(t, srv, "archive/nlp/b.pdf"))
		assertMissing(t, srv, "books/nlp/a.pdf")
	})
}

func TestBucketStore_Search(t *testing.T) {
	bs, _ := newFakeBucket(t,
		object("books/Deep.pdf", "a"),
		object("books/Deep.epub", "b"),
		object("books/deep/", ""),
		object("books/other.pdf", "c"),
		object("Deep notes.pdf", "d"),
	)
	ctx := context.Background()

	recs, err := bs.Search(ctx, "deep", store.SearchOptions{Path: "/books", Extensions: []string{"pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/books/Deep.pdf"}, paths(recs))

	recs, err = bs.Search(ctx, "DEEP", store.SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/books/Deep.pdf", "/books/Deep.epub", "/Deep notes.pdf"}, paths(recs))
}

func TestBucketStore_UploadPicksFreeName(t *testing.T) {
	bs, srv := newFakeBucket(t, object("books/a.pdf", "original"))

	rec, err := bs.Upload(context.Background(), strings.NewReader("%PDF-1.4"), "/books/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/books/a (1).pdf", rec.Path)
	assert.Equal(t, int64(8), rec.Size)
	assert.Equal(t, "%PDF-1.4", content(t, srv, "books/a (1).pdf"))
	assert.Equal(t, "original", content(t, srv, "books/a.pdf"))
}

func TestBucketStore_UploadLeavesNothingOnReadError(t *testing.T) {
	bs, srv := newFakeBucket(t)

	r := io.MultiReader(strings.NewReader("%PDF-1.4 half a file"), failingReader{})
	_, err := bs.Upload(context.Background(), r, "/books/a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assertMissing(t, srv, "books/a.pdf")
}

func TestBucketStore_SaveURL(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4")
	}))
	t.Cleanup(src.Close)
	bs, srv := newFakeBucket(t, object("books/a.pdf", "original"))

	id, err := bs.SaveURL(context.Background(), src.URL+"/a.pdf", "/books/a.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "books/a (1).pdf#"), id)
	assert.Equal(t, "%PDF-1.4", content(t, srv, "books/a (1).pdf"))
}

func TestBucketStore_SaveURLLeavesNothingOnTruncatedBody(t *testing.T) {
	var hits atomic.Int32
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "1000")
		_, _ = io.WriteString(w, "%PDF-1.4 truncated.")
	}))
	t.Cleanup(src.Close)
	bs, srv := newFakeBucket(t)

	_, err := bs.SaveURL(context.Background(), src.URL+"/a.pdf", "/books/a.pdf")
	require.Error(t, err)
	assertMissing(t, srv, "books/a.pdf")
	assert.Equal(t, int32(maxSaveRetries), hits.Load())
}

func TestBucketStore_SaveURLDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(src.Close)
	bs, srv := newFakeBucket(t)

	_, err := bs.SaveURL(context.Background(), src.URL+"/gone.pdf", "/books/gone.pdf")
	var remote *store.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.Status)
	assert.Equal(t, int32(1), hits.Load())
	assertMissing(t, srv, "books/gone.pdf")
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("connection reset")))
	assert.True(t, retryable(&store.RemoteError{Status: 503}))
	assert.True(t, retryable(fmt.Errorf("get: %w", &store.RemoteError{Status: 429})))
	assert.False(t, retryable(&store.RemoteError{Status: 404}))
	assert.False(t, retryable(&store.RemoteError{Status: 403}))
}
