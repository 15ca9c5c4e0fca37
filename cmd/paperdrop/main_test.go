package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lllllllleong/paperdrop/internal/provider"
	"github.com/Lllllllleong/paperdrop/internal/testutil"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runWith(t *testing.T, store *testutil.MemoryStore, stdin string, args ...string) result {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "paperdrop.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("backend: dropbox\naliases:\n  talks: /books/talks\n"), 0o600))
	t.Setenv("PAPERDROP_BACKEND", "dropbox")

	var stdout, stderr bytes.Buffer
	env := runEnv{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		open: func(_ context.Context, a *app) (*stack, error) {
			return newStack(a, store, provider.NewDispatcher(nil, zap.NewNop()), nil), nil
		},
	}
	code := run(context.Background(), append([]string{"--cfg", cfg}, args...), env)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func lines(s string) [][]string {
	var out [][]string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		out = append(out, strings.Fields(l))
	}
	return out
}

func TestRun_UsageErrorExitsTwo(t *testing.T) {
	for _, args := range [][]string{{"frobnicate"}, {"put"}, {"mv", "/a.pdf"}} {
		res := runWith(t, testutil.NewMemoryStore(), "", args...)
		assert.Equal(t, 2, res.code, args)
		assert.Contains(t, res.stderr, "Usage:")
	}
}

func TestRun_Aliases(t *testing.T) {
	res := runWith(t, testutil.NewMemoryStore(), "", "aliases")
	require.Equal(t, 0, res.code)

	got := lines(res.stdout)
	assert.Contains(t, got, []string{"{papers}", "/books/papers"})
	assert.Contains(t, got, []string{"{archive}", "/books/archive"})
	assert.Contains(t, got, []string{"{talks}", "/books/talks"})
}

func TestRun_ListDefaultsToBooks(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddFile("/books/a.pdf", "h", time.Now())
	store.AddFolder("/books/papers")
	store.AddFile("/elsewhere.pdf", "h", time.Now())

	res := runWith(t, store, "", "ls")
	require.Equal(t, 0, res.code)
	assert.Equal(t, "a.pdf\npapers/\n", res.stdout)

	res = runWith(t, store, "", "ls", "--long", "{papers}/..")
	require.Equal(t, 0, res.code)
	got := lines(res.stdout)
	require.Len(t, got, 2)
	assert.Equal(t, "file", got[0][0])
	assert.Equal(t, "a.pdf", got[0][len(got[0])-1])
	assert.Equal(t, []string{"folder", "-", "-", "papers/"}, got[1])
}

func TestRun_BackendFailureExitsOne(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailOn("list", "", errors.New("unauthorized"))

	res := runWith(t, store, "", "ls")
	assert.Equal(t, 1, res.code)
}

func TestRun_PutWithoutProviderExitsZero(t *testing.T) {
	store := testutil.NewMemoryStore()

	res := runWith(t, store, "", "put", "not a thing")
	assert.Equal(t, 0, res.code)
	assert.Empty(t, store.CallsTo("save_url"))
}

func TestRun_PutDirectLink(t *testing.T) {
	store := testutil.NewMemoryStore()

	res := runWith(t, store, "", "put", "https://example.com/files/notes.pdf", "--dir", "{talks}")
	require.Equal(t, 0, res.code, res.stderr)

	saves := store.CallsTo("save_url")
	require.Len(t, saves, 1)
	assert.Equal(t, "https://example.com/files/notes.pdf", saves[0].Args[0])
	assert.True(t, strings.HasPrefix(saves[0].Args[1], "/books/talks/"), saves[0].Args[1])
	assert.Contains(t, res.stdout, "job-1")
}

func TestRun_MoveAsksFirst(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddFile("/a.pdf", "h", time.Now())

	res := runWith(t, store, "n\n", "mv", "/a.pdf", "{books}/a.pdf")
	require.Equal(t, 0, res.code)
	assert.Empty(t, store.CallsTo("move"))
	assert.Contains(t, res.stderr, "Continue?")

	res = runWith(t, store, "", "mv", "/a.pdf", "{books}/a.pdf", "--yes")
	require.Equal(t, 0, res.code)
	_, ok := store.Get("/books/a.pdf")
	assert.True(t, ok)
}

func TestRun_Sync(t *testing.T) {
	store := testutil.NewMemoryStore()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.AddFile("/a.pdf", "annotated", t0)
	store.AddFile("/books/nlp/a.pdf", "original", t0.Add(time.Hour))

	res := runWith(t, store, "", "sync")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "moved /a.pdf -> /books/nlp/a.pdf")
	assert.Contains(t, res.stdout, "1 moved, 0 failed, 0 unmatched, skipped (hash: 0, modtime: 0)")

	archived, ok := store.Get("/books/archive/a.pdf")
	require.True(t, ok)
	assert.Equal(t, "original", archived.ContentHash)
}

func TestRun_SearchWithExtensions(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddFile("/books/Deep.pdf", "a", time.Now())
	store.AddFile("/books/Deep.epub", "b", time.Now())
	store.AddFile("/books/Deep.djvu", "c", time.Now())

	res := runWith(t, store, "", "s", "deep", "--ext", "pdf,epub")
	require.Equal(t, 0, res.code)
	assert.Equal(t, "/books/Deep.pdf\n/books/Deep.epub\n", res.stdout)
}

func TestRun_MetafixDryRun(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.AddFile("/books/Plain.pdf", "a", time.Now())

	res := runWith(t, store, "", "metafix", "--dry-run")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "1 scanned, 0 would rename, 0 unchanged, 1 unmatched, 0 failed")
	assert.Empty(t, store.CallsTo("move"))
}
