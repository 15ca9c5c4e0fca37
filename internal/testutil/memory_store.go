// Package testutil holds an in-memory storage.Store for service tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/paperdrop/internal/models"
	"github.com/Lllllllleong/paperdrop/internal/storage"
)

// Call is one recorded Store invocation.
type Call struct {
	Op   string
	Args []string
}

// MemoryStore implements storage.Store over a map. Entries keep insertion
// order so Search results are deterministic.
type MemoryStore struct {
	mu      sync.Mutex
	order   []string
	entries map[string]models.FileRecord
	data    map[string][]byte
	saved   map[string]string
	fail    map[string]error
	jobs    int

	Calls []Call
}

var _ storage.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.FileRecord),
		data:    make(map[string][]byte),
		saved:   make(map[string]string),
		fail:    make(map[string]error),
	}
}

func key(p string) string {
	return strings.ToLower(storage.Clean(p))
}

// FailOn makes op ("list", "search", "move", "create_folder", "upload",
// "save_url") fail with err when its first argument is p: the query for
// search, the destination for upload and save_url, the source otherwise.
// An empty p fails every call of op.
func (m *MemoryStore) FailOn(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p != "" {
		p = key(p)
	}
	m.fail[op+":"+p] = err
}

func (m *MemoryStore) injected(op, p string) error {
	if err, ok := m.fail[op+":"+key(p)]; ok {
		return err
	}
	return m.fail[op+":"]
}

func (m *MemoryStore) record(op string, args ...string) {
	m.Calls = append(m.Calls, Call{Op: op, Args: args})
}

// CallsTo returns the recorded calls of one operation.
func (m *MemoryStore) CallsTo(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryStore) put(rec models.FileRecord) {
	k := key(rec.Path)
	if _, ok := m.entries[k]; !ok {
		m.order = append(m.order, k)
	}
	m.entries[k] = rec
}

func (m *MemoryStore) remove(p string) {
	k := key(p)
	delete(m.entries, k)
	delete(m.data, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// AddFile seeds a file without recording a call.
func (m *MemoryStore) AddFile(p, hash string, modified time.Time) models.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	rec := models.FileRecord{
		ID:           "id:" + key(p),
		Name:         path.Base(p),
		Path:         p,
		Kind:         models.KindFile,
		LastModified: modified,
		ContentHash:  hash,
	}
	m.put(rec)
	return rec
}

// AddFolder seeds a folder without recording a call.
func (m *MemoryStore) AddFolder(p string) models.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	rec := models.FileRecord{ID: "id:" + key(p), Name: path.Base(p), Path: p, Kind: models.KindFolder}
	m.put(rec)
	return rec
}

func (m *MemoryStore) Get(p string) (models.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.entries[key(p)]
	return rec, ok
}

// Data returns the bytes uploaded to p.
func (m *MemoryStore) Data(p string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key(p)]
}

// SavedURL returns the URL a SaveURL call targeted at p.
func (m *MemoryStore) SavedURL(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.saved[key(p)]
	return u, ok
}

// Paths lists every entry path in insertion order.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k].Path)
	}
	return out
}

func (m *MemoryStore) List(_ context.Context, p string, recursive bool) ([]models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list", p)
	if err := m.injected("list", p); err != nil {
		return nil, err
	}
	dir := key(p)
	var out []models.FileRecord
	for _, k := range m.order {
		if k == dir || !storage.Within(k, dir) {
			continue
		}
		if !recursive && key(path.Dir(k)) != dir {
			continue
		}
		out = append(out, m.entries[k])
	}
	return out, nil
}

// Search matches query case-insensitively against entry names.
func (m *MemoryStore) Search(_ context.Context, query string, opts storage.SearchOptions) ([]models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("search", query, opts.Path)
	if err := m.injected("search", query); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var out []models.FileRecord
	for _, k := range m.order {
		rec := m.entries[k]
		if !rec.IsFile() || !storage.Within(rec.Path, opts.Path) {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Name), needle) && storage.HasExt(rec.Name, opts.Extensions) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) Move(_ context.Context, src, dst string, allowRename bool) (models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("move", storage.Clean(src), storage.Clean(dst))
	if err := m.injected("move", src); err != nil {
		return models.FileRecord{}, err
	}
	rec, ok := m.entries[key(src)]
	if !ok {
		return models.FileRecord{}, fmt.Errorf("move %s: %w", src, storage.ErrNotFound)
	}
	target := storage.Clean(dst)
	for n := 1; m.exists(target); n++ {
		if !allowRename {
			return models.FileRecord{}, fmt.Errorf("move %s to %s: %w", src, dst, storage.ErrConflict)
		}
		target = storage.Renamed(storage.Clean(dst), n)
	}

	oldPrefix := key(src)
	var moved models.FileRecord
	for _, k := range append([]string(nil), m.order...) {
		if !storage.Within(k, oldPrefix) {
			continue
		}
		e := m.entries[k]
		data := m.data[k]
		m.remove(k)
		e.Path = target + e.Path[len(rec.Path):]
		e.Name = path.Base(e.Path)
		m.put(e)
		if data != nil {
			m.data[key(e.Path)] = data
		}
		if k == oldPrefix {
			moved = e
		}
	}
	return moved, nil
}

func (m *MemoryStore) exists(p string) bool {
	_, ok := m.entries[key(p)]
	return ok
}

func (m *MemoryStore) CreateFolder(_ context.Context, p string) (models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_folder", storage.Clean(p))
	if err := m.injected("create_folder", p); err != nil {
		return models.FileRecord{}, err
	}
	if m.exists(p) {
		return models.FileRecord{}, fmt.Errorf("create folder %s: %w", p, storage.ErrAlreadyExists)
	}
	p = storage.Clean(p)
	rec := models.FileRecord{ID: "id:" + key(p), Name: path.Base(p), Path: p, Kind: models.KindFolder}
	m.put(rec)
	return rec, nil
}

func (m *MemoryStore) Upload(_ context.Context, r io.Reader, dst string) (models.FileRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.FileRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upload", storage.Clean(dst))
	if err := m.injected("upload", dst); err != nil {
		return models.FileRecord{}, err
	}
	target := storage.Clean(dst)
	for n := 1; m.exists(target); n++ {
		target = storage.Renamed(storage.Clean(dst), n)
	}
	sum := sha256.Sum256(data)
	rec := models.FileRecord{
		ID:           "id:" + key(target),
		Name:         path.Base(target),
		Path:         target,
		Kind:         models.KindFile,
		LastModified: time.Now(),
		ContentHash:  hex.EncodeToString(sum[:]),
		Size:         int64(len(data)),
	}
	m.put(rec)
	m.data[key(target)] = data
	return rec, nil
}

func (m *MemoryStore) SaveURL(_ context.Context, url, dst string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("save_url", url, storage.Clean(dst))
	if err := m.injected("save_url", dst); err != nil {
		return "", err
	}
	m.saved[key(dst)] = url
	m.jobs++
	return fmt.Sprintf("job-%d", m.jobs), nil
}
