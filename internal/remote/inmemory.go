package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

type memObject struct {
	data    []byte
	modTime time.Time
	md5     string
}

// InMemoryBackend is a Backend backed by a map. It exists for tests and
// dry runs: it counts chunk transfers, and can be told to fail the first
// N chunk uploads to exercise retry paths.
type InMemoryBackend struct {
	mu       sync.Mutex
	objects  map[string]*memObject
	byMD5    map[string]string // content md5 -> a path holding that content
	sessions map[string]*memUpload

	chunkUploads atomic.Int64
	failFirst    atomic.Int64

	// ChunkHook, when set, runs at the start of every UploadChunk; a
	// non-nil return fails that attempt. Set before use, not mutated
	// while transfers run.
	ChunkHook func(index int) error
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		objects:  make(map[string]*memObject),
		byMD5:    make(map[string]string),
		sessions: make(map[string]*memUpload),
	}
}

// ChunkUploads reports how many chunks were actually transferred.
func (b *InMemoryBackend) ChunkUploads() int64 { return b.chunkUploads.Load() }

// FailNextChunks makes the next n UploadChunk calls fail with a
// transient error.
func (b *InMemoryBackend) FailNextChunks(n int64) { b.failFirst.Store(n) }

// Put stores an object directly, bypassing the upload path.
func (b *InMemoryBackend) Put(path string, data []byte, modTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fp, _ := fingerprint.Compute(bytes.NewReader(data), path)
	b.objects[path] = &memObject{data: append([]byte(nil), data...), modTime: modTime, md5: fp.ContentMD5}
	b.byMD5[fp.ContentMD5] = path
}

// Get returns a stored object's bytes, for assertions.
func (b *InMemoryBackend) Get(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (b *InMemoryBackend) ChunkSizeBounds() (int64, int64) { return 0, 0 }

func (b *InMemoryBackend) Stat(ctx context.Context, path string) (*FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	return &FileInfo{Path: path, Size: int64(len(obj.data)), ModTime: obj.modTime, ContentMD5: obj.md5}, nil
}

func (b *InMemoryBackend) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var files []FileInfo
	for path, obj := range b.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		files = append(files, FileInfo{Path: path, Size: int64(len(obj.data)), ModTime: obj.modTime, ContentMD5: obj.md5})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (b *InMemoryBackend) Delete(ctx context.Context, paths ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *InMemoryBackend) ReadRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	if offset > int64(len(obj.data)) {
		return nil, fmt.Errorf("range start %d beyond object size %d", offset, len(obj.data))
	}
	end := int64(len(obj.data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	data := append([]byte(nil), obj.data[offset:end]...)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *InMemoryBackend) CreateUpload(ctx context.Context, path string, size int64, fp *fingerprint.Fingerprint) (Upload, error) {
	id, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := &memUpload{
		backend: b,
		id:      id,
		path:    path,
		size:    size,
		fp:      fp,
		chunks:  make(map[int][]byte),
	}
	b.sessions[u.id] = u
	return u, nil
}

func (b *InMemoryBackend) ResumeUpload(ctx context.Context, path, id string) (Upload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.sessions[id]
	if !ok || u.path != path {
		return nil, fmt.Errorf("%w: upload session %s", common.ErrNotFound, id)
	}
	return u, nil
}

func (b *InMemoryBackend) Register(ctx context.Context, fp *fingerprint.Fingerprint, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.byMD5[fp.ContentMD5]
	if !ok {
		return fmt.Errorf("%w: content %s", common.ErrNotFound, fp.ContentMD5)
	}
	obj := b.objects[src]
	b.objects[path] = &memObject{data: obj.data, modTime: time.Now(), md5: obj.md5}
	return nil
}

type memUpload struct {
	backend *InMemoryBackend
	id      string
	path    string
	size    int64
	fp      *fingerprint.Fingerprint

	mu     sync.Mutex
	chunks map[int][]byte
}

func (u *memUpload) ID() string { return u.id }

func (u *memUpload) UploadChunk(ctx context.Context, index int, offset int64, r io.Reader, size int64) error {
	if hook := u.backend.ChunkHook; hook != nil {
		if err := hook(index); err != nil {
			return err
		}
	}
	if u.backend.failFirst.Add(-1) >= 0 {
		return fmt.Errorf("injected chunk failure")
	}
	u.backend.failFirst.Store(0)

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("chunk %d: got %d bytes, want %d", index, len(data), size)
	}

	u.mu.Lock()
	u.chunks[index] = data
	u.mu.Unlock()
	u.backend.chunkUploads.Add(1)
	return nil
}

func (u *memUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	var buf bytes.Buffer
	indexes := make([]int, 0, len(u.chunks))
	for i := range u.chunks {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		buf.Write(u.chunks[i])
	}
	u.mu.Unlock()

	if int64(buf.Len()) != u.size {
		return fmt.Errorf("assembled %d bytes, declared %d", buf.Len(), u.size)
	}

	b := u.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	var md5sum string
	if u.fp != nil {
		md5sum = u.fp.ContentMD5
	}
	b.objects[u.path] = &memObject{data: buf.Bytes(), modTime: time.Now(), md5: md5sum}
	if md5sum != "" {
		b.byMD5[md5sum] = u.path
	}
	delete(b.sessions, u.id)
	return nil
}

func (u *memUpload) Abort(ctx context.Context) error {
	b := u.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, u.id)
	return nil
}
