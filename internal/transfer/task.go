package transfer

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Direction tells which way a task moves bytes.
type Direction int

const (
	DirectionUpload Direction = iota
	DirectionDownload
)

func (d Direction) String() string {
	if d == DirectionUpload {
		return "upload"
	}
	return "download"
}

// Chunk status values, stored in an atomic field so workers can claim a
// chunk with a single compare-and-swap.
const (
	chunkPending int32 = iota
	chunkInFlight
	chunkDone
)

// Chunk is one contiguous byte range of the transfer source. Exactly one
// worker may hold it in-flight at a time; claiming races are settled by CAS
// on the status field.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64

	state atomic.Int32
}

// Claim attempts to take ownership of the chunk. It succeeds for at most
// one caller per Pending→InFlight transition.
func (c *Chunk) Claim() bool {
	return c.state.CompareAndSwap(chunkPending, chunkInFlight)
}

// Revert returns a claimed chunk to the pending state, used on pause or
// after a failed attempt so a later worker can pick it up again.
func (c *Chunk) Revert() {
	c.state.CompareAndSwap(chunkInFlight, chunkPending)
}

// Reset forces the chunk back to pending regardless of its state. Used
// when a remote upload session is lost and its parts with it.
func (c *Chunk) Reset() {
	c.state.Store(chunkPending)
}

// MarkDone records successful transfer of the chunk.
func (c *Chunk) MarkDone() {
	c.state.Store(chunkDone)
}

// Done reports whether the chunk has been transferred.
func (c *Chunk) Done() bool {
	return c.state.Load() == chunkDone
}

// Task is one transfer owned by the scheduler for its lifetime.
type Task struct {
	ID         string
	Direction  Direction
	LocalPath  string
	RemotePath string
	TotalSize  int64
	Chunks     []*Chunk
}

func newTask(direction Direction, localPath, remotePath string, totalSize, chunkSize int64) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Direction:  direction,
		LocalPath:  localPath,
		RemotePath: remotePath,
		TotalSize:  totalSize,
		Chunks:     planChunks(totalSize, chunkSize),
	}
}

// planChunks splits total bytes into fixed-size ranges; the last chunk may
// be shorter. A zero-byte source still gets one empty chunk so the upload
// session has something to complete.
func planChunks(total, chunkSize int64) []*Chunk {
	if total == 0 {
		return []*Chunk{{Index: 0, Offset: 0, Size: 0}}
	}
	n := int((total + chunkSize - 1) / chunkSize)
	chunks := make([]*Chunk, 0, n)
	for i := 0; i < n; i++ {
		offset := int64(i) * chunkSize
		size := chunkSize
		if offset+size > total {
			size = total - offset
		}
		chunks = append(chunks, &Chunk{Index: i, Offset: offset, Size: size})
	}
	return chunks
}

// pending returns the chunks still waiting to be transferred.
func (t *Task) pending() []*Chunk {
	var out []*Chunk
	for _, c := range t.Chunks {
		if !c.Done() {
			out = append(out, c)
		}
	}
	return out
}

// doneBytes sums the sizes of completed chunks.
func (t *Task) doneBytes() int64 {
	var n int64
	for _, c := range t.Chunks {
		if c.Done() {
			n += c.Size
		}
	}
	return n
}
