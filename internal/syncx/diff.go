// Package syncx plans and executes one-way synchronization of a local
// directory tree to a remote prefix.
//
// Equality is size plus exact modification time, never content hashes.
// That is cheap and good enough for the common case, but a write that
// preserves both size and mtime goes unnoticed. Known trade-off.
package syncx

import (
	"sort"
	"time"
)

// Action is what the plan wants done with one path.
type Action int

const (
	ActionSkip Action = iota
	ActionCreateRemote
	ActionUpdateRemote
	ActionDeleteRemote
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreateRemote:
		return "create"
	case ActionUpdateRemote:
		return "update"
	case ActionDeleteRemote:
		return "delete"
	}
	return "unknown"
}

// FileMeta is the comparable identity of one file on either side.
type FileMeta struct {
	RelPath string
	Size    int64
	ModTime time.Time
}

// Entry is one planned operation.
type Entry struct {
	RelPath string
	Action  Action
}

// Diff compares a local tree against a remote tree and returns the
// operation set making remote mirror local: local-only paths are created,
// mismatched paths updated, remote-only paths deleted, identical paths
// skipped. The result is sorted by path, so identical inputs always yield
// the identical plan.
func Diff(local, remote []FileMeta) []Entry {
	remoteByPath := make(map[string]FileMeta, len(remote))
	for _, f := range remote {
		remoteByPath[f.RelPath] = f
	}

	entries := make([]Entry, 0, len(local)+len(remote))
	for _, lf := range local {
		rf, ok := remoteByPath[lf.RelPath]
		switch {
		case !ok:
			entries = append(entries, Entry{RelPath: lf.RelPath, Action: ActionCreateRemote})
		case lf.Size == rf.Size && lf.ModTime.Equal(rf.ModTime):
			entries = append(entries, Entry{RelPath: lf.RelPath, Action: ActionSkip})
		default:
			entries = append(entries, Entry{RelPath: lf.RelPath, Action: ActionUpdateRemote})
		}
		delete(remoteByPath, lf.RelPath)
	}
	for path := range remoteByPath {
		entries = append(entries, Entry{RelPath: path, Action: ActionDeleteRemote})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries
}
