package syncx

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/skysync/internal/remote"
)

// LocalTree walks root and returns the regular files under it, with
// slash-separated paths relative to root.
func LocalTree(root string) ([]FileMeta, error) {
	var files []FileMeta
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, FileMeta{
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// RemoteTree lists the backend under prefix and returns paths relative to
// it.
func RemoteTree(ctx context.Context, backend remote.Backend, prefix string) ([]FileMeta, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	infos, err := backend.List(ctx, prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	files := make([]FileMeta, 0, len(infos))
	for _, info := range infos {
		files = append(files, FileMeta{
			RelPath: strings.TrimPrefix(info.Path, prefix+"/"),
			Size:    info.Size,
			ModTime: info.ModTime,
		})
	}
	return files, nil
}
