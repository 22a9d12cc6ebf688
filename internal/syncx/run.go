package syncx

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/skysync/internal/logging"
	"github.com/dmitrijs2005/skysync/internal/remote"
	"github.com/dmitrijs2005/skysync/internal/transfer"
)

// Runner executes a sync plan: uploads run through the transfer scheduler
// with bounded file-level parallelism, deletes go to the backend in one
// batch.
type Runner struct {
	Scheduler *transfer.Scheduler
	Backend   remote.Backend
	Logger    logging.Logger

	// MaxParallel bounds how many files transfer at once. Zero means 3.
	MaxParallel int
}

// Run makes the remote prefix mirror the local root and returns the plan
// it executed.
func (r *Runner) Run(ctx context.Context, localRoot, remotePrefix string) ([]Entry, error) {
	log := r.Logger
	if log == nil {
		log = logging.NewNullLogger()
	}

	local, err := LocalTree(localRoot)
	if err != nil {
		return nil, err
	}
	rmt, err := RemoteTree(ctx, r.Backend, remotePrefix)
	if err != nil {
		return nil, err
	}

	plan := Diff(local, rmt)

	parallel := r.MaxParallel
	if parallel <= 0 {
		parallel = 3
	}

	var deletes []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, entry := range plan {
		switch entry.Action {
		case ActionSkip:
			continue
		case ActionDeleteRemote:
			deletes = append(deletes, path.Join(remotePrefix, entry.RelPath))
		case ActionCreateRemote, ActionUpdateRemote:
			entry := entry
			g.Go(func() error {
				localPath := filepath.Join(localRoot, filepath.FromSlash(entry.RelPath))
				remotePath := path.Join(remotePrefix, entry.RelPath)
				log.Info(gctx, "sync transfer", "action", entry.Action.String(), "path", entry.RelPath)

				h, err := r.Scheduler.Upload(gctx, localPath, remotePath)
				if err != nil {
					return fmt.Errorf("sync %s: %w", entry.RelPath, err)
				}
				if err := h.Wait(); err != nil {
					return fmt.Errorf("sync %s: %w", entry.RelPath, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return plan, err
	}

	if len(deletes) > 0 {
		log.Info(ctx, "sync delete", "count", len(deletes))
		if err := r.Backend.Delete(ctx, deletes...); err != nil {
			return plan, fmt.Errorf("sync delete: %w", err)
		}
	}
	return plan, nil
}
