package compaction

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"garnet/internal/common"
	"garnet/internal/manifest"
	"garnet/internal/sstable"
)

// State is the compactor's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateMerging
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateMerging:
		return "merging"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// Compactor merges segments in the background. It only reads immutable
// segment data; its work becomes visible solely through the atomic
// manifest commit, so a cycle can fail or be cancelled at any point before
// Committing without leaving a trace.
type Compactor struct {
	policy   Policy
	manifest *manifest.Manifest
	paths    *common.PathManager
	logger   *zap.Logger
	state    atomic.Int32
}

func New(policy Policy, m *manifest.Manifest, paths *common.PathManager, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{
		policy:   policy,
		manifest: m,
		paths:    paths,
		logger:   logger,
	}
}

func (c *Compactor) State() State {
	return State(c.state.Load())
}

func (c *Compactor) setState(s State) {
	c.state.Store(int32(s))
}

// RunOnce executes at most one compaction cycle. It returns false when the
// policy found nothing to do. An error from Merging leaves no partial
// state behind; the next trigger retries from scratch.
func (c *Compactor) RunOnce(ctx context.Context) (bool, error) {
	defer c.setState(StateIdle)

	c.setState(StateSelecting)
	snap := c.manifest.Acquire()
	defer snap.Release()

	task := c.policy.Pick(snap.Version)
	if task == nil {
		return false, nil
	}

	start := time.Now()
	c.setState(StateMerging)
	outMeta, err := c.merge(ctx, snap, task)
	if err != nil {
		return false, err
	}

	c.setState(StateCommitting)
	edit := &manifest.Edit{Delete: make(map[int][]common.FileNo, len(task.Inputs))}
	for level, files := range task.Inputs {
		for _, fm := range files {
			edit.Delete[level] = append(edit.Delete[level], fm.FileNo)
		}
	}
	if outMeta != nil {
		edit.Add = map[int][]manifest.FileMetadata{task.OutputLevel: {*outMeta}}
	}
	if err := c.manifest.Commit(edit); err != nil {
		if outMeta != nil {
			os.Remove(c.paths.SSTablePath(task.OutputLevel, outMeta.FileNo))
		}
		return false, err
	}

	c.logger.Info("compaction cycle complete",
		zap.String("policy", c.policy.Name()),
		zap.Int("inputs", task.InputCount()),
		zap.Int("output_level", task.OutputLevel),
		zap.Bool("dropped_tombstones", task.DropTombstones),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true, nil
}

// merge k-way merges the task's inputs into one segment at the output
// level. Returns nil metadata when every record was eliminated.
func (c *Compactor) merge(ctx context.Context, snap *manifest.Snapshot, task *Task) (*manifest.FileMetadata, error) {
	var sources []common.EntryIterator
	defer func() {
		for _, src := range sources {
			if closer, ok := src.(io.Closer); ok {
				closer.Close()
			}
		}
	}()
	for _, files := range task.Inputs {
		for _, fm := range files {
			table, err := snap.Table(fm)
			if err != nil {
				return nil, err
			}
			sources = append(sources, table.Iterator())
		}
	}

	merged := &ctxIterator{ctx: ctx, inner: NewMergeIterator(sources, task.DropTombstones)}

	fileNo := c.manifest.AllocateFileNo()
	outPath := c.paths.SSTablePath(task.OutputLevel, fileNo)
	result, err := sstable.Build(outPath, merged)
	if err != nil {
		return nil, err
	}

	if result.EntryCount == 0 {
		// Everything merged away; commit only the retirements.
		os.Remove(outPath)
		return nil, nil
	}
	return &manifest.FileMetadata{
		FileNo:      fileNo,
		SmallestKey: result.SmallestKey,
		LargestKey:  result.LargestKey,
		EntryCount:  result.EntryCount,
		Size:        result.BytesWritten,
	}, nil
}

// ctxIterator aborts a long merge when its context is cancelled.
type ctxIterator struct {
	ctx   context.Context
	inner common.EntryIterator
}

func (it *ctxIterator) Next() (*common.Entry, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}
	return it.inner.Next()
}
