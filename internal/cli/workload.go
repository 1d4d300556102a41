package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
)

// treeWorkload spawns a tree of jobs where every inner node is a join over
// its children and every leaf does a little arithmetic.
type treeWorkload struct {
	system core.JobSystem
	fanout int
	depth  int
	logger *slog.Logger

	completed atomic.Int64
	checksum  atomic.Int64
}

func (w *treeWorkload) Completed() int64 { return w.completed.Load() }

func (w *treeWorkload) Checksum() int64 { return w.checksum.Load() }

// Spawn builds one tree and pushes its root.
func (w *treeWorkload) Spawn(ctx context.Context) error {
	root, err := w.build(w.depth, 0, w.rootDone)
	if err != nil {
		return err
	}
	if err := w.system.PushJob(root); err != nil {
		w.system.CancelJob(root)
		return err
	}
	return nil
}

func (w *treeWorkload) rootDone(_ core.JobSystem, job core.Handle, status core.Status, _, _ any, _ int32) {
	if status == core.StatusFinished {
		w.completed.Add(1)
	}
	w.logger.Debug("job tree settled", "root", job.String(), "status", status.String())
}

func (w *treeWorkload) build(depth, seed int, callback core.CallbackFunc) (core.Handle, error) {
	if depth == 0 {
		return w.create(core.Job{Process: leaf, Callback: callback, Context: w, Data: seed})
	}

	node, err := w.create(core.Job{Callback: callback, Data: seed})
	if err != nil {
		return core.InvalidHandle, err
	}
	for i := 0; i < w.fanout; i++ {
		child, err := w.build(depth-1, seed*w.fanout+i, nil)
		if err != nil {
			w.system.CancelJob(node)
			return core.InvalidHandle, err
		}
		if err := w.system.SetParent(child, node); err != nil {
			w.system.CancelJob(child)
			w.system.CancelJob(node)
			return core.InvalidHandle, err
		}
		// Attached children are canceled along with node.
		if err := w.system.PushJob(child); err != nil {
			w.system.CancelJob(node)
			return core.InvalidHandle, err
		}
	}
	return node, nil
}

func (w *treeWorkload) create(job core.Job) (core.Handle, error) {
	h := w.system.CreateJob(job)
	if h == core.InvalidHandle {
		return h, errors.InfraError(fmt.Errorf("job table exhausted")).WithCode("JOB_TABLE_FULL")
	}
	return h, nil
}

// leaf adds the sum of squares up to its seed to the workload checksum.
func leaf(ctx context.Context, _ core.JobSystem, _ core.Handle, userContext, data any) int32 {
	n := data.(int)
	var sum int64
	for i := 0; i <= n%1000; i++ {
		if ctx.Err() != nil {
			return 1
		}
		sum += int64(i * i)
	}
	userContext.(*treeWorkload).checksum.Add(sum)
	return 0
}
