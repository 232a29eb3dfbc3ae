package codec

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// worker processes one planned descriptor at a time. Each pool goroutine
// owns one worker, so DEFLATE scratch is allocated once per goroutine and
// the descriptor loop runs lock-free.
type worker interface {
	do(i int) error
}

// run executes n descriptors across a fixed pool of workers with dynamic
// work-stealing: goroutines claim descriptors one at a time off a shared
// counter. Descriptors own pairwise disjoint slices, so workers share
// nothing mutable. All descriptors are attempted even after a failure; the
// lowest-indexed error is returned once every worker has joined.
func run(n, workers int, newWorker func() worker) error {
	if n == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n)

	errs := make([]error, n)
	if workers == 1 {
		w := newWorker()
		for i := range n {
			errs[i] = w.do(i)
		}
	} else {
		var next atomic.Int64
		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				w := newWorker()
				for {
					i := int(next.Add(1)) - 1
					if i >= n {
						return nil
					}
					errs[i] = w.do(i)
				}
			})
		}
		_ = g.Wait() // workers record errors per descriptor, never fail
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
