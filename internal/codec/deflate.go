package codec

import (
	"fmt"

	"github.com/vertti/bgzkit/internal/block"
)

type deflateJob struct {
	in  []byte
	out []byte
}

// DeflateBatch splits src into windows of at most block.MaxDataSize bytes
// and deflates them in parallel, one framed block per output buffer. Each
// output buffer must be at least block.MaxBlockSize bytes. The number of
// blocks produced is the smallest of the window count, len(outBufs), and
// MaxBatchBlocks; the caller slices outBufs to the returned on-wire sizes
// and resubmits any input beyond blocks*MaxDataSize. Empty src deflates to
// a single empty block.
func DeflateBatch(src []byte, outBufs [][]byte, workers int) ([]int, error) {
	windows := (len(src) + block.MaxDataSize - 1) / block.MaxDataSize
	if windows == 0 {
		windows = 1
	}
	n := min(windows, len(outBufs), MaxBatchBlocks)
	for i := range n {
		if len(outBufs[i]) < block.MaxBlockSize {
			return nil, fmt.Errorf("output buffer %d too small: has %d bytes, need %d", i, len(outBufs[i]), block.MaxBlockSize)
		}
	}

	jobs := make([]deflateJob, n)
	for i := range jobs {
		start := i * block.MaxDataSize
		end := min(start+block.MaxDataSize, len(src))
		jobs[i] = deflateJob{in: src[start:end], out: outBufs[i]}
	}

	sizes := make([]int, n)
	err := run(n, workers, func() worker { return &deflateWorker{jobs: jobs, sizes: sizes} })
	if err != nil {
		return nil, err
	}
	return sizes, nil
}

type deflateWorker struct {
	jobs  []deflateJob
	sizes []int
	d     *block.Deflater
}

func (w *deflateWorker) do(i int) error {
	if w.d == nil {
		var err error
		if w.d, err = block.NewDeflater(); err != nil {
			return err
		}
	}
	n, err := w.d.Deflate(w.jobs[i].out, w.jobs[i].in)
	if err != nil {
		return err
	}
	w.sizes[i] = n
	return nil
}
