// Package codec provides the batched BGZF operations: scan a set of input
// chunks for blocks and inflate them in parallel, or split an input buffer
// into windows and deflate them in parallel. Planning and result assembly
// are single-threaded; only block execution fans out.
package codec

import (
	"errors"

	"github.com/vertti/bgzkit/internal/block"
)

// MaxBatchBlocks bounds the number of blocks planned per call. Tuning knob:
// descriptors live in one heap slice sized by it.
const MaxBatchBlocks = 300

// ErrBatchFull reports an atomic chunk holding more blocks than one batch
// admits. Rolling it back would leave the caller retrying the same chunk
// forever, so the impossibility is surfaced instead.
var ErrBatchFull = errors.New("bgzf: atomic chunk exceeds the batch block bound")

// InflateResult reports what one InflateBatch call accomplished.
type InflateResult struct {
	BytesRead    int      // total source bytes consumed across all chunks
	BytesWritten int      // total bytes written into dst
	BlockSizes   []int    // inflated size of each block, in planning order
	ChunkBlocks  []int    // number of blocks planned per source chunk
	Tails        [][]byte // unconsumed suffix of each chunk, nil when fully consumed
}

type inflateJob struct {
	blk block.Block
	out []byte
}

// InflateBatch scans chunks for BGZF blocks in order and inflates them in
// parallel into dst. Planning stops once MaxBatchBlocks blocks are queued or
// dst cannot admit another block; a chunk's trailing partial block becomes
// its tail. With atomic set, a chunk is either consumed completely or not at
// all; an atomic chunk that fills an otherwise empty batch and still has
// bytes left can never be consumed whole and fails with ErrBatchFull, while
// one that hits the bound after earlier chunks took batch slots is rolled
// back without an error. workers <= 0 uses one worker per CPU.
//
// A malformed block header aborts the whole call. A dst too small to admit
// even the first block is not an error: the result simply reports no
// progress and the caller retries with more room.
func InflateBatch(chunks [][]byte, dst []byte, workers int, atomic bool) (*InflateResult, error) {
	res := &InflateResult{
		ChunkBlocks: make([]int, len(chunks)),
		Tails:       make([][]byte, len(chunks)),
	}
	jobs := make([]inflateJob, 0, MaxBatchBlocks)

	outOff := 0
	planning := true
	for ci, chunk := range chunks {
		cur := block.NewCursor(chunk)
		chunkJobs := len(jobs)
		chunkOut := outOff
		batchFull := false
		for planning {
			if len(jobs) == MaxBatchBlocks {
				planning = false
				batchFull = true
				break
			}
			saved := cur
			blk, err := block.Parse(&cur)
			if errors.Is(err, block.ErrNeedMoreBytes) {
				break // partial trailing block, carried as this chunk's tail
			}
			if err != nil {
				return nil, err
			}
			if outOff+blk.InflatedSize > len(dst) {
				cur = saved
				planning = false
				break
			}
			jobs = append(jobs, inflateJob{
				blk: blk,
				out: dst[outOff : outOff+blk.InflatedSize],
			})
			outOff += blk.InflatedSize
		}

		if atomic && cur.Offset() > 0 && cur.Offset() < len(chunk) {
			if batchFull && chunkJobs == 0 {
				// The chunk alone filled the batch from empty and still
				// did not finish: no retry can ever consume it whole.
				return nil, ErrBatchFull
			}
			// Roll the whole chunk back: planning stopped partway through.
			jobs = jobs[:chunkJobs]
			outOff = chunkOut
			cur = block.NewCursor(chunk)
		}

		res.ChunkBlocks[ci] = len(jobs) - chunkJobs
		res.BytesRead += cur.Offset()
		res.Tails[ci] = cur.Tail()
	}

	if err := run(len(jobs), workers, func() worker { return newInflateWorker(jobs) }); err != nil {
		return nil, err
	}

	res.BytesWritten = outOff
	res.BlockSizes = make([]int, len(jobs))
	for i := range jobs {
		res.BlockSizes[i] = jobs[i].blk.InflatedSize
	}
	return res, nil
}

type inflateWorker struct {
	jobs []inflateJob
	inf  *block.Inflater
}

func newInflateWorker(jobs []inflateJob) worker {
	return &inflateWorker{jobs: jobs, inf: block.NewInflater()}
}

func (w *inflateWorker) do(i int) error {
	return w.inf.Inflate(w.jobs[i].out, &w.jobs[i].blk)
}
