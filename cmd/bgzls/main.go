// bgzls lists the blocks of a BGZF stream: offset, on-wire size, payload
// size, inflated size, and CRC of every block, plus stream totals. Useful
// for checking block layout and spotting truncated or foreign trailing
// data without decompressing anything.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vertti/bgzkit/internal/block"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputFile = flag.String("i", "", "input BGZF file (default: stdin)")
		quiet     = flag.Bool("q", false, "print totals only")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `bgzls - List BGZF blocks

Prints one line per block with its offset, sizes, and checksum.

Usage:
  bgzls -i calls.vcf.bgz
  cat calls.vcf.bgz | bgzls

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle positional argument
	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}

	reader, cleanup, err := openInput(*inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return list(data, os.Stdout, *quiet)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func list(data []byte, w io.Writer, quiet bool) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if !quiet {
		fmt.Fprintln(bw, "offset\tsize\tpayload\tinflated\tcrc32")
	}

	cur := block.NewCursor(data)
	var blocks, inflated int
	for {
		offset := cur.Offset()
		blk, err := block.Parse(&cur)
		if errors.Is(err, block.ErrNeedMoreBytes) {
			if tail := cur.Tail(); tail != nil {
				return fmt.Errorf("stream ends inside a block at offset %d (%d trailing bytes)", offset, len(tail))
			}
			break
		}
		if err != nil {
			return fmt.Errorf("at offset %d: %w", offset, err)
		}

		blocks++
		inflated += blk.InflatedSize
		if !quiet {
			mark := ""
			if blk.InflatedSize == 0 {
				mark = "\teof"
			}
			fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%08x%s\n", offset, blk.Size, len(blk.Payload), blk.InflatedSize, blk.CRC, mark)
		}
	}

	fmt.Fprintf(bw, "%d blocks, %d compressed bytes, %d inflated bytes\n", blocks, len(data), inflated)
	return bw.Flush()
}
