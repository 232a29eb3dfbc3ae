// bgz compresses and decompresses BGZF (blocked gzip) streams.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vertti/bgzkit/internal/bgzip"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	decompress bool
	inputFile  string
	outputFile string
	toStdout   bool
	workers    int
	bufferSize int
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done := parseFlags()
	if done {
		return exitSuccess
	}

	input, cleanup, err := openInput(cfg.inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	output, cleanup, err := openOutput(cfg.outputFile, cfg.toStdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	if err := execute(cfg, input, output); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	return exitSuccess
}

func parseFlags() (config, bool) {
	var cfg config
	var showVersion, showHelp bool

	flag.BoolVar(&cfg.decompress, "d", false, "decompress mode")
	flag.StringVar(&cfg.inputFile, "i", "", "input file (default: stdin)")
	flag.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout)")
	flag.BoolVar(&cfg.toStdout, "c", false, "write to stdout")
	flag.IntVar(&cfg.workers, "w", 0, "parallel workers for compression and decompression (default: NumCPU)")
	flag.IntVar(&cfg.bufferSize, "b", 0, "decompression buffer size in bytes (default: 50 MiB)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return cfg, true
	}

	if showVersion {
		fmt.Printf("bgz version %s\n", version)
		return cfg, true
	}

	// Handle positional arguments
	args := flag.Args()
	if len(args) > 0 && cfg.inputFile == "" {
		cfg.inputFile = args[0]
	}
	if len(args) > 1 && cfg.outputFile == "" {
		cfg.outputFile = args[1]
	}

	return cfg, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `bgz - Parallel BGZF compression tool

Usage:
  bgz [options] [-i input] [-o output.bgz]      Compress to BGZF
  bgz -d [-i input.bgz] [-o output]             Decompress

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  bgz -i calls.vcf -o calls.vcf.bgz          Compress file
  bgz -d -i calls.vcf.bgz -o calls.vcf       Decompress file
  cat calls.vcf | bgz -c > calls.vcf.bgz     Compress from stdin
  bgz -d < calls.vcf.bgz > calls.vcf         Decompress to stdout
`)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	return bufio.NewReaderSize(f, 1<<20), func() { _ = f.Close() }, nil
}

func openOutput(path string, toStdout bool) (io.Writer, func(), error) {
	if path == "" || path == "-" || toStdout {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}

func execute(cfg config, input io.Reader, output io.Writer) error {
	if cfg.decompress {
		r, err := bgzip.NewReader(input, &bgzip.ReaderOptions{
			Workers:    cfg.workers,
			BufferSize: cfg.bufferSize,
		})
		if err != nil {
			return err
		}
		_, err = io.Copy(output, r)
		return err
	}

	w, err := bgzip.NewWriter(output, &bgzip.WriterOptions{Workers: cfg.workers})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, input); err != nil {
		return err
	}
	return w.Close()
}
