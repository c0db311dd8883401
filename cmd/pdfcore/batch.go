package main

import (
	"context"
	"flag"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// runBatchInspect inspects many files concurrently, bounded by -j slots —
// the same acquire/release-around-one-document shape as the retrieved
// sassoftware-pdf-xtract processor's semaphore.Weighted pool, generalized
// from "pages within one document" to "documents within one batch run".
func runBatchInspect(args []string) error {
	fs := flag.NewFlagSet("batch-inspect", flag.ExitOnError)
	concurrency := fs.Int("j", 4, "max documents processed in parallel")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("batch-inspect: no input files")
	}
	if *concurrency < 1 {
		*concurrency = 1
	}

	ctx := context.Background()
	sem := semaphore.NewWeighted(int64(*concurrency))

	type result struct {
		path    string
		summary string
		err     error
	}
	results := make([]result, fs.NArg())

	var wg sync.WaitGroup
	for i := 0; i < fs.NArg(); i++ {
		i, path := i, fs.Arg(i)
		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("batch-inspect: acquire slot: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			summary, err := inspectFile(path)
			results[i] = result{path: path, summary: summary, err: err}
		}()
	}
	wg.Wait()

	failed := false
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("%s: error: %s\n", r.path, r.err)
			failed = true
			continue
		}
		fmt.Print(r.summary)
	}
	if failed {
		return fmt.Errorf("batch-inspect: one or more files failed")
	}
	return nil
}
