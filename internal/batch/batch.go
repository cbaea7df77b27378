// Package batch runs extraction over many sources with a bounded worker
// pool. Results keep the order of the input references.
package batch

import (
	"context"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/source"
)

// Extractor is the part of *extract.Pipeline a batch needs.
type Extractor interface {
	Extract(ctx context.Context, data []byte, threshold float64) (*extract.Result, error)
}

// Opener resolves a reference into image bytes.
type Opener interface {
	Open(ctx context.Context, ref string) (*source.Payload, error)
}

// Options configure a run.
type Options struct {
	Workers   int // 0 uses runtime.NumCPU()
	Threshold float64
	Progress  Progress // optional
}

// Item is the outcome for one reference. Payload is nil when the source
// could not be opened. Err is set when opening or extraction failed.
type Item struct {
	Ref     string
	Payload *source.Payload
	Result  *extract.Result
	Err     error
}

// Name is the payload name, or the reference if nothing was opened.
func (it Item) Name() string {
	if it.Payload != nil {
		return it.Payload.Name
	}
	return it.Ref
}

// Failed counts items with an error.
func Failed(items []Item) int {
	n := 0
	for _, it := range items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Run opens and extracts every reference. One failing source does not stop
// the others. When ctx is cancelled, items that never ran carry ctx.Err().
func Run(ctx context.Context, ex Extractor, op Opener, refs []string, opts Options) []Item {
	items := make([]Item, len(refs))
	if len(refs) == 0 {
		return items
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(refs))

	if opts.Progress != nil {
		opts.Progress.Start(len(refs))
		defer opts.Progress.Finish(items)
	}

	jobs := make(chan int)
	done := make(chan int, len(refs))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = process(ctx, ex, op, refs[i], opts.Threshold)
				done <- i
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range refs {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	ran := make([]bool, len(refs))
	completed := 0
	for i := range done {
		ran[i] = true
		completed++
		if opts.Progress != nil {
			opts.Progress.Done(items[i], completed, len(refs))
		}
	}

	for i, ok := range ran {
		if !ok {
			items[i] = Item{Ref: refs[i], Err: context.Cause(ctx)}
		}
	}
	return items
}

func process(ctx context.Context, ex Extractor, op Opener, ref string, threshold float64) Item {
	it := Item{Ref: ref}
	if err := ctx.Err(); err != nil {
		it.Err = err
		return it
	}
	it.Payload, it.Err = op.Open(ctx, ref)
	if it.Err != nil {
		return it
	}
	it.Result, it.Err = ex.Extract(ctx, it.Payload.Data, threshold)
	return it
}
