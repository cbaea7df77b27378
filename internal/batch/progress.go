package batch

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress receives updates while a batch runs. Done is called from the
// collecting goroutine only, in completion order.
type Progress interface {
	Start(total int)
	Done(item Item, completed, total int)
	Finish(items []Item)
}

// ConsoleProgress writes one line per finished source and a summary.
type ConsoleProgress struct {
	w     io.Writer
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
}

// NewConsoleProgress reports to w, usually stderr.
func NewConsoleProgress(w io.Writer) *ConsoleProgress {
	return &ConsoleProgress{w: w, now: time.Now}
}

func (c *ConsoleProgress) Start(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
	_, _ = fmt.Fprintf(c.w, "Processing %d source(s)\n", total)
}

func (c *ConsoleProgress) Done(item Item, completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "ok"
	switch {
	case item.Err != nil:
		status = "error: " + item.Err.Error()
	case item.Result != nil && item.Result.NoText():
		status = "no text"
	}
	_, _ = fmt.Fprintf(c.w, "[%d/%d] %s: %s\n", completed, total, item.Name(), status)
}

func (c *ConsoleProgress) Finish(items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.now().Sub(c.start).Round(time.Millisecond)
	_, _ = fmt.Fprintf(c.w, "Processed %d source(s) in %v, %d failed\n", len(items), elapsed, Failed(items))
}
