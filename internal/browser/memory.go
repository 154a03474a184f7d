package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/shirou/gopsutil/v3/process"
)

// memoryUsage returns the resident size of the Chrome process tree when the
// process is local (pid > 0), and the JS heap of the first page otherwise.
func memoryUsage(ctx context.Context, b *rod.Browser, pid int) (int64, error) {
	if pid > 0 {
		return processTreeRSS(ctx, int32(pid))
	}
	return jsHeapUsage(b)
}

// processTreeRSS sums RSS over pid and all of its descendants: renderers
// are children of the browser process.
func processTreeRSS(ctx context.Context, pid int32) (int64, error) {
	root, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, fmt.Errorf("browser: process %d: %w", pid, err)
	}

	var total int64
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		mi, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			if p == root {
				return 0, fmt.Errorf("browser: memory of %d: %w", pid, err)
			}
			continue
		}
		total += int64(mi.RSS)

		kids, err := p.ChildrenWithContext(ctx)
		if err != nil && !errors.Is(err, process.ErrorNoChildren) {
			continue
		}
		queue = append(queue, kids...)
	}
	return total, nil
}

func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return 0, errors.New("browser: no page to sample heap from")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, fmt.Errorf("browser: heap eval: %w", err)
	}
	return int64(res.Value.Int()), nil
}
