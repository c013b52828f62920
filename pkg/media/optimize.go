package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/metrics"
	"github.com/openzim/mwoffliner/pkg/queue"
)

// maxOptimizeAttempts bounds the probe-and-run loop per file. Files
// with a lying extension get re-probed between attempts.
const maxOptimizeAttempts = 5

// Optimizer shrinks image files with the external jpegoptim, pngquant,
// advdef and gifsicle tools. Every invocation is a direct argv exec;
// nothing goes through a shell. Missing tools downgrade optimization to
// a no-op for their format.
type Optimizer struct {
	q *queue.Queue

	// run is swapped out in tests.
	run func(ctx context.Context, name string, args ...string) error

	mu    sync.Mutex
	tools map[string]bool
}

// NewOptimizer builds the optimization stage with the given queue
// width.
func NewOptimizer(width int) *Optimizer {
	return &Optimizer{
		q: queue.New("optimize", width),
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("%s: %w (%s)", name, err, strings.TrimSpace(stderr.String()))
			}
			return nil
		},
		tools: make(map[string]bool),
	}
}

// Schedule queues one file for optimization. onDone runs after a
// successful shrink (not on skip or failure).
func (o *Optimizer) Schedule(ctx context.Context, path string, onDone func()) {
	o.q.Push(func() {
		ok, err := o.optimize(ctx, path)
		if err != nil {
			logger.Debug("optimization failed", "path", path, "error", err)
			return
		}
		if ok {
			metrics.MediaOptimized.Inc()
			if onDone != nil {
				onDone()
			}
		}
	})
}

// Drain waits for the optimization queue to quiesce.
func (o *Optimizer) Drain(ctx context.Context) error {
	if err := o.q.Wait(ctx); err != nil {
		return fmt.Errorf("optimize queue: %w", err)
	}
	return nil
}

// Close stops the workers.
func (o *Optimizer) Close() {
	o.q.Close()
}

// available memoizes exec.LookPath per tool.
func (o *Optimizer) available(tool string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ok, seen := o.tools[tool]
	if !seen {
		_, err := exec.LookPath(tool)
		ok = err == nil
		if !ok {
			logger.Warn("optimizer tool not found, format left unoptimized", "tool", tool)
		}
		o.tools[tool] = ok
	}
	return ok
}

// optimize probes the file's real format and runs the matching tool.
// Results that grew the file are rolled back. Returns whether the file
// shrank.
func (o *Optimizer) optimize(ctx context.Context, path string) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= maxOptimizeAttempts; attempt++ {
		mime, err := o.probe(ctx, path)
		if err != nil {
			return false, err
		}
		shrunk, err := o.runFor(ctx, mime, path)
		if err == nil {
			return shrunk, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return false, lastErr
}

// probe asks file(1) for the real MIME type; extensions lie on wikis.
func (o *Optimizer) probe(ctx context.Context, path string) (string, error) {
	if !o.available("file") {
		return "", fmt.Errorf("file(1) unavailable")
	}
	cmd := exec.CommandContext(ctx, "file", "-b", "--mime-type", path)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("file probe: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// runFor dispatches on MIME type. Unknown formats are a successful
// no-op.
func (o *Optimizer) runFor(ctx context.Context, mime, path string) (bool, error) {
	switch mime {
	case "image/jpeg":
		return o.optimizeJPEG(ctx, path)
	case "image/png":
		return o.optimizePNG(ctx, path)
	case "image/gif":
		return o.optimizeGIF(ctx, path)
	default:
		return false, nil
	}
}

// withRollback snapshots the file, runs fn, and restores the snapshot
// when the result is not smaller.
func (o *Optimizer) withRollback(path string, fn func() error) (bool, error) {
	before, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot %s: %w", path, err)
	}
	if err := fn(); err != nil {
		// The tool may have left a partial file behind.
		if restoreErr := os.WriteFile(path, before, 0644); restoreErr != nil {
			return false, fmt.Errorf("restore after %v: %w", err, restoreErr)
		}
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.Size() >= int64(len(before)) {
		if err := os.WriteFile(path, before, 0644); err != nil {
			return false, fmt.Errorf("failed to restore grown file: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func (o *Optimizer) optimizeJPEG(ctx context.Context, path string) (bool, error) {
	if !o.available("jpegoptim") {
		return false, nil
	}
	return o.withRollback(path, func() error {
		return o.run(ctx, "jpegoptim", "--strip-all", "--force", "--all-normal", "--max=40", path)
	})
}

func (o *Optimizer) optimizePNG(ctx context.Context, path string) (bool, error) {
	if !o.available("pngquant") {
		return false, nil
	}
	return o.withRollback(path, func() error {
		if err := o.run(ctx, "pngquant", "--nofs", "--force", "--ext", ".png", "--", path); err != nil {
			return err
		}
		// advdef recompresses the deflate stream; optional extra win.
		if o.available("advdef") {
			if err := o.run(ctx, "advdef", "-q", "-z", "-4", "-i", "5", path); err != nil {
				logger.Debug("advdef pass failed", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (o *Optimizer) optimizeGIF(ctx context.Context, path string) (bool, error) {
	if !o.available("gifsicle") {
		return false, nil
	}
	return o.withRollback(path, func() error {
		tmp := path + ".opt"
		if err := o.run(ctx, "gifsicle", "--colors", "64", "-O3", path, "-o", tmp); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, path)
	})
}
