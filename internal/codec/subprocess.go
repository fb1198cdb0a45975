package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"
)

// ErrBinaryNotFound is returned when a required executable is not on PATH.
var ErrBinaryNotFound = errors.New("binary not found")

// Runner executes short-lived media subprocesses with their input fully
// prepared before start, bounding how many run at once.
type Runner struct {
	sem *semaphore.Weighted
}

// NewRunner creates a runner allowing up to limit concurrent processes.
func NewRunner(limit int) *Runner {
	if limit <= 0 {
		limit = 4
	}
	return &Runner{sem: semaphore.NewWeighted(int64(limit))}
}

// Run executes name with args, feeding stdin and returning stdout. The
// process is killed when ctx ends.
func (r *Runner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for %s slot: %w", name, err)
	}
	defer r.sem.Release(1)

	cmd := exec.CommandContext(ctx, path, args...)
	// stdin is set before start so the child never races the writer
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}
