package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const maxStderrLen = 500

// Executor runs an external extraction tool and returns its stdout.
type Executor interface {
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
}

// limitedWriter caps writes to a bytes.Buffer at a maximum byte count.
// Bytes beyond the limit are discarded.
type limitedWriter struct {
	buf *bytes.Buffer
	n   int64
	max int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n >= w.max {
		return len(p), nil
	}
	origLen := len(p)
	if remaining := w.max - w.n; int64(origLen) > remaining {
		p = p[:remaining]
	}
	n, err := w.buf.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	return origLen, nil
}

// ExecExecutor runs tools with os/exec. On failure the first bytes of stderr
// become the error message and the *exec.ExitError stays reachable with errors.As.
type ExecExecutor struct{}

// Run implements Executor.
func (ExecExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &limitedWriter{buf: &stderr, max: maxStderrLen}
	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %s: %w", cmd, strings.Join(args, " "), msg, err)
		}
		return nil, fmt.Errorf("%s %s: %w", cmd, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}
