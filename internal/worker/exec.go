package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// CommandRunner executes a shell command in dir with env appended to the
// inherited environment, streaming output lines to onLine and returning the
// captured tail. Implemented by RunShell in production and by fakes in tests.
type CommandRunner func(ctx context.Context, dir, command string, env []string, limitBytes int, onLine func(string)) (string, error)

// RunShell runs command through the shell with combined output captured into
// a bounded tail buffer. Output beyond the limit drops from the front, so
// the failure-relevant end of a noisy build survives.
func RunShell(ctx context.Context, dir, command string, env []string, limitBytes int, onLine func(string)) (string, error) {
	if command == "" {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	tail := newTailBuffer(limitBytes)
	stream := &lineWriter{tail: tail, onLine: onLine}
	cmd.Stdout = stream
	cmd.Stderr = stream

	err := cmd.Run()
	stream.flush()
	if err != nil {
		if ctx.Err() != nil {
			return tail.String(), fmt.Errorf("command %q timed out: %w", command, ctx.Err())
		}
		return tail.String(), fmt.Errorf("command %q failed: %w", command, err)
	}
	return tail.String(), nil
}

// tailBuffer keeps at most limit bytes, discarding from the front.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
		t.truncated = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.truncated {
		return "... (output truncated)\n" + string(t.buf)
	}
	return string(t.buf)
}

// lineWriter splits a combined output stream into lines for the log sink
// while teeing everything into the tail buffer.
type lineWriter struct {
	tail    *tailBuffer
	onLine  func(string)
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if _, err := w.tail.Write(p); err != nil {
		return 0, err
	}
	if w.onLine == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(w.partial[:idx+1])
		w.partial = w.partial[idx+1:]
		w.onLine(line)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.onLine != nil && len(w.partial) > 0 {
		w.onLine(string(w.partial) + "\n")
		w.partial = nil
	}
}
