package worker

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunShellCapturesOutputAndStreamsLines(t *testing.T) {
	var lines []string
	out, err := RunShell(context.Background(), t.TempDir(),
		"echo one; echo two", nil, 1<<20, func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "one\ntwo\n" {
		t.Fatalf("captured output = %q", out)
	}
	if len(lines) != 2 || lines[0] != "one\n" || lines[1] != "two\n" {
		t.Fatalf("streamed lines = %v", lines)
	}
}

func TestRunShellAppendsEnvToInherited(t *testing.T) {
	out, err := RunShell(context.Background(), t.TempDir(),
		"echo CI=$CI NODE_ENV=$NODE_ENV", []string{"CI=true", "NODE_ENV=production"}, 1<<20, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "CI=true NODE_ENV=production\n" {
		t.Fatalf("injected env not visible to command: %q", out)
	}
}

func TestRunShellReturnsOutputOnFailure(t *testing.T) {
	out, err := RunShell(context.Background(), t.TempDir(),
		"echo broken; exit 3", nil, 1<<20, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "broken") {
		t.Fatalf("failure output lost: %q", out)
	}
}

func TestRunShellBoundsOutput(t *testing.T) {
	out, err := RunShell(context.Background(), t.TempDir(),
		"i=0; while [ $i -lt 1000 ]; do echo line-$i; i=$((i+1)); done", nil, 256, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "output truncated") {
		t.Fatal("expected truncation marker")
	}
	if !strings.Contains(out, "line-999") {
		t.Fatalf("tail of output missing: %q", out)
	}
	if strings.Contains(out, "line-1\n") && len(out) > 400 {
		t.Fatalf("head of output retained beyond limit: %d bytes", len(out))
	}
}

func TestRunShellHonorsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := RunShell(ctx, t.TempDir(), "sleep 5", nil, 1<<20, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("unexpected error: %v", err)
	}
}
