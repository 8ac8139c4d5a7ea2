package capability

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"time"
)

// waitDelay bounds how long Shell waits for the output pipes after the
// interpreter exits or is killed; a backgrounded grandchild holding
// stdout must not keep the task alive.
const waitDelay = 2 * time.Second

// ShellCommand builds the interpreter invocation for command:
// "/bin/sh -c" on Unix, "cmd.exe /C" on Windows.
func ShellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

// Shell runs command through the system interpreter in dir with stdout
// and stderr merged into w.  The process is killed when ctx ends.
//
// ran reports whether the interpreter started at all; err carries the
// exit status or the start failure.
func Shell(ctx context.Context, dir, command string, w io.Writer) (ran bool, err error) {
	cmd := ShellCommand(ctx, command)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start %q: %w", cmd.Path, err)
	}
	if err := cmd.Wait(); err != nil {
		return true, fmt.Errorf("shell: %w", err)
	}
	return true, nil
}
