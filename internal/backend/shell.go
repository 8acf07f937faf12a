package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Result is the captured output of a command list.
type Result struct {
	Stdout    []byte
	Stderr    []byte
	Completed int // commands that exited successfully
}

// Shell runs build commands as local subprocesses.
type Shell struct {
	pm  *ProcessManager
	env []string
}

// NewShell creates a Shell that registers its subprocesses with pm (which
// may be nil) and adds env to the inherited environment.
func NewShell(pm *ProcessManager, env ...string) *Shell {
	return &Shell{pm: pm, env: env}
}

// Run executes cmds one after the other in dir and stops at the first
// failure. When ctx is cancelled the running command's process group is
// killed and the cancel cause is returned.
func (s *Shell) Run(ctx context.Context, dir string, cmds [][]string) (Result, error) {
	var res Result
	for i, argv := range cmds {
		if len(argv) == 0 || argv[0] == "" {
			return res, fmt.Errorf("command %d is empty", i)
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("build interrupted before %q: %w", argv[0], context.Cause(ctx))
		}

		cmd := newCommand(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), s.env...)

		stdout, stderr, err := s.execute(cmd)
		res.Stdout = append(res.Stdout, stdout...)
		res.Stderr = append(res.Stderr, stderr...)
		if err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("%s interrupted: %w", strings.Join(argv, " "), context.Cause(ctx))
			}
			return res, fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
		}
		res.Completed++
	}
	return res, nil
}

// execute starts cmd, drains stdout and stderr concurrently so a chatty build
// cannot fill a pipe and stall, and only then waits for it.
func (s *Shell) execute(cmd *exec.Cmd) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if s.pm != nil {
		s.pm.Track(cmd)
		defer s.pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	stdout, stderr = stdoutBuf.Bytes(), stderrBuf.Bytes()
	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, strings.TrimSpace(string(stderr)))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}
	return stdout, stderr, nil
}
