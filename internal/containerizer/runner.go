package containerizer

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"devstack/pkg/logging"
)

// CommandRunner executes the runtime CLI.
type CommandRunner interface {
	// Run executes the command to completion and returns its output.
	Run(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
	// Stream starts the command and returns its combined output. Closing the
	// reader terminates the command.
	Stream(ctx context.Context, name string, args []string) (io.ReadCloser, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	logging.Debug("Containerizer", "Running: %s %s", name, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (execRunner) Stream(ctx context.Context, name string, args []string) (io.ReadCloser, error) {
	logging.Debug("Containerizer", "Streaming: %s %s", name, strings.Join(args, " "))

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		pw.CloseWithError(cmd.Wait())
	}()
	return &streamReader{PipeReader: pr, cancel: cancel}, nil
}

type streamReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *streamReader) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}
