package jobmanager

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/nixpig/batchq/internal/jobmanager/output"
	"github.com/rs/zerolog"
)

// BackgroundJob runs its command as a child process without waiting for it.
// UpdateStatus checks, without blocking, whether the process has exited.
type BackgroundJob struct {
	base

	cmd    *exec.Cmd
	outBuf *output.Buffer
	errBuf *output.Buffer

	done chan struct{}
}

// NewBackgroundJob creates a BackgroundJob for command.
func NewBackgroundJob(
	id int,
	command string,
	log zerolog.Logger,
) *BackgroundJob {
	return newBackgroundJob(id, ModeBackground, command, log)
}

func newBackgroundJob(
	id int,
	mode Mode,
	command string,
	log zerolog.Logger,
) *BackgroundJob {
	return &BackgroundJob{
		base:   newBase(id, mode, command, log),
		outBuf: output.NewBuffer(),
		errBuf: output.NewBuffer(),
		done:   make(chan struct{}),
	}
}

// Submit starts the process and returns immediately.
func (j *BackgroundJob) Submit(ctx context.Context) error {
	if err := j.markRunning(); err != nil {
		return err
	}

	j.cmd = shellCommand(j.command, j.outBuf, j.errBuf)

	if err := j.cmd.Start(); err != nil {
		j.state.Store(StatusInit)
		return fmt.Errorf("failed to start process: %w", err)
	}

	go func() {
		// Wait returns once the process exits and its output is fully copied.
		j.cmd.Wait()

		close(j.done)
	}()

	return nil
}

// UpdateStatus moves the Job to Done if the process has exited, collecting
// its output.
func (j *BackgroundJob) UpdateStatus(ctx context.Context) error {
	if j.state.Load() != StatusRunning {
		return nil
	}

	select {
	case <-j.done:
		j.finish(j.outBuf, j.errBuf, j.cmd.ProcessState)
	default:
	}

	return nil
}

// Done returns a channel that is closed when the process has exited. It is
// closed before the Job is seen as Done by UpdateStatus.
func (j *BackgroundJob) Done() <-chan struct{} {
	return j.done
}
