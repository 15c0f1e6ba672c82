package jobmanager

import (
	"context"
	"fmt"

	"github.com/nixpig/batchq/internal/jobmanager/output"
	"github.com/rs/zerolog"
)

// ForegroundJob runs its command synchronously. Submit blocks until the
// process exits, so the Job is already Done when Submit returns.
type ForegroundJob struct {
	base
}

// NewForegroundJob creates a ForegroundJob for command.
func NewForegroundJob(
	id int,
	command string,
	log zerolog.Logger,
) *ForegroundJob {
	return &ForegroundJob{base: newBase(id, ModeForeground, command, log)}
}

// Submit runs the command to completion. A non-zero exit still completes the
// Job; only a failure to start the process is returned as an error, in which
// case the Job stays in StatusInit.
func (j *ForegroundJob) Submit(ctx context.Context) error {
	if err := j.markRunning(); err != nil {
		return err
	}

	stdout, stderr := output.NewBuffer(), output.NewBuffer()
	cmd := shellCommand(j.command, stdout, stderr)

	if err := cmd.Start(); err != nil {
		j.state.Store(StatusInit)
		return fmt.Errorf("failed to start process: %w", err)
	}

	// Exit status is read from ProcessState below.
	_ = cmd.Wait()

	j.finish(stdout, stderr, cmd.ProcessState)

	return nil
}

// UpdateStatus does nothing; Submit already drove the Job to Done.
func (j *ForegroundJob) UpdateStatus(ctx context.Context) error {
	return nil
}
