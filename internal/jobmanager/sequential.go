package jobmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SubJobFunc creates the sub-job that runs one command of a SequentialJob.
type SubJobFunc func(command string) (Job, error)

// SequentialJob runs a chain of sub-jobs, one at a time, drawing each command
// from a Source. A sub-job that fails, or can't be submitted, doesn't stop the
// chain; the Job is Done once the Source is exhausted. Command reports the
// first sub-job's command.
type SequentialJob struct {
	base

	source  Source
	newJob  SubJobFunc
	current Job

	stdouts []string
	stderrs []string
}

// NewSequentialJob creates a SequentialJob drawing commands from source and
// running each through a sub-job made by newJob.
func NewSequentialJob(
	id int,
	source Source,
	newJob SubJobFunc,
	log zerolog.Logger,
) *SequentialJob {
	return &SequentialJob{
		base:   newBase(id, ModeSequential, "", log),
		source: source,
		newJob: newJob,
	}
}

// Stdout returns the stdout of all completed sub-jobs, concatenated.
func (j *SequentialJob) Stdout() string {
	return strings.Join(j.Stdouts(), "")
}

// Stderr returns the stderr of all completed sub-jobs, concatenated.
func (j *SequentialJob) Stderr() string {
	return strings.Join(j.Stderrs(), "")
}

// Stdouts returns the stdout of each completed sub-job, in order. It is empty
// until the Job is Done.
func (j *SequentialJob) Stdouts() []string {
	if j.Status() != StatusDone {
		return nil
	}

	return append([]string(nil), j.stdouts...)
}

// Stderrs returns the stderr of each completed sub-job, in order. It is empty
// until the Job is Done.
func (j *SequentialJob) Stderrs() []string {
	if j.Status() != StatusDone {
		return nil
	}

	return append([]string(nil), j.stderrs...)
}

// Submit pulls the first command and submits its sub-job. With an empty
// Source the Job completes immediately. If the first sub-job can't be
// submitted, the error is returned and the Job stays in StatusInit.
func (j *SequentialJob) Submit(ctx context.Context) error {
	if err := j.checkInit(); err != nil {
		return err
	}

	command, ok := j.source.Next()
	if !ok {
		if err := j.markRunning(); err != nil {
			return err
		}

		j.state.Store(StatusDone)
		return nil
	}

	if err := j.start(ctx, command); err != nil {
		return err
	}

	return j.markRunning()
}

// UpdateStatus polls the current sub-job. When it is Done, its output is
// recorded and the next command, if any, is submitted. A command whose
// sub-job can't be submitted is recorded as a failed step, with the error as
// its stderr, and the following command is pulled on the next poll.
func (j *SequentialJob) UpdateStatus(ctx context.Context) error {
	if j.state.Load() != StatusRunning {
		return nil
	}

	if j.current != nil {
		if err := j.current.UpdateStatus(ctx); err != nil {
			return err
		}

		if j.current.Status() != StatusDone {
			return nil
		}

		j.stdouts = append(j.stdouts, j.current.Stdout())
		j.stderrs = append(j.stderrs, j.current.Stderr())

		j.log.Debug().
			Int("step", len(j.stdouts)).
			Int("exit_code", j.current.ExitCode()).
			Msg("sub-job done")

		j.current = nil
	}

	command, ok := j.source.Next()
	if !ok {
		j.state.Store(StatusDone)
		return nil
	}

	if err := j.start(ctx, command); err != nil {
		j.stdouts = append(j.stdouts, "")
		j.stderrs = append(j.stderrs, err.Error()+"\n")

		j.log.Warn().
			Err(err).
			Int("step", len(j.stdouts)).
			Str("command", command).
			Msg("skipping sub-job")
	}

	return nil
}

func (j *SequentialJob) start(ctx context.Context, command string) error {
	sub, err := j.newJob(command)
	if err != nil {
		return fmt.Errorf("create sub-job: %w", err)
	}

	if err := sub.Submit(ctx); err != nil {
		return fmt.Errorf("submit sub-job: %w", err)
	}

	j.current = sub

	if j.command == "" {
		j.command = sub.Command()
	}

	return nil
}
