package jobmanager

import (
	"context"
	"fmt"

	"github.com/nixpig/batchq/internal/slurm"
	"github.com/rs/zerolog"
)

// SlurmClient submits batch jobs and lists the caller's active Slurm job IDs.
// It is satisfied by *slurm.Client.
type SlurmClient interface {
	Submit(ctx context.Context, command string) (string, error)
	ActiveJobs(ctx context.Context) (map[string]struct{}, error)
}

// NewSrunJob creates a BackgroundJob running command through srun. The
// command must already be rendered by a slurm.Builder.
func NewSrunJob(id int, command string, log zerolog.Logger) *BackgroundJob {
	return newBackgroundJob(id, ModeSrun, command, log)
}

// SlurmJob is a job submitted with sbatch. It is Done once its Slurm job ID no
// longer appears in the caller's queue, which can't tell a completed job from
// a failed or cancelled one.
type SlurmJob struct {
	base

	client  SlurmClient
	slurmID string
}

// NewSlurmJob creates a SlurmJob for an sbatch command rendered by a
// slurm.Builder.
func NewSlurmJob(
	id int,
	command string,
	client SlurmClient,
	log zerolog.Logger,
) *SlurmJob {
	return &SlurmJob{
		base:   newBase(id, ModeSbatch, command, log),
		client: client,
	}
}

// SlurmID returns the ID Slurm assigned on submission, or "" before that.
func (j *SlurmJob) SlurmID() string {
	return j.slurmID
}

// Submit runs the sbatch command and records the job ID from its output. If
// the output doesn't carry a job ID, the error wraps slurm.ErrSubmissionFormat
// and the Job stays in StatusInit.
func (j *SlurmJob) Submit(ctx context.Context) error {
	if err := j.checkInit(); err != nil {
		return err
	}

	stdout, err := j.client.Submit(ctx, j.command)
	if err != nil {
		return fmt.Errorf("submit batch job: %w", err)
	}

	id, err := slurm.ParseJobID(stdout)
	if err != nil {
		return err
	}

	if err := j.markRunning(); err != nil {
		return err
	}

	j.slurmID = id
	j.log = j.log.With().Str("slurm_id", id).Logger()

	return nil
}

// UpdateStatus moves the Job to Done when its ID has left the queue.
func (j *SlurmJob) UpdateStatus(ctx context.Context) error {
	if j.state.Load() != StatusRunning {
		return nil
	}

	active, err := j.client.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("poll batch job %s: %w", j.slurmID, err)
	}

	if _, ok := active[j.slurmID]; !ok {
		j.log.Debug().Msg("batch job left the queue")
		j.state.Store(StatusDone)
	}

	return nil
}
