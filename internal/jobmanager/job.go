package jobmanager

import (
	"context"
	"os/exec"

	"github.com/nixpig/batchq/internal/jobmanager/output"
	"github.com/rs/zerolog"
)

// shell runs every job command, like a shell=True subprocess.
const shell = "/bin/sh"

// Mode names a Job backend.
type Mode string

const (
	ModeBash       Mode = "bash"
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeSrun       Mode = "srun"
	ModeSbatch     Mode = "sbatch"
	ModeSlurm      Mode = "slurm"
	ModeSequential Mode = "sequential"
)

// Job is a unit of work tracked by a Manager.
//
// Submit moves a Job from StatusInit to StatusRunning and returns an
// InvalidStateError for any other status. UpdateStatus polls the Job and
// moves it to StatusDone once its work has finished; it does nothing for a
// Job that isn't Running.
type Job interface {
	ID() int
	Mode() Mode
	Command() string
	Status() Status

	// Stdout and Stderr are empty until the Job is Done.
	Stdout() string
	Stderr() string

	// ExitCode returns the exit code of the process or -1 if the Job isn't
	// Done or its backend can't observe exit codes.
	ExitCode() int

	Submit(ctx context.Context) error
	UpdateStatus(ctx context.Context) error
}

// base holds the state shared by all Job backends.
type base struct {
	id      int
	mode    Mode
	command string
	state   AtomicStatus

	stdout   string
	stderr   string
	exitCode int

	log zerolog.Logger
}

func newBase(id int, mode Mode, command string, log zerolog.Logger) base {
	return base{
		id:       id,
		mode:     mode,
		command:  command,
		exitCode: -1,
		log:      log,
	}
}

// ID returns the ID of the Job.
func (b *base) ID() int {
	return b.id
}

// Mode returns the backend the Job was created for.
func (b *base) Mode() Mode {
	return b.mode
}

// Command returns the normalized command of the Job.
func (b *base) Command() string {
	return b.command
}

// Status returns the status of the Job.
func (b *base) Status() Status {
	return b.state.Load()
}

func (b *base) Stdout() string {
	if b.Status() != StatusDone {
		return ""
	}

	return b.stdout
}

func (b *base) Stderr() string {
	if b.Status() != StatusDone {
		return ""
	}

	return b.stderr
}

func (b *base) ExitCode() int {
	if b.Status() != StatusDone {
		return -1
	}

	return b.exitCode
}

// checkInit returns an InvalidStateError unless the Job can be submitted.
func (b *base) checkInit() error {
	if s := b.state.Load(); s != StatusInit {
		return NewInvalidStateError(s, StatusRunning)
	}

	return nil
}

// markRunning moves the Job from Init to Running. It fails if another Submit
// got there first.
func (b *base) markRunning() error {
	if !b.state.CompareAndSwap(StatusInit, StatusRunning) {
		return NewInvalidStateError(b.state.Load(), StatusRunning)
	}

	return nil
}

// finish records captured output and moves the Job to Done. Output that isn't
// valid text is dropped with a warning.
func (b *base) finish(stdout, stderr *output.Buffer, ps exitCoder) {
	so, se, err := output.DecodePair(stdout.Bytes(), stderr.Bytes())
	if err != nil {
		b.log.Warn().Err(err).Msg("discarding job output")
	}

	b.stdout, b.stderr = so, se

	if ps != nil {
		b.exitCode = ps.ExitCode()
	}

	b.state.Store(StatusDone)
}

type exitCoder interface {
	ExitCode() int
}

func shellCommand(
	command string,
	stdout, stderr *output.Buffer,
) *exec.Cmd {
	cmd := exec.Command(shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	return cmd
}
