package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nixpig/batchq/internal/slurm"
	"github.com/rs/zerolog"
)

// DefaultWait is the pause between admitting and reaping jobs in each tick.
const DefaultWait = 10 * time.Second

// Request describes a job to enqueue.
type Request struct {
	Mode Mode

	// Commands are merged into a single command run in one bash session.
	// For ModeSequential they are used as the Source when Source is nil.
	Commands []string

	// Source supplies commands for ModeSequential.
	Source Source

	// Slurm holds options for srun and sbatch. For ModeSequential, setting it
	// runs each command with sbatch instead of as a background process.
	Slurm *slurm.Options

	// Script, when set, makes sbatch submissions write their batch script to
	// this path instead of passing it inline.
	Script string
}

// Env is what a Constructor gets from the Manager besides the Request.
type Env struct {
	Log   zerolog.Logger
	Slurm SlurmClient
}

// Constructor creates the Job for a Request. It returns an error wrapping
// ErrMissingOption when the Request lacks something the backend needs.
type Constructor func(id int, req Request, env Env) (Job, error)

// Manager runs Jobs with at most a fixed number active at once. Jobs are held
// in exactly one of three queues: pending (FIFO), active and completed. A Job
// that fails to submit leaves the Manager through a *SubmitError.
type Manager struct {
	maxConcurrent int
	wait          time.Duration

	log        zerolog.Logger
	slurm      SlurmClient
	metrics    *Metrics
	sleep      func(ctx context.Context, d time.Duration) error
	onComplete func(ctx context.Context, job Job)
	backends   map[Mode]Constructor

	nextID    int
	pending   []Job
	active    []Job
	completed []Job
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithSlurmClient sets the client used by sbatch jobs. Defaults to
// slurm.NewClient().
func WithSlurmClient(c SlurmClient) Option {
	return func(m *Manager) {
		m.slurm = c
	}
}

// WithMetrics sets the Prometheus metrics the Manager records to.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithSleep replaces the wait between admitting and reaping jobs, e.g. with a
// fake clock in tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// WithOnComplete sets a function called for every job as it is reaped.
func WithOnComplete(fn func(ctx context.Context, job Job)) Option {
	return func(m *Manager) {
		m.onComplete = fn
	}
}

// WithBackend registers, or replaces, the Constructor for mode.
func WithBackend(mode Mode, newJob Constructor) Option {
	return func(m *Manager) {
		m.backends[mode] = newJob
	}
}

// NewManager creates a Manager that keeps at most maxConcurrent jobs active
// and waits for wait between admitting and reaping jobs.
func NewManager(
	maxConcurrent int,
	wait time.Duration,
	opts ...Option,
) (*Manager, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be > 0: got %d", maxConcurrent)
	}

	if wait < 0 {
		return nil, fmt.Errorf("wait must be >= 0: got %s", wait)
	}

	m := &Manager{
		maxConcurrent: maxConcurrent,
		wait:          wait,
		log:           zerolog.Nop(),
		sleep:         sleepContext,
		backends:      defaultBackends(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.slurm == nil {
		m.slurm = slurm.NewClient()
	}

	return m, nil
}

// Enqueue creates the Job for req, gives it the next ID and appends it to
// the pending queue. Configuration errors, such as an unsupported mode, are
// returned here and never deferred to scheduling.
func (m *Manager) Enqueue(req Request) (int, error) {
	newJob, ok := m.backends[req.Mode]
	if !ok {
		return -1, fmt.Errorf("%w: '%s'", ErrUnsupportedMode, req.Mode)
	}

	id := m.nextID

	env := Env{
		Log: m.log.With().
			Int("job_id", id).
			Str("mode", string(req.Mode)).
			Logger(),
		Slurm: m.slurm,
	}

	job, err := newJob(id, req, env)
	if err != nil {
		return -1, fmt.Errorf("enqueue %s job: %w", req.Mode, err)
	}

	m.nextID++
	m.pending = append(m.pending, job)

	m.metrics.jobEnqueued(job)
	m.metrics.queues(len(m.pending), len(m.active))

	return id, nil
}

// RunOnce runs ticks until no job is pending or active. Each tick admits
// jobs, waits and then reaps finished jobs.
//
// RunOnce stops early with the first submission or polling error, or if ctx
// is cancelled while waiting. Jobs already running are left to finish on
// their own.
func (m *Manager) RunOnce(ctx context.Context) error {
	var progress string

	for len(m.pending) > 0 || len(m.active) > 0 {
		if p := m.Progress(); p != progress {
			progress = p
			m.log.Info().Msg(progress)
		}

		if err := m.Assign(ctx); err != nil {
			return err
		}

		if err := m.sleep(ctx, m.wait); err != nil {
			return err
		}

		if err := m.Reap(ctx); err != nil {
			return err
		}

		m.metrics.tick()
	}

	m.log.Info().Msg(m.Progress())

	return nil
}

// Run calls RunOnce n times. Callers can enqueue more jobs between runs.
func (m *Manager) Run(ctx context.Context, n int) error {
	for range n {
		if err := m.RunOnce(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Assign admits pending jobs, oldest first, while fewer than maxConcurrent
// are active. A job is taken off the pending queue before it is submitted; if
// it fails to submit, it is dropped and returned in a *SubmitError.
func (m *Manager) Assign(ctx context.Context) error {
	for len(m.pending) > 0 && len(m.active) < m.maxConcurrent {
		job := m.pending[0]
		m.pending = m.pending[1:]

		if err := job.Submit(ctx); err != nil {
			m.metrics.queues(len(m.pending), len(m.active))
			return &SubmitError{Job: job, Err: err}
		}

		m.active = append(m.active, job)

		m.log.Info().
			Int("job_id", job.ID()).
			Str("command", job.Command()).
			Msg("submitted job")

		m.metrics.jobSubmitted(job)
	}

	m.metrics.queues(len(m.pending), len(m.active))

	return nil
}

// Reap polls every active job and moves those that are Done to the completed
// queue, in the order they were found Done. A job whose poll fails stays
// active; the errors of all failed polls are returned together.
func (m *Manager) Reap(ctx context.Context) error {
	var (
		errs    []error
		done    []Job
		running = make([]Job, 0, len(m.active))
	)

	for _, job := range m.active {
		if err := job.UpdateStatus(ctx); err != nil {
			errs = append(errs, fmt.Errorf("poll job %d: %w", job.ID(), err))
			running = append(running, job)
			continue
		}

		if job.Status() != StatusDone {
			running = append(running, job)
			continue
		}

		done = append(done, job)
	}

	m.active = running
	m.completed = append(m.completed, done...)

	for _, job := range done {
		m.log.Info().
			Int("job_id", job.ID()).
			Int("exit_code", job.ExitCode()).
			Msg("job done")

		m.metrics.jobCompleted(job)

		if m.onComplete != nil {
			m.onComplete(ctx, job)
		}
	}

	m.metrics.queues(len(m.pending), len(m.active))

	return errors.Join(errs...)
}

// Pending returns the jobs waiting for admission, oldest first.
func (m *Manager) Pending() []Job {
	return slices.Clone(m.pending)
}

// Active returns the jobs currently running.
func (m *Manager) Active() []Job {
	return slices.Clone(m.active)
}

// Completed returns the jobs reaped so far, in the order they were reaped.
func (m *Manager) Completed() []Job {
	return slices.Clone(m.completed)
}

// Progress summarises the queues, e.g. "pending/active/completed jobs: 1/2/3".
func (m *Manager) Progress() string {
	return fmt.Sprintf(
		"pending/active/completed jobs: %d/%d/%d",
		len(m.pending),
		len(m.active),
		len(m.completed),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
