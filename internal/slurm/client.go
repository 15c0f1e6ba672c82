package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// SubmittedMarker prefixes the job ID in sbatch output, e.g.
	// "Submitted batch job 6449881".
	SubmittedMarker = "Submitted batch job"

	// DefaultQueueCommand lists the caller's active job IDs, one per line.
	DefaultQueueCommand = "squeue --me -o %i --noheader"

	// DefaultQueueInterval is the minimum time between two squeue calls. Status
	// queries arriving sooner are answered from the previous snapshot.
	DefaultQueueInterval = time.Second

	defaultShell = "/bin/sh"
)

// ErrSubmissionFormat is returned when sbatch output doesn't carry a job ID.
var ErrSubmissionFormat = errors.New("unexpected sbatch output")

// ParseJobID extracts the job ID from sbatch output. The ID is the fourth
// whitespace-separated token starting at SubmittedMarker and must be numeric.
func ParseJobID(stdout string) (string, error) {
	i := strings.Index(stdout, SubmittedMarker)
	if i < 0 {
		return "", fmt.Errorf(
			"%w: missing '%s' in '%s'",
			ErrSubmissionFormat,
			SubmittedMarker,
			strings.TrimSpace(stdout),
		)
	}

	fields := strings.Fields(stdout[i:])
	if len(fields) < 4 {
		return "", fmt.Errorf(
			"%w: no job id after '%s'",
			ErrSubmissionFormat,
			SubmittedMarker,
		)
	}

	if _, err := strconv.ParseUint(fields[3], 10, 64); err != nil {
		return "", fmt.Errorf(
			"%w: job id '%s' is not numeric",
			ErrSubmissionFormat,
			fields[3],
		)
	}

	return fields[3], nil
}

// ParseQueue parses squeue output with one job ID per line into a set.
func ParseQueue(stdout string) map[string]struct{} {
	ids := make(map[string]struct{})

	for line := range strings.Lines(stdout) {
		if id := strings.TrimSpace(line); id != "" {
			ids[id] = struct{}{}
		}
	}

	return ids
}

// Client runs Slurm client tools through a shell.
type Client struct {
	shell        string
	queueCommand string
	limiter      *rate.Limiter

	mu       sync.Mutex
	snapshot map[string]struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithShell sets the shell used to run commands. Defaults to /bin/sh.
func WithShell(path string) ClientOption {
	return func(c *Client) {
		c.shell = path
	}
}

// WithQueueCommand replaces the squeue command used by ActiveJobs.
func WithQueueCommand(command string) ClientOption {
	return func(c *Client) {
		c.queueCommand = command
	}
}

// WithQueueInterval sets the minimum time between two queue queries. Zero
// disables caching.
func WithQueueInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}

		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewClient creates a Client with the given options applied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		shell:        defaultShell,
		queueCommand: DefaultQueueCommand,
		limiter:      rate.NewLimiter(rate.Every(DefaultQueueInterval), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit runs a rendered submission command and returns its stdout. A
// non-zero exit is not an error here; the output simply won't parse.
//
// Submit drops the current queue snapshot, since it can't contain the job
// being submitted.
func (c *Client) Submit(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()

	stdout, _, err := c.run(ctx, command)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", fmt.Errorf("run submission: %w", err)
	}

	return stdout, nil
}

// ActiveJobs returns the set of the caller's job IDs that Slurm still knows
// about. Calls closer together than the queue interval share one snapshot.
func (c *Client) ActiveJobs(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	allowed := c.limiter.Allow()
	if c.snapshot != nil && !allowed {
		return c.snapshot, nil
	}

	stdout, stderr, err := c.run(ctx, c.queueCommand)
	if err != nil {
		return nil, fmt.Errorf(
			"query queue: %w: %s",
			err,
			strings.TrimSpace(stderr),
		)
	}

	c.snapshot = ParseQueue(stdout)

	return c.snapshot, nil
}

func (c *Client) run(
	ctx context.Context,
	command string,
) (string, string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}
