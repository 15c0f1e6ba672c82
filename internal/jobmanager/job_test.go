package jobmanager_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nixpig/batchq/internal/jobmanager"
	"github.com/nixpig/batchq/internal/slurm"
	"github.com/rs/zerolog"
)

// fakeSlurm stands in for sbatch and squeue. Every submission gets the next
// numeric ID and stays in the queue until finish is called.
type fakeSlurm struct {
	output    string
	queryErr  error
	lastID    int
	queue     map[string]struct{}
	submitted []string
}

func newFakeSlurm() *fakeSlurm {
	return &fakeSlurm{queue: make(map[string]struct{})}
}

func (f *fakeSlurm) Submit(ctx context.Context, command string) (string, error) {
	f.submitted = append(f.submitted, command)

	if f.output != "" {
		return f.output, nil
	}

	f.lastID++
	id := strconv.Itoa(f.lastID)
	f.queue[id] = struct{}{}

	return "Submitted batch job " + id + "\n", nil
}

func (f *fakeSlurm) ActiveJobs(ctx context.Context) (map[string]struct{}, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	return maps.Clone(f.queue), nil
}

func (f *fakeSlurm) finishAll() {
	clear(f.queue)
}

func testStatus(
	t *testing.T,
	job jobmanager.Job,
	want jobmanager.Status,
) {
	t.Helper()

	if got := job.Status(); got != want {
		t.Errorf("expected status: got '%s', want '%s'", got, want)
	}
}

func submitTestJob(t *testing.T, job jobmanager.Job) {
	t.Helper()

	if err := job.Submit(t.Context()); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
}

// waitForStatus polls job until it reaches want or the test times out.
func waitForStatus(
	t *testing.T,
	job jobmanager.Job,
	want jobmanager.Status,
) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := job.UpdateStatus(ctx); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if job.Status() == want {
			return
		}

		select {
		case <-ctx.Done():
			t.Fatalf(
				"timed out waiting for status: got '%s', want '%s'",
				job.Status(),
				want,
			)
		case <-ticker.C:
		}
	}
}

func TestStatus(t *testing.T) {
	t.Run("Test all statuses are named", func(t *testing.T) {
		for _, s := range []jobmanager.Status{
			jobmanager.StatusInit,
			jobmanager.StatusRunning,
			jobmanager.StatusDone,
		} {
			if s.String() == "Unknown" {
				t.Errorf("unnamed status: '%d'", s)
			}
		}
	})

	t.Run("Test compare and swap", func(t *testing.T) {
		var s jobmanager.AtomicStatus

		if s.CompareAndSwap(jobmanager.StatusRunning, jobmanager.StatusDone) {
			t.Error("expected swap from wrong status to fail")
		}

		if !s.CompareAndSwap(jobmanager.StatusInit, jobmanager.StatusRunning) {
			t.Error("expected swap from Init to succeed")
		}

		if got := s.Load(); got != jobmanager.StatusRunning {
			t.Errorf("expected status: got '%s', want 'Running'", got)
		}
	})

	t.Run("Test unknown status", func(t *testing.T) {
		if got := jobmanager.Status(99).String(); got != "Unknown" {
			t.Errorf("expected status name: got '%s', want 'Unknown'", got)
		}
	})
}

func TestForegroundJob(t *testing.T) {
	t.Run("Test initial state", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(1, "echo hi", zerolog.Nop())

		testStatus(t, job, jobmanager.StatusInit)

		if job.ExitCode() != -1 {
			t.Errorf("expected exit code: got '%d', want '-1'", job.ExitCode())
		}

		if job.Stdout() != "" {
			t.Errorf("expected empty stdout: got '%s'", job.Stdout())
		}
	})

	t.Run("Test submit runs to completion", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(
			1,
			"echo 'Hello, world!'; echo oops >&2",
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusDone)

		if job.Stdout() != "Hello, world!\n" {
			t.Errorf(
				"expected stdout: got '%s', want 'Hello, world!\n'",
				job.Stdout(),
			)
		}

		if job.Stderr() != "oops\n" {
			t.Errorf("expected stderr: got '%s', want 'oops\n'", job.Stderr())
		}

		if job.ExitCode() != 0 {
			t.Errorf("expected exit code: got '%d', want '0'", job.ExitCode())
		}
	})

	t.Run("Test non-zero exit is done", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(1, "exit 3", zerolog.Nop())

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusDone)

		if job.ExitCode() != 3 {
			t.Errorf("expected exit code: got '%d', want '3'", job.ExitCode())
		}
	})

	t.Run("Test update after done is a no-op", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(1, "echo hi", zerolog.Nop())

		submitTestJob(t, job)

		for range 3 {
			if err := job.UpdateStatus(t.Context()); err != nil {
				t.Errorf("expected not to receive error: got '%v'", err)
			}
		}

		testStatus(t, job, jobmanager.StatusDone)

		if job.Stdout() != "hi\n" {
			t.Errorf("expected stdout: got '%s', want 'hi\n'", job.Stdout())
		}
	})

	t.Run("Test invalid output is dropped", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(
			1,
			`printf '\377\376'`,
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusDone)

		if job.Stdout() != "" {
			t.Errorf("expected empty stdout: got '%s'", job.Stdout())
		}
	})

	t.Run("Test duplicate submit", func(t *testing.T) {
		job := jobmanager.NewForegroundJob(1, "true", zerolog.Nop())

		submitTestJob(t, job)

		if err := job.Submit(t.Context()); !errors.As(
			err,
			&jobmanager.InvalidStateError{},
		) {
			t.Errorf("expected to receive InvalidStateError: got '%v'", err)
		}
	})
}

func TestBackgroundJob(t *testing.T) {
	t.Run("Test submit returns before exit", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(1, "sleep 0.3; echo late", zerolog.Nop())

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusRunning)

		if job.Stdout() != "" {
			t.Errorf("expected empty stdout while running: got '%s'", job.Stdout())
		}

		waitForStatus(t, job, jobmanager.StatusDone)

		if job.Stdout() != "late\n" {
			t.Errorf("expected stdout: got '%s', want 'late\n'", job.Stdout())
		}
	})

	t.Run("Test update before submit does nothing", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(1, "true", zerolog.Nop())

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusInit)
	})

	t.Run("Test done only after update", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(1, "exit 7", zerolog.Nop())

		submitTestJob(t, job)

		<-job.Done()

		testStatus(t, job, jobmanager.StatusRunning)

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusDone)

		if job.ExitCode() != 7 {
			t.Errorf("expected exit code: got '%d', want '7'", job.ExitCode())
		}
	})

	t.Run("Test invalid output still completes", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(
			1,
			`printf '\377'; printf 'err' >&2`,
			zerolog.Nop(),
		)

		submitTestJob(t, job)
		waitForStatus(t, job, jobmanager.StatusDone)

		if job.Stdout() != "" || job.Stderr() != "" {
			t.Errorf(
				"expected empty output: got '%s', '%s'",
				job.Stdout(),
				job.Stderr(),
			)
		}
	})

	t.Run("Test duplicate submit", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(1, "true", zerolog.Nop())

		submitTestJob(t, job)

		if err := job.Submit(t.Context()); !errors.As(
			err,
			&jobmanager.InvalidStateError{},
		) {
			t.Errorf("expected to receive InvalidStateError: got '%v'", err)
		}

		waitForStatus(t, job, jobmanager.StatusDone)

		if err := job.Submit(t.Context()); !errors.As(
			err,
			&jobmanager.InvalidStateError{},
		) {
			t.Errorf("expected to receive InvalidStateError: got '%v'", err)
		}
	})

	t.Run("Test concurrent submits start once", func(t *testing.T) {
		job := jobmanager.NewBackgroundJob(1, "true", zerolog.Nop())

		var (
			wg     sync.WaitGroup
			failed atomic.Int32
		)

		for range 8 {
			wg.Go(func() {
				if err := job.Submit(t.Context()); err != nil {
					failed.Add(1)
				}
			})
		}

		wg.Wait()

		if got := failed.Load(); got != 7 {
			t.Errorf("expected failed submits: got '%d', want '7'", got)
		}

		waitForStatus(t, job, jobmanager.StatusDone)
	})
}

func TestSlurmJob(t *testing.T) {
	t.Run("Test submit records slurm id", func(t *testing.T) {
		client := newFakeSlurm()
		client.output = "Submitted batch job 6449881\n"

		job := jobmanager.NewSlurmJob(1, "sbatch x.slurm", client, zerolog.Nop())

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusRunning)

		if job.SlurmID() != "6449881" {
			t.Errorf("expected slurm id: got '%s', want '6449881'", job.SlurmID())
		}

		if got := client.submitted[0]; got != "sbatch x.slurm" {
			t.Errorf("expected submitted command: got '%s'", got)
		}
	})

	t.Run("Test missing marker fails submit", func(t *testing.T) {
		client := newFakeSlurm()
		client.output = "sbatch: error: Batch job submission failed\n"

		job := jobmanager.NewSlurmJob(1, "sbatch x.slurm", client, zerolog.Nop())

		if err := job.Submit(t.Context()); !errors.Is(
			err,
			slurm.ErrSubmissionFormat,
		) {
			t.Errorf("expected to receive ErrSubmissionFormat: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusInit)
	})

	t.Run("Test done when it leaves the queue", func(t *testing.T) {
		client := newFakeSlurm()

		job := jobmanager.NewSlurmJob(1, "sbatch x.slurm", client, zerolog.Nop())

		submitTestJob(t, job)

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusRunning)

		client.finishAll()

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusDone)

		if job.ExitCode() != -1 {
			t.Errorf("expected exit code: got '%d', want '-1'", job.ExitCode())
		}
	})

	t.Run("Test queue errors are returned", func(t *testing.T) {
		client := newFakeSlurm()

		job := jobmanager.NewSlurmJob(1, "sbatch x.slurm", client, zerolog.Nop())

		submitTestJob(t, job)

		client.queryErr = errors.New("squeue unavailable")
		client.finishAll()

		if err := job.UpdateStatus(t.Context()); err == nil {
			t.Error("expected to receive error")
		}

		testStatus(t, job, jobmanager.StatusRunning)
	})
}

func TestSequentialJob(t *testing.T) {
	background := func(command string) (jobmanager.Job, error) {
		return jobmanager.NewBackgroundJob(1, command, zerolog.Nop()), nil
	}

	t.Run("Test chain runs every command", func(t *testing.T) {
		job := jobmanager.NewSequentialJob(
			1,
			jobmanager.SliceSource("echo one", "echo two >&2; exit 1", "echo three"),
			background,
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusRunning)

		if job.Command() != "echo one" {
			t.Errorf("expected command: got '%s', want 'echo one'", job.Command())
		}

		waitForStatus(t, job, jobmanager.StatusDone)

		wantStdouts := []string{"one\n", "", "three\n"}
		if got := job.Stdouts(); !slices.Equal(got, wantStdouts) {
			t.Errorf("expected stdouts: got '%q', want '%q'", got, wantStdouts)
		}

		wantStderrs := []string{"", "two\n", ""}
		if got := job.Stderrs(); !slices.Equal(got, wantStderrs) {
			t.Errorf("expected stderrs: got '%q', want '%q'", got, wantStderrs)
		}

		if job.Stdout() != "one\nthree\n" {
			t.Errorf("expected stdout: got '%s'", job.Stdout())
		}

		if job.Command() != "echo one" {
			t.Errorf("expected command to stay: got '%s', want 'echo one'", job.Command())
		}
	})

	t.Run("Test empty source completes on submit", func(t *testing.T) {
		job := jobmanager.NewSequentialJob(
			1,
			jobmanager.SliceSource(),
			background,
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		testStatus(t, job, jobmanager.StatusDone)

		if len(job.Stdouts()) != 0 {
			t.Errorf("expected no output: got '%q'", job.Stdouts())
		}
	})

	t.Run("Test unbounded source is drawn lazily", func(t *testing.T) {
		pulled := 0
		source := jobmanager.SourceFunc(func() (string, bool) {
			pulled++
			return "true", true
		})

		client := newFakeSlurm()

		job := jobmanager.NewSequentialJob(
			1,
			source,
			func(command string) (jobmanager.Job, error) {
				return jobmanager.NewSlurmJob(1, command, client, zerolog.Nop()), nil
			},
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		for range 5 {
			if err := job.UpdateStatus(t.Context()); err != nil {
				t.Fatalf("expected not to receive error: got '%v'", err)
			}
		}

		if pulled != 1 {
			t.Errorf("expected one command pulled: got '%d'", pulled)
		}

		client.finishAll()

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if pulled != 2 {
			t.Errorf("expected two commands pulled: got '%d'", pulled)
		}

		testStatus(t, job, jobmanager.StatusRunning)
	})

	t.Run("Test seq source", func(t *testing.T) {
		seq := func(yield func(string) bool) {
			for i := range 3 {
				if !yield("echo " + strconv.Itoa(i)) {
					return
				}
			}
		}

		job := jobmanager.NewSequentialJob(
			1,
			jobmanager.SeqSource(seq),
			background,
			zerolog.Nop(),
		)

		submitTestJob(t, job)
		waitForStatus(t, job, jobmanager.StatusDone)

		want := []string{"0\n", "1\n", "2\n"}
		if got := job.Stdouts(); !slices.Equal(got, want) {
			t.Errorf("expected stdouts: got '%q', want '%q'", got, want)
		}
	})

	t.Run("Test sub-job submit errors are returned", func(t *testing.T) {
		client := newFakeSlurm()
		client.output = "nope"

		job := jobmanager.NewSequentialJob(
			1,
			jobmanager.SliceSource("a"),
			func(command string) (jobmanager.Job, error) {
				return jobmanager.NewSlurmJob(1, command, client, zerolog.Nop()), nil
			},
			zerolog.Nop(),
		)

		if err := job.Submit(t.Context()); !errors.Is(
			err,
			slurm.ErrSubmissionFormat,
		) {
			t.Errorf("expected to receive ErrSubmissionFormat: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusInit)
	})

	t.Run("Test later submit error skips the command", func(t *testing.T) {
		client := newFakeSlurm()

		job := jobmanager.NewSequentialJob(
			1,
			jobmanager.SliceSource("a", "b", "c"),
			func(command string) (jobmanager.Job, error) {
				return jobmanager.NewSlurmJob(1, command, client, zerolog.Nop()), nil
			},
			zerolog.Nop(),
		)

		submitTestJob(t, job)

		// "a" leaves the queue and "b" gets unparsable sbatch output.
		client.finishAll()
		client.output = "garbage"

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusRunning)

		client.output = ""

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		wantSubmitted := []string{"a", "b", "c"}
		if !slices.Equal(client.submitted, wantSubmitted) {
			t.Errorf(
				"expected submissions: got '%q', want '%q'",
				client.submitted,
				wantSubmitted,
			)
		}

		client.finishAll()

		if err := job.UpdateStatus(t.Context()); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		testStatus(t, job, jobmanager.StatusDone)

		stderrs := job.Stderrs()
		if len(stderrs) != 3 {
			t.Fatalf("expected three steps: got '%q'", stderrs)
		}

		if !strings.Contains(stderrs[1], "submit sub-job") {
			t.Errorf("expected submit error as stderr of step 2: got '%s'", stderrs[1])
		}

		if stderrs[0] != "" || stderrs[2] != "" {
			t.Errorf("expected other steps to have no stderr: got '%q'", stderrs)
		}

		if job.Command() != "a" {
			t.Errorf("expected command: got '%s', want 'a'", job.Command())
		}
	})
}

func TestSliceSource(t *testing.T) {
	source := jobmanager.SliceSource("a", "b")

	for _, want := range []string{"a", "b"} {
		got, ok := source.Next()
		if !ok || got != want {
			t.Errorf("expected next: got '%s' (%t), want '%s'", got, ok, want)
		}
	}

	for range 2 {
		if _, ok := source.Next(); ok {
			t.Error("expected source to stay exhausted")
		}
	}
}
