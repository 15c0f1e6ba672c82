// Package jobmanager runs shell commands as Jobs on one of several backends
// and tracks them to completion.
//
// A Job moves through Init, Running and Done, in that order only. Backends
// differ in how they submit and how they detect completion:
//   - ForegroundJob runs the command to completion inside Submit.
//   - BackgroundJob starts a process and polls for its exit.
//   - SlurmJob submits with sbatch and polls squeue until the job ID leaves
//     the queue.
//   - SequentialJob pulls commands one at a time from a Source and runs each
//     as a sub-job.
//
// A Manager admits Jobs from a FIFO pending queue up to a concurrency cap,
// polls active Jobs once per tick and reaps finished ones. The Manager is
// single-threaded and not safe for concurrent use.
package jobmanager
