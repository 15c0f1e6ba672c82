// Package slurm renders shell commands for the Slurm workload manager and
// talks to its client tools.
//
// Options is an ordered, immutable set of Slurm options. A Builder turns a
// list of shell commands plus Options into an srun invocation or an sbatch
// submission (inline here-document or script file). A Client runs sbatch and
// queries squeue for the caller's active job IDs.
package slurm
