package slurm

import (
	"fmt"
	"os"
	"strings"
)

// Mode selects how a Builder submits commands to Slurm.
type Mode int

const (
	// ModeRun wraps commands in a blocking srun invocation.
	ModeRun Mode = iota

	// ModeBatch submits commands as an sbatch job.
	ModeBatch
)

var modes = []string{
	"srun",
	"sbatch",
}

// String implements the Stringer interface for Mode.
func (m Mode) String() string {
	if int(m) < 0 || int(m) >= len(modes) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}

	return modes[m]
}

// JoinCommands merges commands into a single command that runs them in order
// in one bash session, e.g. bash -c "echo hello; sleep 5". A single command is
// returned as-is.
func JoinCommands(commands []string) string {
	if len(commands) == 1 {
		return commands[0]
	}

	escaped := make([]string, len(commands))
	for i, c := range commands {
		escaped[i] = quoteEscaper.Replace(c)
	}

	return `bash -c "` + strings.Join(escaped, "; ") + `"`
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Builder renders shell commands into Slurm submissions.
type Builder struct {
	Options Options

	// ScriptPath, when set, makes ModeBatch write the batch script to this
	// file and submit the file instead of an inline here-document.
	ScriptPath string
}

// Build renders commands for the given mode. For ModeBatch with a ScriptPath,
// the script file is written as a side effect.
func (b Builder) Build(commands []string, mode Mode) (string, error) {
	if len(commands) == 0 {
		return "", fmt.Errorf("no commands to build")
	}

	switch mode {
	case ModeRun:
		return b.srun(commands), nil
	case ModeBatch:
		return b.sbatch(commands)
	default:
		return "", fmt.Errorf("unsupported slurm mode: %s", mode)
	}
}

// Script returns the sbatch script for commands: a bash shebang, one
// #SBATCH line per set option and the joined command.
func (b Builder) Script(commands []string) string {
	var sb strings.Builder

	sb.WriteString("#!/bin/bash")
	for _, f := range b.Options.Flags() {
		sb.WriteString("\n#SBATCH ")
		sb.WriteString(f)
	}

	sb.WriteString("\n\n")
	sb.WriteString(JoinCommands(commands))

	return sb.String()
}

func (b Builder) srun(commands []string) string {
	parts := append([]string{"srun"}, b.Options.Flags()...)
	parts = append(parts, JoinCommands(commands))

	return strings.Join(parts, " ")
}

func (b Builder) sbatch(commands []string) (string, error) {
	script := b.Script(commands)

	if b.ScriptPath == "" {
		return "sbatch << 'EOF'\n" + script + "\nEOF", nil
	}

	if err := os.WriteFile(b.ScriptPath, []byte(script), 0644); err != nil {
		return "", fmt.Errorf("write batch script: %w", err)
	}

	return "sbatch " + b.ScriptPath, nil
}
