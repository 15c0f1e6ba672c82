package jobmanager

import (
	"fmt"

	"github.com/nixpig/batchq/internal/slurm"
)

func defaultBackends() map[Mode]Constructor {
	return map[Mode]Constructor{
		ModeBash:       newForeground,
		ModeForeground: newForeground,
		ModeBackground: newBackground,
		ModeSrun:       newSrun,
		ModeSbatch:     newSbatch,
		ModeSlurm:      newSbatch,
		ModeSequential: newSequential,
	}
}

func newForeground(id int, req Request, env Env) (Job, error) {
	if err := requireCommands(req); err != nil {
		return nil, err
	}

	return NewForegroundJob(id, slurm.JoinCommands(req.Commands), env.Log), nil
}

func newBackground(id int, req Request, env Env) (Job, error) {
	if err := requireCommands(req); err != nil {
		return nil, err
	}

	return NewBackgroundJob(id, slurm.JoinCommands(req.Commands), env.Log), nil
}

func newSrun(id int, req Request, env Env) (Job, error) {
	if err := requireCommands(req); err != nil {
		return nil, err
	}

	b := slurm.Builder{Options: slurmOptions(req, env)}

	command, err := b.Build(req.Commands, slurm.ModeRun)
	if err != nil {
		return nil, err
	}

	return NewSrunJob(id, command, env.Log), nil
}

func newSbatch(id int, req Request, env Env) (Job, error) {
	if err := requireCommands(req); err != nil {
		return nil, err
	}

	if env.Slurm == nil {
		return nil, fmt.Errorf("%w: slurm client", ErrMissingOption)
	}

	b := slurm.Builder{Options: slurmOptions(req, env), ScriptPath: req.Script}

	command, err := b.Build(req.Commands, slurm.ModeBatch)
	if err != nil {
		return nil, err
	}

	return NewSlurmJob(id, command, env.Slurm, env.Log), nil
}

func newSequential(id int, req Request, env Env) (Job, error) {
	source := req.Source
	if source == nil {
		if len(req.Commands) == 0 {
			return nil, fmt.Errorf("%w: source or commands", ErrMissingOption)
		}

		source = SliceSource(req.Commands...)
	}

	if req.Slurm == nil {
		return NewSequentialJob(id, source, func(command string) (Job, error) {
			return NewBackgroundJob(id, command, env.Log), nil
		}, env.Log), nil
	}

	if env.Slurm == nil {
		return nil, fmt.Errorf("%w: slurm client", ErrMissingOption)
	}

	b := slurm.Builder{Options: *req.Slurm, ScriptPath: req.Script}

	return NewSequentialJob(id, source, func(command string) (Job, error) {
		rendered, err := b.Build([]string{command}, slurm.ModeBatch)
		if err != nil {
			return nil, err
		}

		return NewSlurmJob(id, rendered, env.Slurm, env.Log), nil
	}, env.Log), nil
}

func requireCommands(req Request) error {
	if len(req.Commands) == 0 {
		return fmt.Errorf("%w: commands", ErrMissingOption)
	}

	return nil
}

// slurmOptions returns the Request's options or, with a warning, the
// defaults.
func slurmOptions(req Request, env Env) slurm.Options {
	if req.Slurm != nil {
		return *req.Slurm
	}

	env.Log.Warn().Msg("no slurm options provided, using defaults")

	return slurm.DefaultOptions()
}
