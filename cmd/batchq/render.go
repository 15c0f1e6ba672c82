package main

import (
	"fmt"

	"github.com/nixpig/batchq/internal/slurm"
	"github.com/spf13/cobra"
)

func (c *cli) renderCmd() *cobra.Command {
	var (
		batch     bool
		script    string
		slurmFile string
		opts      optionsValue
	)

	command := &cobra.Command{
		Use:   "render [flags] -- COMMAND...",
		Short: "Print the srun or sbatch command a job would run",
		Example: `  batchq render --opt cpus_per_task=4 -- "python train.py"
  batchq render --sbatch --script job.slurm -- "echo hello" "sleep 5"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setupLogging(cmd, nil); err != nil {
				return err
			}
			defer c.closeLogging()

			o, err := opts.options(slurmFile)
			if err != nil {
				return err
			}

			if o == nil {
				c.log.Warn().Msg("no slurm options provided, using defaults")

				d := slurm.DefaultOptions()
				o = &d
			}

			mode := slurm.ModeRun
			if batch {
				mode = slurm.ModeBatch
			}

			b := slurm.Builder{Options: *o, ScriptPath: script}

			rendered, err := b.Build(args, mode)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), rendered)

			return nil
		},
	}

	flags := command.Flags()

	flags.BoolVar(&batch, "sbatch", false, "Render an sbatch submission instead of srun")
	flags.StringVar(&script, "script", "", "Write the sbatch script to this path instead of a here-document")
	flags.StringVar(&slurmFile, "slurm-file", "", "YAML file of Slurm options")
	flags.Var(&opts, "opt", "Slurm option, e.g. --opt cpus_per_task=4 (repeatable)")

	return command
}
