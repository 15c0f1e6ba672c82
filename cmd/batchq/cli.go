package main

import (
	"io"

	"github.com/nixpig/batchq/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.0.1"

type cli struct {
	logCfg    logging.Config
	log       zerolog.Logger
	logCloser io.Closer
}

func newCLI() *cli {
	return &cli{log: zerolog.Nop()}
}

func (c *cli) rootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:          "batchq",
		Short:        "Run shell commands locally or through Slurm, a few at a time",
		Version:      version,
		SilenceUsage: true,
	}

	command.AddCommand(
		c.runCmd(),
		c.renderCmd(),
		c.historyCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&c.logCfg.Level,
		"log-level",
		"info",
		"Log level (trace, debug, info, warn, error)",
	)

	command.PersistentFlags().StringVar(
		(*string)(&c.logCfg.Format),
		"log-format",
		string(logging.FormatConsole),
		"Log format (console, json)",
	)

	command.PersistentFlags().StringVar(
		&c.logCfg.File,
		"log-file",
		"",
		"Also append JSON logs to this file",
	)

	return command
}

// setupLogging creates the logger from the log flags. Settings from a run
// file fill in any flag that wasn't set explicitly.
func (c *cli) setupLogging(cmd *cobra.Command, fromFile *logging.Config) error {
	cfg := c.logCfg

	if fromFile != nil {
		flags := cmd.Flags()

		if !flags.Changed("log-level") && fromFile.Level != "" {
			cfg.Level = fromFile.Level
		}

		if !flags.Changed("log-format") && fromFile.Format != "" {
			cfg.Format = fromFile.Format
		}

		if !flags.Changed("log-file") && fromFile.File != "" {
			cfg.File = fromFile.File
		}
	}

	log, closer, err := logging.New(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	c.log = log
	c.logCloser = closer

	return nil
}

func (c *cli) closeLogging() {
	if c.logCloser != nil {
		c.logCloser.Close()
		c.logCloser = nil
	}
}
