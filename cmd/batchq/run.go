package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/nixpig/batchq/internal/config"
	"github.com/nixpig/batchq/internal/history"
	"github.com/nixpig/batchq/internal/jobmanager"
	"github.com/nixpig/batchq/internal/slurm"
	"github.com/nixpig/batchq/internal/tlsconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runConfig struct {
	file          string
	mode          string
	split         bool
	maxConcurrent int
	wait          time.Duration
	repeat        int
	every         string
	opts          optionsValue
	slurmFile     string
	script        string
	scriptDir     string
	queueCommand  string
	queueInterval time.Duration
	historyPath   string
	metricsAddr   string
	metricsTLS    tlsconfig.Config
	showOutput    bool
}

func (c *cli) runCmd() *cobra.Command {
	rc := &runConfig{}

	command := &cobra.Command{
		Use:   "run [flags] [-- COMMAND...]",
		Short: "Run jobs from a run file and/or the command line",
		Example: `  batchq run --mode background --split --max-concurrent 2 -- "sleep 2" "sleep 1" "echo hi"
  batchq run -f jobs.yaml --history batchq.db
  batchq run --mode sbatch --opt job_name=train --opt gres=gpu:1 -- "python train.py"
  batchq run -f jobs.yaml --every "@every 1h" --repeat 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runJobs(cmd, rc, args)
		},
	}

	flags := command.Flags()

	flags.StringVarP(&rc.file, "file", "f", "", "Run file (YAML)")
	flags.StringVar(
		&rc.mode,
		"mode",
		string(jobmanager.ModeBash),
		"Mode for command-line jobs (bash, foreground, background, srun, sbatch, slurm, sequential)",
	)
	flags.BoolVar(&rc.split, "split", false, "Run each command-line argument as its own job")
	flags.IntVar(&rc.maxConcurrent, "max-concurrent", config.DefaultMaxConcurrent, "Maximum number of active jobs")
	flags.DurationVar(&rc.wait, "wait", jobmanager.DefaultWait, "Wait between submitting and polling jobs")
	flags.IntVar(&rc.repeat, "repeat", 1, "Number of times to run the jobs; 0 repeats until interrupted (requires --every)")
	flags.StringVar(&rc.every, "every", "", "Cron schedule for repetitions, e.g. '*/30 * * * *' or '@every 1h'")
	flags.Var(&rc.opts, "opt", "Slurm option for command-line jobs, e.g. --opt cpus_per_task=4 (repeatable)")
	flags.StringVar(&rc.slurmFile, "slurm-file", "", "YAML file of Slurm options for command-line jobs")
	flags.StringVar(&rc.script, "script", "", "Write the sbatch script of command-line jobs to this path")
	flags.StringVar(&rc.scriptDir, "script-dir", "", "Write sbatch scripts to uniquely named files in this directory")
	flags.StringVar(&rc.queueCommand, "queue-command", slurm.DefaultQueueCommand, "Command listing the IDs of active Slurm jobs")
	flags.DurationVar(&rc.queueInterval, "queue-interval", slurm.DefaultQueueInterval, "Minimum interval between Slurm queue queries")
	flags.StringVar(&rc.historyPath, "history", "", "SQLite database to record completed jobs in")
	flags.StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.StringVar(&rc.metricsTLS.CertPath, "metrics-cert", "", "TLS certificate for the metrics endpoint")
	flags.StringVar(&rc.metricsTLS.KeyPath, "metrics-key", "", "TLS private key for the metrics endpoint")
	flags.StringVar(&rc.metricsTLS.CACertPath, "metrics-ca", "", "CA certificate that metrics clients must present a certificate from")
	flags.BoolVar(&rc.showOutput, "output", false, "Print the output of each completed job")

	return command
}

func (c *cli) runJobs(cmd *cobra.Command, rc *runConfig, args []string) error {
	cfg, err := c.loadRunConfig(cmd, rc)
	if err != nil {
		return err
	}

	if err := c.setupLogging(cmd, &cfg.Log); err != nil {
		return err
	}
	defer c.closeLogging()

	requests, err := commandLineRequests(rc, cfg, args)
	if err != nil {
		return err
	}

	requests = append(cfg.Jobs, requests...)
	if len(requests) == 0 {
		return errors.New("nothing to run: pass a run file or commands after --")
	}

	schedule, err := parseSchedule(rc.every, rc.repeat)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log := c.log.With().Str("run_id", runID).Logger()

	opts := []jobmanager.Option{
		jobmanager.WithLogger(log),
		jobmanager.WithSlurmClient(slurm.NewClient(
			slurm.WithQueueCommand(rc.queueCommand),
			slurm.WithQueueInterval(rc.queueInterval),
		)),
	}

	if rc.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, jobmanager.WithMetrics(jobmanager.NewMetrics(reg)))

		stop, err := serveMetrics(rc.metricsAddr, rc.metricsTLS, reg, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(cmd.Context(), cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		opts = append(opts, jobmanager.WithOnComplete(recordJob(store, runID, log)))
	}

	m, err := jobmanager.NewManager(cfg.MaxConcurrent, cfg.Wait, opts...)
	if err != nil {
		return err
	}

	for i := 0; rc.repeat <= 0 || i < rc.repeat; i++ {
		if i > 0 && schedule != nil {
			if err := waitForSchedule(cmd.Context(), schedule, log); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("interrupted, not scheduling further runs")
					return nil
				}

				return err
			}
		}

		if err := enqueueAll(m, requests, rc.scriptDir); err != nil {
			return err
		}

		reaped := len(m.Completed())

		if err := m.RunOnce(cmd.Context()); err != nil {
			var submitErr *jobmanager.SubmitError
			if errors.As(err, &submitErr) {
				log.Error().
					Int("job_id", submitErr.Job.ID()).
					Str("command", oneLine(submitErr.Job.Command())).
					Msg("job not submitted")
			}

			return err
		}

		printSummary(cmd.OutOrStdout(), m.Completed()[reaped:], rc.showOutput)
	}

	return nil
}

// loadRunConfig reads the run file, if any, and applies explicitly set flags
// over it.
func (c *cli) loadRunConfig(cmd *cobra.Command, rc *runConfig) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if rc.file != "" {
		cfg, err = config.Load(rc.file)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if rc.file == "" || flags.Changed("max-concurrent") {
		cfg.MaxConcurrent = rc.maxConcurrent
	}

	if rc.file == "" || flags.Changed("wait") {
		cfg.Wait = rc.wait
	}

	if flags.Changed("history") {
		cfg.HistoryPath = rc.historyPath
	}

	return cfg, nil
}

// commandLineRequests builds the jobs given as arguments.
func commandLineRequests(
	rc *runConfig,
	cfg *config.Config,
	args []string,
) ([]jobmanager.Request, error) {
	if len(args) == 0 {
		return nil, nil
	}

	flagOpts, err := rc.opts.options(rc.slurmFile)
	if err != nil {
		return nil, err
	}

	base := jobmanager.Request{
		Mode:   jobmanager.Mode(rc.mode),
		Slurm:  config.DeriveOptions(cfg.Slurm, flagOpts),
		Script: rc.script,
	}

	if !rc.split {
		req := base
		req.Commands = args
		return []jobmanager.Request{req}, nil
	}

	if rc.script != "" && len(args) > 1 {
		return nil, errors.New("--script can't be shared by split jobs, use --script-dir")
	}

	requests := make([]jobmanager.Request, len(args))
	for i, arg := range args {
		requests[i] = base
		requests[i].Commands = []string{arg}
	}

	return requests, nil
}

// enqueueAll enqueues a copy of every request. Requests without a script path
// get a uniquely named one in scriptDir, when set.
func enqueueAll(
	m *jobmanager.Manager,
	requests []jobmanager.Request,
	scriptDir string,
) error {
	for _, req := range requests {
		if req.Script == "" && scriptDir != "" {
			req.Script = filepath.Join(scriptDir, uuid.NewString()+".slurm")
		}

		if _, err := m.Enqueue(req); err != nil {
			return err
		}
	}

	return nil
}

// parseSchedule parses the --every schedule. Without one, jobs are repeated
// back to back and an unbounded repeat isn't allowed.
func parseSchedule(spec string, repeat int) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		if repeat <= 0 {
			return nil, errors.New("--repeat 0 requires --every")
		}

		return nil, nil
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule '%s': %w", spec, err)
	}

	return schedule, nil
}

func waitForSchedule(
	ctx context.Context,
	schedule cron.Schedule,
	log zerolog.Logger,
) error {
	next := schedule.Next(time.Now())

	log.Info().Time("next_run", next).Msg("waiting for next run")

	t := time.NewTimer(time.Until(next))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func recordJob(
	store *history.Store,
	runID string,
	log zerolog.Logger,
) func(ctx context.Context, job jobmanager.Job) {
	return func(ctx context.Context, job jobmanager.Job) {
		if err := store.Record(ctx, history.FromJob(runID, job, time.Now())); err != nil {
			log.Warn().Err(err).Int("job_id", job.ID()).Msg("failed to record job")
		}
	}
}

// serveMetrics serves reg on addr in the background, over TLS if tlsCfg is
// enabled, and returns a function that shuts the server down.
func serveMetrics(
	addr string,
	tlsCfg tlsconfig.Config,
	reg *prometheus.Registry,
	log zerolog.Logger,
) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if tlsCfg.Enabled() {
		c, err := tlsconfig.SetupTLS(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("metrics TLS: %w", err)
		}

		srv.TLSConfig = c
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Bool("tls", srv.TLSConfig != nil).
			Msg("serving metrics")

		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		srv.Shutdown(ctx)
	}, nil
}

func printSummary(w io.Writer, jobs []jobmanager.Job, showOutput bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "ID\tMODE\tEXIT CODE\tCOMMAND\t\n")
	for _, job := range jobs {
		fmt.Fprintf(
			tw,
			"%d\t%s\t%d\t%s\t\n",
			job.ID(),
			job.Mode(),
			job.ExitCode(),
			oneLine(job.Command()),
		)
	}

	tw.Flush()

	if !showOutput {
		return
	}

	for _, job := range jobs {
		fmt.Fprintf(w, "\n==> job %d <==\n%s", job.ID(), job.Stdout())

		if stderr := job.Stderr(); stderr != "" {
			fmt.Fprintf(w, "--- stderr ---\n%s", stderr)
		}
	}
}

// oneLine shortens multi-line commands, e.g. sbatch here-documents, for
// tabular output.
func oneLine(s string) string {
	first, _, multi := strings.Cut(s, "\n")
	if multi {
		return first + " ..."
	}

	return s
}
