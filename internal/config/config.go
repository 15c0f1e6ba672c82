// Package config loads batchq run files.
//
// A run file is YAML:
//
//	max_concurrent: 2
//	wait: 10s
//	log: {level: info, format: console}
//	history: {path: batchq.db}
//	slurm:
//	  job_name: default
//	  partition: null
//	jobs:
//	  - mode: sbatch
//	    commands: ["echo hello", "sleep 5"]
//	    slurm: {job_name: task_0}
//
// Job slurm options are derived from the top-level slurm options, so a job
// only needs to name the options it overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nixpig/batchq/internal/jobmanager"
	"github.com/nixpig/batchq/internal/logging"
	"github.com/nixpig/batchq/internal/slurm"
	yaml "go.yaml.in/yaml/v3"
)

const DefaultMaxConcurrent = 1

// Config is a resolved run file.
type Config struct {
	MaxConcurrent int
	Wait          time.Duration
	Log           logging.Config
	HistoryPath   string

	// Slurm holds the default options, or nil if the file sets none.
	Slurm *slurm.Options

	Jobs []jobmanager.Request
}

type file struct {
	MaxConcurrent int            `yaml:"max_concurrent"`
	Wait          string         `yaml:"wait"`
	Log           logging.Config `yaml:"log"`
	History       struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
	Slurm *slurm.Options `yaml:"slurm"`
	Jobs  []job          `yaml:"jobs"`
}

type job struct {
	Mode     string         `yaml:"mode"`
	Command  string         `yaml:"command"`
	Commands []string       `yaml:"commands"`
	Slurm    *slurm.Options `yaml:"slurm"`
	Script   string         `yaml:"script"`
}

// Load reads and resolves the run file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config '%s': %w", path, err)
	}

	return cfg, nil
}

// Parse resolves a run file. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var f file

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if f.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max_concurrent: must be > 0: got %d", f.MaxConcurrent)
	}

	if f.MaxConcurrent == 0 {
		f.MaxConcurrent = DefaultMaxConcurrent
	}

	wait, err := parseDuration("wait", f.Wait, jobmanager.DefaultWait)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MaxConcurrent: f.MaxConcurrent,
		Wait:          wait,
		Log:           f.Log,
		HistoryPath:   strings.TrimSpace(f.History.Path),
		Slurm:         f.Slurm,
		Jobs:          make([]jobmanager.Request, 0, len(f.Jobs)),
	}

	for i, j := range f.Jobs {
		req, err := j.request(f.Slurm)
		if err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}

		cfg.Jobs = append(cfg.Jobs, req)
	}

	return cfg, nil
}

func (j job) request(defaults *slurm.Options) (jobmanager.Request, error) {
	mode := strings.TrimSpace(j.Mode)
	if mode == "" {
		return jobmanager.Request{}, errors.New("mode: required")
	}

	if j.Command != "" && len(j.Commands) > 0 {
		return jobmanager.Request{}, errors.New(
			"command and commands are mutually exclusive",
		)
	}

	commands := j.Commands
	if j.Command != "" {
		commands = []string{j.Command}
	}

	return jobmanager.Request{
		Mode:     jobmanager.Mode(mode),
		Commands: commands,
		Slurm:    DeriveOptions(defaults, j.Slurm),
		Script:   strings.TrimSpace(j.Script),
	}, nil
}

// DeriveOptions merges overrides into defaults without modifying either. It
// returns nil when both are nil.
func DeriveOptions(defaults, overrides *slurm.Options) *slurm.Options {
	switch {
	case defaults == nil && overrides == nil:
		return nil
	case defaults == nil:
		o := *overrides
		return &o
	case overrides == nil:
		o := *defaults
		return &o
	}

	o := defaults.Derive(*overrides)

	return &o
}

// parseDuration parses raw as a non-negative duration, returning def when raw
// is empty.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}

	return d, nil
}
