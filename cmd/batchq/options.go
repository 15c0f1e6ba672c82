package main

import (
	"fmt"
	"strings"

	"github.com/nixpig/batchq/internal/slurm"
	"github.com/spf13/pflag"
)

var _ pflag.Value = (*optionsValue)(nil)

// optionsValue collects repeated --opt key=value flags into slurm.Options.
// An empty value, e.g. --opt partition=, unsets the key.
type optionsValue struct {
	opts slurm.Options
	set  bool
}

func (v *optionsValue) String() string {
	return strings.Join(v.opts.Flags(), " ")
}

func (v *optionsValue) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value: got '%s'", s)
	}

	if value == "" {
		v.opts = v.opts.With(key, nil)
	} else {
		v.opts = v.opts.With(key, value)
	}

	v.set = true

	return nil
}

func (v *optionsValue) Type() string {
	return "key=value"
}

// options returns the collected options layered over those loaded from path,
// if any. It returns nil when neither is given.
func (v *optionsValue) options(path string) (*slurm.Options, error) {
	var base *slurm.Options

	if path != "" {
		o, err := slurm.LoadOptions(path)
		if err != nil {
			return nil, err
		}

		base = &o
	}

	if !v.set {
		return base, nil
	}

	if base == nil {
		o := v.opts
		return &o, nil
	}

	o := base.Derive(v.opts)

	return &o, nil
}
