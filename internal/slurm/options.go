package slurm

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Options is an ordered set of Slurm options keyed by their caller-facing
// name (e.g. cpus_per_task). Options values are immutable: With and Derive
// return a new Options and never modify the receiver.
//
// A key may be present but unset. Unset keys are kept for ordering and are
// never rendered.
type Options struct {
	keys   []string
	values map[string]*string
}

// NewOptions creates Options from alternating key/value pairs, e.g.
//
//	NewOptions("job_name", "train", "cpus_per_task", 4, "partition", nil)
//
// A nil value leaves the key unset. It panics on an odd number of arguments.
func NewOptions(kv ...any) Options {
	if len(kv)%2 != 0 {
		panic("slurm: NewOptions requires key/value pairs")
	}

	var o Options
	for i := 0; i < len(kv); i += 2 {
		o = o.With(fmt.Sprint(kv[i]), kv[i+1])
	}

	return o
}

// DefaultOptions returns the option set used for srun and sbatch jobs that
// are enqueued without any options of their own.
func DefaultOptions() Options {
	return NewOptions(
		"job_name", "default",
		"output", nil,
		"error", nil,
		"nodes", 1,
		"ntasks_per_node", 1,
		"cpus_per_task", 1,
		"mem", "16g",
		"time", "1-00:00:00",
		"partition", nil,
		"gres", nil,
		"export", nil,
		"exclude", nil,
		"nodelist", nil,
	)
}

// With returns a copy of o with key set to value. A nil value unsets the key.
// Existing keys keep their position.
func (o Options) With(key string, value any) Options {
	key = strings.TrimSpace(key)

	n := o.clone()
	if _, exists := n.values[key]; !exists {
		n.keys = append(n.keys, key)
	}

	if value == nil {
		n.values[key] = nil
		return n
	}

	s := fmt.Sprint(value)
	n.values[key] = &s

	return n
}

// Derive returns a copy of o updated with every key of overrides, in the
// order overrides defines them. Unset keys in overrides unset them in the
// result.
func (o Options) Derive(overrides Options) Options {
	n := o.clone()

	for _, k := range overrides.keys {
		if _, exists := n.values[k]; !exists {
			n.keys = append(n.keys, k)
		}
		n.values[k] = overrides.values[k]
	}

	return n
}

// Get returns the value of key and whether it is set.
func (o Options) Get(key string) (string, bool) {
	v := o.values[key]
	if v == nil {
		return "", false
	}

	return *v, true
}

// Keys returns all keys, set or unset, in order.
func (o Options) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys, set or unset.
func (o Options) Len() int {
	return len(o.keys)
}

// Flags renders the set options as command-line flags, in order, e.g.
// --cpus-per-task=4. Unset options are omitted.
func (o Options) Flags() []string {
	flags := make([]string, 0, len(o.keys))

	for _, k := range o.keys {
		v := o.values[k]
		if v == nil {
			continue
		}

		flags = append(flags, fmt.Sprintf("--%s=%s", FormatKey(k), *v))
	}

	return flags
}

// String implements the Stringer interface, e.g. Options(job_name=x, mem=<unset>).
func (o Options) String() string {
	pairs := make([]string, 0, len(o.keys))

	for _, k := range o.keys {
		v := "<unset>"
		if p := o.values[k]; p != nil {
			v = *p
		}
		pairs = append(pairs, k+"="+v)
	}

	return "Options(" + strings.Join(pairs, ", ") + ")"
}

// UnmarshalYAML implements yaml.Unmarshaler. It accepts a mapping of scalar
// values and keeps the document's key order. A null value unsets the key.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: slurm options must be a mapping", node.Line)
	}

	var n Options
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]

		if k.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: slurm option key must be a scalar", k.Line)
		}

		switch {
		case v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null":
			n = n.With(k.Value, nil)
		case v.Kind == yaml.ScalarNode:
			n = n.With(k.Value, v.Value)
		default:
			return fmt.Errorf(
				"line %d: slurm option %q must be a scalar",
				v.Line,
				k.Value,
			)
		}
	}

	*o = n

	return nil
}

// LoadOptions reads Options from a YAML file containing a single mapping.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read slurm options: %w", err)
	}

	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("parse slurm options '%s': %w", path, err)
	}

	return o, nil
}

// FormatKey converts a caller-facing option name into its flag form,
// e.g. cpus_per_task -> cpus-per-task.
func FormatKey(k string) string {
	return strings.ReplaceAll(strings.TrimSpace(k), "_", "-")
}

func (o Options) clone() Options {
	n := Options{
		keys:   make([]string, len(o.keys), len(o.keys)+1),
		values: make(map[string]*string, len(o.values)+1),
	}

	copy(n.keys, o.keys)
	for k, v := range o.values {
		n.values[k] = v
	}

	return n
}
