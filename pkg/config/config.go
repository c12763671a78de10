// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config parses the thin operator surface listed in spec.md §6:
// cpu include/exclude sets, an optional topology snapshot file, the private
// memory reservation, the tick rate, the growth distance cap, and debug
// toggles.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	logger "github.com/jacquetpi/hostslack/pkg/log"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// defaultTickRate matches the reference implementation's SchedulerLocal
// default (tick=2, i.e. one iteration every 500ms).
const defaultTickRate = 2.0

// Config is the fully parsed, validated operator surface.
type Config struct {
	// Include, if non-empty, restricts discovery to these cpu ids.
	Include cpuset.CPUSet
	// Exclude removes these cpu ids from discovery.
	Exclude cpuset.CPUSet
	// TopologyFile, if set, loads a persisted snapshot instead of live
	// discovery.
	TopologyFile string
	// PrivateMemMB is subtracted once from total memory.
	PrivateMemMB int64
	// TickRate is the scheduler loop frequency in Hz; the tick period is
	// 1/TickRate.
	TickRate float64
	// DistanceMax caps how far a single CPU subset may spread during
	// growth, per spec.md §4.5.
	DistanceMax int
	// Debug carries raw "state:source" debug toggle specs for pkg/log.
	Debug []string
	// LogSource controls whether log messages are prefixed with their
	// source package.
	LogSource bool
}

// Parse parses args (typically os.Args[1:]) into a validated Config.
// Configuration-fatal errors (unparsable cpu-id-sets, non-positive tick
// rate) are returned rather than causing Parse itself to exit, so the
// caller decides how to report and abort startup.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("hostslackd", pflag.ContinueOnError)

	include := fs.String("include", "", "Restrict discovery to this cpu-id-set (e.g. \"0-3,8\"); empty means all.")
	exclude := fs.String("exclude", "", "Remove this cpu-id-set from discovery (e.g. \"4,5\").")
	topologyFile := fs.String("topology-file", "", "Load a persisted topology snapshot instead of live discovery.")
	privateMemMB := fs.Int64("private-mem-mb", 0, "Memory reserved for the host itself, subtracted once from total memory.")
	tickRate := fs.Float64("tick-rate", defaultTickRate, "Scheduler loop frequency in Hz; the tick period is 1/tick-rate.")
	distanceMax := fs.Int("distance-max", 50, "Maximum distance a growth candidate may have to any CPU already in the subset.")
	debug := fs.StringSlice("debug", nil, "Debug toggle specs (\"state:source\", e.g. \"on:subset\"); \"all\" for source matches every package.")
	logSource := fs.Bool("log-source", false, "Prefix log messages with their source package.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		TopologyFile: *topologyFile,
		PrivateMemMB: *privateMemMB,
		TickRate:     *tickRate,
		DistanceMax:  *distanceMax,
		Debug:        *debug,
		LogSource:    *logSource,
	}

	if *include != "" {
		cset, err := cpuset.Parse(*include)
		if err != nil {
			return nil, configError("invalid --include %q: %w", *include, err)
		}
		cfg.Include = cset
	}
	if *exclude != "" {
		cset, err := cpuset.Parse(*exclude)
		if err != nil {
			return nil, configError("invalid --exclude %q: %w", *exclude, err)
		}
		cfg.Exclude = cset
	}
	if cfg.PrivateMemMB < 0 {
		return nil, configError("--private-mem-mb must be >= 0, got %d", cfg.PrivateMemMB)
	}
	if cfg.TickRate <= 0 {
		return nil, configError("--tick-rate must be > 0, got %v", cfg.TickRate)
	}
	if cfg.DistanceMax <= 0 {
		return nil, configError("--distance-max must be > 0, got %d", cfg.DistanceMax)
	}

	return cfg, nil
}

// TickPeriod is the wall-clock period between tick loop iterations,
// 1/TickRate.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}

// DiscoveryOptions converts the parsed flags into sysfs.Options for live
// discovery, rooted at the real host's sysfs/procfs trees.
func (c *Config) DiscoveryOptions() sysfs.Options {
	opts := sysfs.DefaultOptions()
	opts.Include = c.Include
	opts.Exclude = c.Exclude
	opts.PrivateReserveMB = c.PrivateMemMB
	return opts
}

// LogConfig converts the parsed flags into the log package's runtime config.
func (c *Config) LogConfig() logger.Config {
	return logger.Config{Debug: c.Debug, LogSource: c.LogSource}
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
