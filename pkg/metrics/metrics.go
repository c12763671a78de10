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

// Package metrics exposes the scheduler's subset state as Prometheus
// gauges: one collector, polled on every Gather call rather than on its own
// ticker, since the Pool already maintains authoritative state in memory.
package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	logger "github.com/jacquetpi/hostslack/pkg/log"
	"github.com/jacquetpi/hostslack/pkg/submgr"
)

var log = logger.NewLogger("metrics")

const namespace = "hostslack"

// Source is the surface Collector polls; *submgr.Pool satisfies it via its
// Managers method.
type Source interface {
	Managers() []submgr.ManagerStats
}

var (
	capacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "subset", "capacity"),
		"Physical resource capacity of a subset.",
		[]string{"resource", "subset"}, nil,
	)
	allocationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "subset", "allocation"),
		"Virtual resource allocation currently committed to consumers of a subset.",
		[]string{"resource", "subset"}, nil,
	)
	availableDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "subset", "available"),
		"Virtual resource still available for new consumers of a subset.",
		[]string{"resource", "subset"}, nil,
	)
	unusedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "subset", "unused_physical"),
		"Physical resource no longer required by any consumer of a subset.",
		[]string{"resource", "subset"}, nil,
	)
	consumersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "subset", "consumers"),
		"Number of VMs currently deployed on a subset.",
		[]string{"resource", "subset"}, nil,
	)
	managerCapacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "manager", "capacity"),
		"Total host physical capacity tracked by a resource manager.",
		[]string{"resource"}, nil,
	)
)

// Collector implements prometheus.Collector over a Source, read fresh on
// every Collect call.
type Collector struct {
	mu     sync.Mutex
	source Source
}

// NewCollector builds a Collector over source. source is typically a
// *submgr.Pool.
func NewCollector(source Source) *Collector {
	return &Collector{source: source}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- capacityDesc
	ch <- allocationDesc
	ch <- availableDesc
	ch <- unusedDesc
	ch <- consumersDesc
	ch <- managerCapacityDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.source.Managers() {
		resource := m.ResourceName()
		ch <- prometheus.MustNewConstMetric(managerCapacityDesc, prometheus.GaugeValue, float64(m.Capacity()), resource)

		for _, s := range m.Subsets() {
			label := fmt.Sprintf("%v", s.OversubscriptionID())
			capacity := float64(s.Capacity())
			allocation := float64(s.Allocation())
			ch <- prometheus.MustNewConstMetric(capacityDesc, prometheus.GaugeValue, capacity, resource, label)
			ch <- prometheus.MustNewConstMetric(allocationDesc, prometheus.GaugeValue, allocation, resource, label)
			ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, capacity*s.OversubscriptionID()-allocation, resource, label)
			ch <- prometheus.MustNewConstMetric(unusedDesc, prometheus.GaugeValue, float64(s.UnusedPhysical()), resource, label)
			ch <- prometheus.MustNewConstMetric(consumersDesc, prometheus.GaugeValue, float64(len(s.Consumers())), resource, label)
		}
	}
}

// NewRegistry builds a prometheus.Registry carrying the standard process and
// Go runtime collectors plus a Collector over source, ready to back an HTTP
// exposition handler.
func NewRegistry(source Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	if err := reg.Register(NewCollector(source)); err != nil {
		log.Warn("failed to register subset collector: %v", err)
	}
	return reg
}

// Dump renders every gathered family of reg in Prometheus text exposition
// format, for debug logging when no HTTP exposition endpoint is wired up.
func Dump(reg prometheus.Gatherer) (string, error) {
	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: gather failed: %w", err)
	}
	var sb strings.Builder
	for _, f := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, f); err != nil {
			return "", fmt.Errorf("metrics: encode %s failed: %w", f.GetName(), err)
		}
	}
	return sb.String(), nil
}
