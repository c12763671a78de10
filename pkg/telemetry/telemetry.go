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

// Package telemetry persists the usage samples the scheduler computes on
// each tick. It is a pure storage/retrieval boundary: the samples
// themselves are always computed by the caller (a Subset, against its own
// resource and hypervisor collaborators), never by the pool itself, which
// keeps this package free of any dependency back on pkg/subset.
package telemetry

import "context"

// SubsetSample is one tick's observation for a single Subset.
type SubsetSample struct {
	Timestamp     int64
	SubsetID      string
	ResourceUsage float64            // fraction [0,1] of physical resource in use
	ConsumerUsage map[string]float64 // vm uuid -> usage fraction, only alive consumers
}

// GlobalSample is one tick's observation across an entire SubsetManager.
type GlobalSample struct {
	Timestamp int64
	ManagerID string
	Usage     float64
}

// EndpointPool is the load/store boundary for telemetry records.
type EndpointPool interface {
	StoreSubset(ctx context.Context, sample SubsetSample) error
	StoreGlobal(ctx context.Context, sample GlobalSample) error
	LoadSubset(ctx context.Context, subsetID string, timestamp int64) (SubsetSample, bool, error)
	LoadGlobal(ctx context.Context, managerID string, timestamp int64) (GlobalSample, bool, error)
}
