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

package sysfs

// MemSet is the host's logical memory pool: a single contiguous range of
// MB, reduced by a configured private reserve at init time. Memory is not
// modeled per-NUMA-node (see spec Non-goals).
type MemSet struct {
	totalMB   int64
	allowedMB int64
}

// NewMemSet builds a MemSet from a total capacity and a private reserve,
// both in MB. allowedMB is clamped to never go below 0.
func NewMemSet(totalMB, privateReserveMB int64) *MemSet {
	allowed := totalMB - privateReserveMB
	if allowed < 0 {
		allowed = 0
	}
	return &MemSet{totalMB: totalMB, allowedMB: allowed}
}

func (m *MemSet) TotalMB() int64   { return m.totalMB }
func (m *MemSet) AllowedMB() int64 { return m.allowedMB }
