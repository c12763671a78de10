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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTickRate, cfg.TickRate)
	assert.Equal(t, 50, cfg.DistanceMax)
	assert.True(t, cfg.Include.IsEmpty())
	assert.Equal(t, 500*time.Millisecond, cfg.TickPeriod())
}

func TestParseIncludeExclude(t *testing.T) {
	cfg, err := Parse([]string{"--include", "0-3", "--exclude", "1"})
	require.NoError(t, err)
	assert.Equal(t, "0,2-3", cfg.Include.Difference(cfg.Exclude).String())
}

func TestParseRejectsInvalidCpuSet(t *testing.T) {
	_, err := Parse([]string{"--include", "not-a-cpuset"})
	assert.Error(t, err)
}

func TestParseRejectsNonPositiveTickRate(t *testing.T) {
	_, err := Parse([]string{"--tick-rate", "0"})
	assert.Error(t, err)
}

func TestParseRejectsNegativePrivateMem(t *testing.T) {
	_, err := Parse([]string{"--private-mem-mb", "-1"})
	assert.Error(t, err)
}

func TestDiscoveryOptionsCarriesFlags(t *testing.T) {
	cfg, err := Parse([]string{"--private-mem-mb", "512"})
	require.NoError(t, err)
	opts := cfg.DiscoveryOptions()
	assert.Equal(t, int64(512), opts.PrivateReserveMB)
	assert.Equal(t, "/sys", opts.SysRoot)
	assert.Equal(t, "/proc", opts.ProcRoot)
}
