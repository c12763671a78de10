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

package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreAndLoadSubset(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	pool := NewFile(path)

	sample := SubsetSample{
		Timestamp:     42,
		SubsetID:      "3.0",
		ResourceUsage: 0.5,
		ConsumerUsage: map[string]float64{"uuid-1": 0.2},
	}
	require.NoError(t, pool.StoreSubset(ctx, sample))

	loaded, ok, err := pool.LoadSubset(ctx, "3.0", 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample, loaded)

	_, ok, err = pool.LoadSubset(ctx, "3.0", 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileLoadFromMissingFile(t *testing.T) {
	pool := NewFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	_, ok, err := pool.LoadSubset(context.Background(), "3.0", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreGlobal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	pool := NewFile(path)

	require.NoError(t, pool.StoreGlobal(ctx, GlobalSample{Timestamp: 1, ManagerID: "cpu", Usage: 0.75}))
	loaded, ok, err := pool.LoadGlobal(ctx, "cpu", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.75, loaded.Usage, 0.0001)
}
