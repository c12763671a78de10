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

package submgr

import (
	"context"
	"testing"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, nCPU int, memMB int64) (*Pool, *hypervisor.Noop) {
	t.Helper()
	cs := buildTestCpuSet(t, nCPU)
	ms := sysfs.NewMemSet(memMB, 0)
	hv := hypervisor.NewNoop()
	cpu := NewCpuSubsetManager(cs, t.TempDir(), hv, nil, 0)
	mem := NewMemSubsetManager(ms, hv, nil)
	return NewPool(cpu, mem, hv), hv
}

func TestPoolDeployAssignsUUIDAndIntegratesBothManagers(t *testing.T) {
	pool, _ := newTestPool(t, 8, 4096)
	vm, err := domain.New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)

	ok, reason, err := pool.Deploy(context.Background(), vm)
	require.NoError(t, err)
	require.True(t, ok, reason)

	uuid, has := vm.UUID()
	assert.True(t, has)
	assert.NotEmpty(t, uuid)
	assert.True(t, pool.HasVM(vm))
}

func TestPoolDeployRollsBackOnPartialFailure(t *testing.T) {
	pool, hv := newTestPool(t, 8, 512) // too little memory for the request
	vm, err := domain.New("vm1", 2, 4096, 1.0)
	require.NoError(t, err)

	ok, reason, err := pool.Deploy(context.Background(), vm)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.False(t, pool.HasVM(vm))

	handles, err := hv.ListAlive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestPoolRemoveDeletesDomain(t *testing.T) {
	pool, hv := newTestPool(t, 8, 4096)
	vm, err := domain.New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)

	ok, _, err := pool.Deploy(context.Background(), vm)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pool.Remove(context.Background(), vm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, pool.HasVM(vm))

	handles, err := hv.ListAlive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestPoolReconcileIntegratesOutOfBandVM(t *testing.T) {
	pool, hv := newTestPool(t, 8, 4096)

	uuid, err := hv.Create(context.Background(), hypervisor.Spec{Name: "out-of-band", MemMB: 1024, VCPUs: 2, CPURatio: 1.0})
	require.NoError(t, err)
	require.NotEmpty(t, uuid)

	require.NoError(t, pool.Reconcile(context.Background()))
	assert.NotNil(t, pool.VMByName("out-of-band"))
}

func TestPoolTickRunsWithoutError(t *testing.T) {
	pool, _ := newTestPool(t, 8, 4096)
	vm, err := domain.New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	ok, _, err := pool.Deploy(context.Background(), vm)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, pool.Tick(context.Background(), 1))
}
