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
	"testing"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSubsetManagerCreatesAndGrowsSubset(t *testing.T) {
	ms := sysfs.NewMemSet(4096, 0)
	m := NewMemSubsetManager(ms, nil, nil)

	vm1, err := domain.New("vm1", 1, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm1)
	require.NoError(t, err)
	require.True(t, ok)

	// Memory has no oversubscription slack: a second VM forces growth of
	// the existing range rather than a rejection.
	vm2, err := domain.New("vm2", 1, 1024, 1.0)
	require.NoError(t, err)
	ok, err = m.Deploy(vm2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.HasVM(vm2))
}

func TestMemSubsetManagerRejectsOverCapacity(t *testing.T) {
	ms := sysfs.NewMemSet(2048, 0)
	m := NewMemSubsetManager(ms, nil, nil)

	vm, err := domain.New("vm", 1, 4096, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemSubsetManagerRemoveShrinksRange(t *testing.T) {
	ms := sysfs.NewMemSet(4096, 0)
	m := NewMemSubsetManager(ms, nil, nil)

	vm, err := domain.New("vm", 1, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Remove(vm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.HasVM(vm))

	// The range is fully reclaimed: the next subset starts back at 0.
	vm2, err := domain.New("vm2", 1, 4096, 1.0)
	require.NoError(t, err)
	ok, err = m.Deploy(vm2)
	require.NoError(t, err)
	assert.True(t, ok)
}
