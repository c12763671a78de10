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

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidRequests(t *testing.T) {
	_, err := New("", 2, 1024, 1.0)
	assert.Error(t, err)
	_, err = New("vm1", 0, 1024, 1.0)
	assert.Error(t, err)
	_, err = New("vm1", 2, 0, 1.0)
	assert.Error(t, err)
	_, err = New("vm1", 2, 1024, 0)
	assert.Error(t, err)
}

func TestMatchesFallsBackToNameBeforeUUIDAssigned(t *testing.T) {
	a, err := New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	b, err := New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)

	assert.True(t, a.Matches(b))

	a.SetUUID("uuid-a")
	assert.True(t, a.Matches(b), "falls back to name when only one side has a uuid")

	b.SetUUID("uuid-b")
	assert.False(t, a.Matches(b), "uuids now differ")
}

func TestSetUUIDIsStableOnceAssigned(t *testing.T) {
	a, err := New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	a.SetUUID("first")
	a.SetUUID("second")
	uuid, has := a.UUID()
	assert.True(t, has)
	assert.Equal(t, "first", uuid)
}

func TestAppropriateIDs(t *testing.T) {
	a, err := New("vm1", 2, 1024, 3.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, a.CPUAppropriateID())
	assert.Equal(t, 1, a.MemAppropriateID())
}

func TestCustomMetadataRoundTrip(t *testing.T) {
	a, err := New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	_, ok := a.CustomMetadata("ratio")
	assert.False(t, ok)

	a.SetCustomMetadata("ratio", "3.0")
	v, ok := a.CustomMetadata("ratio")
	require.True(t, ok)
	assert.Equal(t, "3.0", v)
}
