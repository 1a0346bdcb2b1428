// Copyright 2025 Google Inc. All Rights Reserved.
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

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridtier/rhssfs/internal/backend"
)

func newTestStore(t *testing.T, threshold uint64) (*Store, *backend.Generic, *backend.Generic) {
	t.Helper()
	hot, err := backend.NewGeneric(t.TempDir())
	require.NoError(t, err)
	cold, err := backend.NewGeneric(t.TempDir())
	require.NoError(t, err)
	return New(hot, cold, threshold, nil), hot, cold
}

func TestStore_WriteRoutesBySize(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "/small", []byte("abc")))
	ok, err := hot.Exists(ctx, "/small")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = cold.Exists(ctx, "/small")
	assert.False(t, ok)

	require.NoError(t, s.Write(ctx, "/big", []byte("0123456789abcdef")))
	ok, err = cold.Exists(ctx, "/big")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = hot.Exists(ctx, "/big")
	assert.False(t, ok)
}

func TestStore_WriteMigratesAcrossThreshold(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "/f", []byte("abc")))
	ok, _ := hot.Exists(ctx, "/f")
	assert.True(t, ok)

	require.NoError(t, s.Write(ctx, "/f", []byte("0123456789abcdef")))
	ok, _ = hot.Exists(ctx, "/f")
	assert.False(t, ok, "opposite tier should be cleared on re-route")
	ok, _ = cold.Exists(ctx, "/f")
	assert.True(t, ok)

	data, err := s.Read(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(data))
}

func TestStore_ThresholdBoundary(t *testing.T) {
	s, hot, cold := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "/under", []byte("abc")))
	require.NoError(t, s.Write(ctx, "/at", []byte("abcd")))
	require.NoError(t, s.Write(ctx, "/over", []byte("abcde")))

	ok, _ := hot.Exists(ctx, "/under")
	assert.True(t, ok)
	ok, _ = cold.Exists(ctx, "/at")
	assert.True(t, ok)
	ok, _ = cold.Exists(ctx, "/over")
	assert.True(t, ok)
}

func TestStore_ReadPrefersHotWhenInBoth(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/e", []byte("hot-bytes")))
	require.NoError(t, cold.Write(ctx, "/e", []byte("cold-bytes")))

	data, err := s.Read(ctx, "/e")
	require.NoError(t, err)
	assert.Equal(t, "hot-bytes", string(data))
}

func TestStore_ReadNotFound(t *testing.T) {
	s, _, _ := newTestStore(t, 10)
	_, err := s.Read(context.Background(), "/missing")
	assert.Error(t, err)
}

func TestStore_StatPrefersHot(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/dup", []byte("h")))
	require.NoError(t, cold.Write(ctx, "/dup", []byte("cccccc")))

	md, err := s.Stat(ctx, "/dup")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), md.Size)
}

func TestStore_ListDedups(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/dir/a", []byte("1")))
	require.NoError(t, hot.Write(ctx, "/dir/b", []byte("2")))
	require.NoError(t, cold.Write(ctx, "/dir/b", []byte("22")))
	require.NoError(t, cold.Write(ctx, "/dir/c", []byte("3")))

	names, err := s.List(ctx, "/dir")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func TestStore_CreateEmptyDoesNotPurgeColdCopy(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, cold.Write(ctx, "/f", []byte("0123456789abcdef")))
	require.NoError(t, s.CreateEmpty(ctx, "/f"))

	ok, _ := hot.Exists(ctx, "/f")
	assert.True(t, ok)
	ok, _ = cold.Exists(ctx, "/f")
	assert.True(t, ok, "create_empty must not purge the opposite tier")
}

func TestStore_MkdirHotOnly(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Mkdir(ctx, "/d"))
	ok, _ := hot.Exists(ctx, "/d")
	assert.True(t, ok)
	ok, _ = cold.Exists(ctx, "/d")
	assert.False(t, ok)
}

func TestStore_DeleteSucceedsIfEitherTierSucceeds(t *testing.T) {
	s, hot, _ := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/f", []byte("x")))
	assert.NoError(t, s.Delete(ctx, "/f"))

	ok, _ := hot.Exists(ctx, "/f")
	assert.False(t, ok)
}

func TestStore_ExistsEitherTier(t *testing.T) {
	s, _, cold := newTestStore(t, 10)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "/f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cold.Write(ctx, "/f", []byte("x")))
	ok, err = s.Exists(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_MigrateFile(t *testing.T) {
	s, hot, cold := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/f", []byte("0123456789abcdef")))

	migrated, err := s.MigrateFile(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, migrated)

	ok, _ := hot.Exists(ctx, "/f")
	assert.False(t, ok)
	ok, _ = cold.Exists(ctx, "/f")
	assert.True(t, ok)

	migrated, err = s.MigrateFile(ctx, "/f")
	require.NoError(t, err)
	assert.False(t, migrated, "second migration should be a no-op")
}

func TestStore_MigrateDirectory(t *testing.T) {
	s, hot, _ := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/dir/a", []byte("0123456789abcdef")))
	require.NoError(t, hot.Write(ctx, "/dir/b", []byte("x")))

	stats, err := s.MigrateDirectory(ctx, "/dir")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, 1, stats.Migrated)
}

func TestStore_IgnoresAppleDoubleNames(t *testing.T) {
	s, hot, _ := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, hot.Write(ctx, "/dir/._hidden", []byte("x")))
	require.NoError(t, hot.Write(ctx, "/dir/visible", []byte("x")))

	names, err := s.List(ctx, "/dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"visible"}, names)

	_, err = s.Stat(ctx, "/dir/._hidden")
	assert.Error(t, err)
}
