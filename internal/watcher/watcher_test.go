// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var fired int32
	for i := 0; i < 10; i++ {
		d.Debounce("k", func() { atomic.AddInt32(&fired, 1) })
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)

	// No extra firings after settling.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestDebouncer_KeysIndependent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var a, b int32
	d.Debounce("a", func() { atomic.AddInt32(&a, 1) })
	d.Debounce("b", func() { atomic.AddInt32(&b, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var fired int32
	d.Debounce("k", func() { atomic.AddInt32(&fired, 1) })
	d.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestStateWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	var fired int32
	w, err := NewStateWatcher(path, 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x"}]`), 0644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

// Atomic tmp+rename writes are the registry's persistence idiom; the
// watcher must see them.
func TestStateWatcher_FiresOnRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	var fired int32
	w, err := NewStateWatcher(path, 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	require.NoError(t, err)
	defer w.Close()

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(`[{"id":"y"}]`), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStateWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	var fired int32
	w, err := NewStateWatcher(path, 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
