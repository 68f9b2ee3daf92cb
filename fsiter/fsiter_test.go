package fsiter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewake/corewake"
)

func newTestPool(t *testing.T) *corewake.BlockingPool {
	t.Helper()
	pool := corewake.NewBlockingPool(4, time.Second, nil)
	t.Cleanup(pool.Close)
	return pool
}

func TestReadDirListsEntries(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.txt", "b.txt", "c.txt"}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}

	pool := newTestPool(t)
	ctx := context.Background()

	d, err := ReadDir(ctx, pool, dir)
	require.NoError(t, err)
	defer d.Close()

	var got []string
	for {
		entry, err := d.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, entry.Name())
	}

	assert.ElementsMatch(t, names, got)
}

func TestReadDirMissingPath(t *testing.T) {
	pool := newTestPool(t)
	_, err := ReadDir(context.Background(), pool, filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestReadDirRejectsConcurrentNext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "only.txt"), nil, 0o644))

	pool := newTestPool(t)
	ctx := context.Background()

	d, err := ReadDir(ctx, pool, dir)
	require.NoError(t, err)
	defer d.Close()

	d.mu.Lock()
	d.busy = true
	d.mu.Unlock()

	_, err = d.Next(ctx)
	require.ErrorIs(t, err, ErrIterationInProgress)

	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

func TestReadDirEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	pool := newTestPool(t)
	ctx := context.Background()

	d, err := ReadDir(ctx, pool, dir)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}
