// Package fsiter is the directory-iteration example spec §4.4 names as the
// canonical use of a BlockingPool: opening a directory and reading its
// entries are blocking syscalls, so both are offloaded from the worker
// goroutines (Dir.Close is the one call that runs inline). Ported from
// original_source/tokio/src/fs/read_dir.rs's ReadDir onto
// github.com/corewake/corewake.BlockingPool in place of tokio's sys::Blocking,
// and Go's fs.DirEntry in place of std::fs::DirEntry.
//
// read_dir.rs's State enum (Idle(ReadDir) / Pending(future)) has no Go
// equivalent in the ownership-typed sense — Go has no borrow checker to
// enforce "only one outstanding read at a time" for us — so that invariant
// is instead enforced explicitly with a busy flag guarded by a mutex.
package fsiter

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/corewake/corewake"
)

// ErrIterationInProgress is returned by Next if a previous call's future
// has not yet resolved: read_dir.rs's State::Pending variant prevents this
// at compile time by consuming the receiver; Dir enforces it at runtime
// instead, since Go has no equivalent move semantics.
var ErrIterationInProgress = errors.New("fsiter: a Next call is already in progress")

// Dir iterates the entries of a directory, offloading the open and every
// entry read onto a BlockingPool, per spec §4.4.
type Dir struct {
	pool *corewake.BlockingPool
	file *os.File

	mu   sync.Mutex
	busy bool
}

// ReadDir opens path (offloaded to pool, mirroring read_dir.rs's
// asyncify(|| std::fs::read_dir(path))) and returns a Dir ready to be
// iterated with Next.
func ReadDir(ctx context.Context, pool *corewake.BlockingPool, path string) (*Dir, error) {
	fut := corewake.RunBlocking(pool, func() (*os.File, error) {
		return os.Open(path)
	})
	f, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &Dir{pool: pool, file: f}, nil
}

// Next offloads a single directory-entry read to the blocking pool, the
// Go equivalent of read_dir.rs's one-entry-at-a-time std::fs::ReadDir::next
// call inside its own State::Pending future. Returns the underlying
// io.EOF-flavoured error (wrapped by os.ReadDir's readdirnames contract)
// once the directory is exhausted, not a sentinel "done" value, matching
// read_dir.rs's Stream yielding None by way of an Option-wrapped Result.
//
// Concurrent calls are rejected with ErrIterationInProgress: only one
// outstanding read may be in flight against a given Dir, exactly the
// invariant read_dir.rs's State enum enforces by construction.
func (d *Dir) Next(ctx context.Context) (fs.DirEntry, error) {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return nil, ErrIterationInProgress
	}
	d.busy = true
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
	}

	fut := corewake.RunBlocking(d.pool, func() (fs.DirEntry, error) {
		entries, err := d.file.ReadDir(1)
		if err != nil {
			return nil, err
		}
		return entries[0], nil
	})

	entry, err := fut.Wait(ctx)
	if err != nil && err == ctx.Err() {
		// The read is still outstanding: d stays busy until it resolves.
		go func() { _, _ = fut.Wait(context.Background()); release() }()
		return nil, err
	}
	release()
	return entry, err
}

// Close releases the underlying directory handle. It does not offload to
// the blocking pool: os.File.Close on a directory handle is not expected
// to block meaningfully, and read_dir.rs itself closes synchronously on
// drop rather than through sys::Blocking.
func (d *Dir) Close() error {
	return d.file.Close()
}
