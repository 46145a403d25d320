package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	_ io.ReaderAt = (*File)(nil)
	_ io.WriterAt = (*File)(nil)
	_ io.Closer   = (*File)(nil)
)

// TestFile_LockSharedCoexists verifies that multiple handles can hold
// shared file locks at once.
func TestFile_LockSharedCoexists(t *testing.T) {
	f1, f2 := setupShmHandles(t)
	require.NoError(t, f1.Lock(LockShared))
	require.NoError(t, f2.Lock(LockShared))
}

// TestFile_LockExclusiveExcludes verifies that an exclusive lock excludes
// shared lockers and vice versa, and that unlocking releases the conflict.
func TestFile_LockExclusiveExcludes(t *testing.T) {
	f1, f2 := setupShmHandles(t)

	require.NoError(t, f1.Lock(LockShared))
	require.NoError(t, f1.Lock(LockExclusive))

	require.ErrorIs(t, f2.Lock(LockShared), ErrBusy)

	require.NoError(t, f1.Unlock(LockNone))
	require.NoError(t, f2.Lock(LockShared))

	// With f2 holding shared, f1 can join it but cannot escalate.
	require.NoError(t, f1.Lock(LockShared))
	require.ErrorIs(t, f1.Lock(LockExclusive), ErrBusy)
}

// TestFile_LockReservedSingle verifies that only one handle at a time can
// hold the reserved lock, while shared locks remain available.
func TestFile_LockReservedSingle(t *testing.T) {
	f1, f2 := setupShmHandles(t)

	require.NoError(t, f1.Lock(LockShared))
	require.NoError(t, f1.Lock(LockReserved))

	require.NoError(t, f2.Lock(LockShared))
	require.ErrorIs(t, f2.Lock(LockReserved), ErrBusy)

	require.NoError(t, f1.Unlock(LockShared))
	require.NoError(t, f2.Lock(LockReserved))
}

// TestFile_LockWithoutShared verifies that escalating past SHARED without
// holding it is a caller bug.
func TestFile_LockWithoutShared(t *testing.T) {
	f1, _ := setupShmHandles(t)
	require.ErrorIs(t, f1.Lock(LockReserved), ErrInvariant)
}

// TestFile_SyncIsNoop verifies that Sync always succeeds: memory needs no
// flushing.
func TestFile_SyncIsNoop(t *testing.T) {
	f1, _ := setupShmHandles(t)
	require.NoError(t, f1.Sync())
}

// TestFile_DoubleClose verifies that closing a handle twice is a caller
// bug.
func TestFile_DoubleClose(t *testing.T) {
	r := setupRegistry(t)
	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), ErrInvariant)
}

// TestFile_Identity verifies that every handle carries a distinct identity.
func TestFile_Identity(t *testing.T) {
	f1, f2 := setupShmHandles(t)
	require.NotEqual(t, f1.ID(), f2.ID())
	require.Equal(t, "test.db", f1.Filename())
}

// TestFile_CloseReleasesFileLock verifies that an exclusive file lock dies
// with its handle.
func TestFile_CloseReleasesFileLock(t *testing.T) {
	r := setupRegistry(t)
	f1, err := r.Open("test.db", true)
	require.NoError(t, err)
	f2, err := r.Open("test.db", false)
	require.NoError(t, err)
	defer f2.Close()

	require.NoError(t, f1.Lock(LockShared))
	require.NoError(t, f1.Lock(LockExclusive))
	require.ErrorIs(t, f2.Lock(LockShared), ErrBusy)

	require.NoError(t, f1.Close())
	require.NoError(t, f2.Lock(LockShared))
}
