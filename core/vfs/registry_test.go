package vfs

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeekanayaka/go-dqlite/pkg/logger"
)

// --- Test Helpers ---

// setupRegistry creates an empty registry with the project's standard
// console logger at debug level.
func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.New(logger.Config{
		Level:      "debug",
		Format:     "console",
		OutputFile: "stderr",
	})
	require.NoError(t, err)

	r, err := New(log)
	require.NoError(t, err)
	return r
}

// pageOf returns a page-sized buffer filled with b.
func pageOf(b byte, size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = b
	}
	return p
}

// --- Test Cases ---

// TestRegistry_OpenMissing verifies that opening a filename that was never
// created fails with ErrNotFound unless create is set, and that a created
// file is visible through Exists.
func TestRegistry_OpenMissing(t *testing.T) {
	r := setupRegistry(t)

	_, err := r.Open("test.db", false)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, r.Exists("test.db"))

	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	require.True(t, r.Exists("test.db"))
	require.Equal(t, MainDatabase, f.Kind())
	require.NoError(t, f.Close())
}

// TestRegistry_KindInference verifies that the content kind is inferred from
// the filename suffix.
func TestRegistry_KindInference(t *testing.T) {
	r := setupRegistry(t)

	db, err := r.Open("app.db", true)
	require.NoError(t, err)
	wal, err := r.Open("app.db-wal", true)
	require.NoError(t, err)

	require.Equal(t, MainDatabase, db.Kind())
	require.Equal(t, WriteAheadLog, wal.Kind())

	require.NoError(t, db.Close())
	require.NoError(t, wal.Close())
}

// TestRegistry_DeleteBusy verifies that deleting a file with open handles
// fails with ErrBusy and leaves the content intact, and that the delete
// succeeds once the last handle is closed.
func TestRegistry_DeleteBusy(t *testing.T) {
	r := setupRegistry(t)

	f, err := r.Open("test.db", true)
	require.NoError(t, err)

	err = r.Delete("test.db")
	require.ErrorIs(t, err, ErrBusy)
	require.True(t, r.Exists("test.db"))

	require.NoError(t, f.Close())
	require.NoError(t, r.Delete("test.db"))
	require.False(t, r.Exists("test.db"))
}

// TestRegistry_ContentRetainedAfterClose verifies that a content whose last
// handle closed stays registered until an explicit delete, and that
// reopening it observes the same pages.
func TestRegistry_ContentRetainedAfterClose(t *testing.T) {
	r := setupRegistry(t)

	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	_, err = f.WriteAt(pageOf(0xAB, 4096), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.True(t, r.Exists("test.db"))

	f, err = r.Open("test.db", false)
	require.NoError(t, err)
	got := make([]byte, 4096)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, pageOf(0xAB, 4096), got)
	require.NoError(t, f.Close())
}

// TestRegistry_DeleteMissing verifies that deleting an unknown filename
// fails with ErrNotFound.
func TestRegistry_DeleteMissing(t *testing.T) {
	r := setupRegistry(t)
	require.ErrorIs(t, r.Delete("nope.db"), ErrNotFound)
}

// TestRegistry_LastError verifies that the diagnostic last-error slot is
// overwritten by every failing operation, last write wins.
func TestRegistry_LastError(t *testing.T) {
	r := setupRegistry(t)
	require.Equal(t, CodeOK, r.LastError())

	_, err := r.Open("missing.db", false)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, CodeCantOpen, r.LastError())

	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	require.ErrorIs(t, r.Delete("test.db"), ErrBusy)
	require.Equal(t, CodeBusy, r.LastError())

	r.SetLastError(CodeOK)
	require.Equal(t, CodeOK, r.LastError())
	require.NoError(t, f.Close())
}

// TestRegistry_IndependentInstances verifies that two registries do not
// share any state.
func TestRegistry_IndependentInstances(t *testing.T) {
	r1 := setupRegistry(t)
	r2 := setupRegistry(t)

	f, err := r1.Open("test.db", true)
	require.NoError(t, err)
	defer f.Close()

	require.True(t, r1.Exists("test.db"))
	require.False(t, r2.Exists("test.db"))
}

// TestRegistry_ConcurrentWriters has N goroutines each open the same file,
// write a distinct page and close, while readers continuously check that no
// page is ever observed half-written. The final extent must account for
// every page: no lost writes.
func TestRegistry_ConcurrentWriters(t *testing.T) {
	const (
		pageSize = 4096
		writers  = 16
	)
	r := setupRegistry(t)

	// Establish the page size with the first page.
	f, err := r.Open("test.db", true)
	require.NoError(t, err)
	_, err = f.WriteAt(pageOf(0, pageSize), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := r.Open("test.db", false)
			require.NoError(t, err)
			defer f.Close()
			// Pages are append-only, so a write may race ahead of the
			// page below it; retry until the file has grown, the same
			// way the engine retries on transient errors.
			for {
				_, err := f.WriteAt(pageOf(byte(i), pageSize), int64(i)*pageSize)
				if err == nil {
					return
				}
				require.ErrorIs(t, err, ErrInvalidOffset)
				runtime.Gosched()
			}
		}(i)
	}

	// Concurrent readers: any page observed must be uniform, never torn.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for g := 0; g < 4; g++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			f, err := r.Open("test.db", false)
			require.NoError(t, err)
			defer f.Close()
			buf := make([]byte, pageSize)
			for i := 0; ; i = (i + 1) % (writers + 1) {
				select {
				case <-stop:
					return
				default:
				}
				// Aligned page reads either land fully inside the
				// extent or fully past it (zero-filled), never short.
				_, err := f.ReadAt(buf, int64(i)*pageSize)
				require.NoError(t, err)
				for _, b := range buf {
					require.Equal(t, buf[0], b, "observed a torn page")
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	f, err = r.Open("test.db", false)
	require.NoError(t, err)
	defer f.Close()
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(writers+1)*pageSize, size)
	buf := make([]byte, pageSize)
	for i := 0; i <= writers; i++ {
		_, err := f.ReadAt(buf, int64(i)*pageSize)
		require.NoError(t, err)
		require.Equal(t, pageOf(byte(i), pageSize), buf)
	}
}
