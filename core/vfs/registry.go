// Package vfs implements the in-memory virtual file system backing a
// SQLite-compatible engine: a registry of volatile file contents keyed by
// filename, page and WAL-frame storage with byte-level patch tracking for
// partial frame writes, shared-memory emulation for the WAL-index, and the
// refcount and transaction bookkeeping that gates content deletion and
// checkpoints. Nothing here ever touches disk; durability is the concern of
// whatever replicates the writes it observes.
package vfs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// WALSuffix is the filename suffix the engine appends to a database name to
// form its write-ahead log name.
const WALSuffix = "-wal"

// Registry is the root of one volatile file system: a mutex-guarded
// collection of file contents keyed by filename. It creates contents on
// open-with-create, hands out handles, and frees contents on explicit
// delete. Multiple independent registries may coexist in one process.
type Registry struct {
	mu        sync.Mutex
	contents  map[string]*fileContent
	lastError ErrorCode

	logger  *zap.Logger
	metrics *vfsMetrics
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	meter metric.Meter
}

// WithMeter instruments the registry with the given OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// New creates an empty registry. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	m, err := newVFSMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create vfs metrics: %w", err)
	}
	return &Registry{
		contents: make(map[string]*fileContent),
		logger:   logger,
		metrics:  m,
	}, nil
}

// Open finds or creates the content for filename and returns a new handle
// on it. With create false, a missing filename fails with ErrNotFound. The
// content kind is inferred from the filename: names ending in "-wal" hold a
// write-ahead log, everything else a main database.
func (r *Registry) Open(filename string, create bool) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contents[filename]
	if !ok {
		if !create {
			return nil, r.observeLocked(
				fmt.Errorf("open %q: %w", filename, ErrNotFound))
		}
		c = newFileContent(filename, kindOf(filename))
		r.contents[filename] = c
		r.linkWALLocked(c)
		r.logger.Info("created file content",
			zap.String("file", filename),
			zap.Stringer("kind", c.kind))
	}
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()

	ctx := context.Background()
	r.metrics.opens.Add(ctx, 1)
	r.metrics.openHandles.Add(ctx, 1)

	f := &File{
		id:       uuid.New(),
		registry: r,
		content:  c,
		logger:   r.logger,
	}
	r.logger.Debug("opened file handle",
		zap.String("file", filename),
		zap.String("handle", f.id.String()))
	return f, nil
}

// linkWALLocked wires the database/WAL association for a freshly created
// content, in either creation order. Callers must hold the registry mutex.
func (r *Registry) linkWALLocked(c *fileContent) {
	if c.kind == WriteAheadLog {
		if db, ok := r.contents[strings.TrimSuffix(c.filename, WALSuffix)]; ok {
			db.mu.Lock()
			db.wal = c
			db.mu.Unlock()
		}
		return
	}
	if wal, ok := r.contents[c.filename+WALSuffix]; ok {
		c.mu.Lock()
		c.wal = wal
		c.mu.Unlock()
	}
}

// release drops one descriptor reference from content. It never frees the
// content; freeing is Delete's job.
func (r *Registry) release(c *fileContent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refcount == 0 {
		return fmt.Errorf("release %q: refcount already zero: %w", c.filename, ErrInvariant)
	}
	c.refcount--
	return nil
}

// Delete removes filename from the registry and frees its content,
// including all pages and shared-memory regions. It fails with ErrBusy while
// any handle is still open on the content.
func (r *Registry) Delete(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contents[filename]
	if !ok {
		return r.observeLocked(fmt.Errorf("delete %q: %w", filename, ErrNotFound))
	}
	c.mu.Lock()
	busy := c.refcount > 0
	c.mu.Unlock()
	if busy {
		return r.observeLocked(fmt.Errorf("delete %q: open handles remain: %w", filename, ErrBusy))
	}
	delete(r.contents, filename)
	if c.kind == WriteAheadLog {
		if db, ok := r.contents[strings.TrimSuffix(filename, WALSuffix)]; ok {
			db.mu.Lock()
			db.wal = nil
			db.mu.Unlock()
		}
	}
	r.metrics.deletes.Add(context.Background(), 1)
	r.logger.Info("deleted file content", zap.String("file", filename))
	return nil
}

// Exists reports whether filename is registered.
func (r *Registry) Exists(filename string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.contents[filename]
	return ok
}

// CanCheckpoint reports whether the database registered under filename has
// no transaction in flight, so a checkpoint of its WAL may proceed.
func (r *Registry) CanCheckpoint(filename string) (bool, error) {
	r.mu.Lock()
	c, ok := r.contents[filename]
	r.mu.Unlock()
	if !ok {
		return false, r.observe(fmt.Errorf("checkpoint %q: %w", filename, ErrNotFound))
	}
	if c.kind != MainDatabase {
		return false, r.observe(
			fmt.Errorf("checkpoint %q: not a database file: %w", filename, ErrInvariant))
	}
	return c.canCheckpoint(), nil
}

// CheckpointedWAL resets the WAL associated with the database registered
// under filename, after the engine has folded its frames into the database.
// It fails with ErrBusy while any transaction is in flight.
func (r *Registry) CheckpointedWAL(filename string) error {
	r.mu.Lock()
	c, ok := r.contents[filename]
	r.mu.Unlock()
	if !ok {
		return r.observe(fmt.Errorf("checkpoint %q: %w", filename, ErrNotFound))
	}
	if c.kind != MainDatabase {
		return r.observe(
			fmt.Errorf("checkpoint %q: not a database file: %w", filename, ErrInvariant))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txCount > 0 {
		return r.observe(
			fmt.Errorf("checkpoint %q: %d transactions in flight: %w",
				filename, c.txCount, ErrBusy))
	}
	if c.wal != nil {
		c.wal.mu.Lock()
		c.wal.pages = nil
		c.wal.hdr = nil
		c.wal.mu.Unlock()
	}
	r.metrics.walResets.Add(context.Background(), 1)
	r.logger.Info("reset WAL after checkpoint", zap.String("file", filename))
	return nil
}

// SetLastError overwrites the registry's diagnostic error-code slot.
func (r *Registry) SetLastError(code ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = code
}

// LastError returns the code of the most recent failing operation. It is a
// diagnostic convenience for the engine's legacy error reporting, not an
// error channel: every operation also returns its error directly.
func (r *Registry) LastError() ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// observe records a failing operation in the last-error slot and failure
// counter, passing the error through.
func (r *Registry) observe(err error) error {
	if err == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observeLocked(err)
}

func (r *Registry) observeLocked(err error) error {
	if err == nil {
		return nil
	}
	r.lastError = CodeOf(err)
	r.metrics.failures.Add(context.Background(), 1)
	return err
}

func kindOf(filename string) FileKind {
	if strings.HasSuffix(filename, WALSuffix) {
		return WriteAheadLog
	}
	return MainDatabase
}
