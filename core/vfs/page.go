package vfs

// --- Page/Frame Storage ---

// WAL byte layout constants. The engine defines these; the store must stay
// byte-compatible with what the engine writes and reads back.
const (
	walHeaderSize      = 32
	walFrameHeaderSize = 24
)

// patch records one byte rewritten inside an existing WAL frame. Patches are
// kept in write order and overlaid on the as-first-written bytes at read
// time, so the store can serve both the original and the patched view of a
// frame without copying whole pages.
type patch struct {
	off int // offset relative to the frame start (header included)
	val byte
}

// page holds the content of a single page of a main database file, or of a
// single frame of a WAL file. For WAL frames hdr is the 24-byte frame header
// and patches accumulates partial rewrites; main database pages use neither.
type page struct {
	buf        []byte
	hdr        []byte
	patches    []patch
	bufWritten bool // first full write of buf has happened
}

// newDatabasePage allocates a main database page holding a copy of b.
func newDatabasePage(b []byte) *page {
	p := &page{buf: make([]byte, len(b)), bufWritten: true}
	copy(p.buf, b)
	return p
}

// newZeroDatabasePage allocates an all-zero main database page.
func newZeroDatabasePage(size int) *page {
	return &page{buf: make([]byte, size), bufWritten: true}
}

// newWALFrame allocates a WAL frame from its header write. The page buffer
// starts zeroed; the engine writes the page content separately.
func newWALFrame(hdr []byte, pageSize int) *page {
	f := &page{
		buf: make([]byte, pageSize),
		hdr: make([]byte, walFrameHeaderSize),
	}
	copy(f.hdr, hdr)
	return f
}

// addPatch records a rewrite of len(b) bytes at frame-relative offset off.
func (f *page) addPatch(off int, b []byte) {
	for i, v := range b {
		f.patches = append(f.patches, patch{off: off + i, val: v})
	}
}

// overlay applies the frame's patches, in write order, onto dst, which holds
// the frame bytes for the frame-relative range [off, off+len(dst)).
func (f *page) overlay(dst []byte, off int) {
	for _, pt := range f.patches {
		if pt.off >= off && pt.off < off+len(dst) {
			dst[pt.off-off] = pt.val
		}
	}
}
