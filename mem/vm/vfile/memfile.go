// Package vfile provides the files that pages can be backed by.
package vfile

import (
	"errors"
	"io"
	"sync"

	"github.com/sarchlab/vmsim/mem/vm"
)

// ErrClosed is returned when using a handle that has been closed.
var ErrClosed = errors.New("file already closed")

// A WriteRecord describes one call to WriteAt.
type WriteRecord struct {
	Offset int64
	Length int
}

type memFileData struct {
	lock    sync.Mutex
	name    string
	data    []byte
	writes  []WriteRecord
	numOpen int
}

// A MemFile is a handle to a fixed-size file kept in memory. All the handles
// reopened from the same file share the content.
type MemFile struct {
	backing *memFileData
	closed  bool
}

// NewMemFile creates a file holding a copy of content.
func NewMemFile(name string, content []byte) *MemFile {
	data := make([]byte, len(content))
	copy(data, content)

	return &MemFile{
		backing: &memFileData{
			name:    name,
			data:    data,
			numOpen: 1,
		},
	}
}

// Name returns the name of the file.
func (f *MemFile) Name() string {
	return f.backing.name
}

// Reopen returns a new handle to the same file.
func (f *MemFile) Reopen() (vm.File, error) {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	f.backing.numOpen++

	return &MemFile{backing: f.backing}, nil
}

// Close closes the handle.
func (f *MemFile) Close() error {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.closed = true
	f.backing.numOpen--

	return nil
}

// ReadAt reads from the file. It returns io.EOF if fewer than len(p) bytes
// remain after off.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	if off >= int64(len(f.backing.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.backing.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt writes to the file. Files do not grow, so the write stops at the end
// of the file.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	f.backing.writes = append(f.backing.writes,
		WriteRecord{Offset: off, Length: len(p)})

	if off >= int64(len(f.backing.data)) {
		return 0, io.ErrShortWrite
	}

	n := copy(f.backing.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

// Length returns the size of the file.
func (f *MemFile) Length() int64 {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	return int64(len(f.backing.data))
}

// Content returns a copy of the whole file.
func (f *MemFile) Content() []byte {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	content := make([]byte, len(f.backing.data))
	copy(content, f.backing.data)

	return content
}

// Writes returns every write made through any handle of the file.
func (f *MemFile) Writes() []WriteRecord {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	writes := make([]WriteRecord, len(f.backing.writes))
	copy(writes, f.backing.writes)

	return writes
}

// NumOpen returns the number of handles of the file that are not closed.
func (f *MemFile) NumOpen() int {
	f.backing.lock.Lock()
	defer f.backing.lock.Unlock()

	return f.backing.numOpen
}
