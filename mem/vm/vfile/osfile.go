package vfile

import (
	"os"

	"github.com/sarchlab/vmsim/mem/vm"
)

// An OSFile is a file of the host file system.
type OSFile struct {
	*os.File
	flag int
}

// Open opens a host file for reading and writing.
func Open(path string) (*OSFile, error) {
	return openFile(path, os.O_RDWR)
}

// OpenReadOnly opens a host file for reading.
func OpenReadOnly(path string) (*OSFile, error) {
	return openFile(path, os.O_RDONLY)
}

func openFile(path string, flag int) (*OSFile, error) {
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	return &OSFile{File: file, flag: flag}, nil
}

// Reopen opens the same path again.
func (f *OSFile) Reopen() (vm.File, error) {
	return openFile(f.File.Name(), f.flag)
}

// Length returns the size of the file. It returns 0 if the file cannot be
// inspected.
func (f *OSFile) Length() int64 {
	info, err := f.File.Stat()
	if err != nil {
		return 0
	}

	return info.Size()
}
