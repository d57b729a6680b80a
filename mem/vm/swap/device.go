package swap

import (
	"fmt"
	"os"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/memory"
)

// A BlockDevice is a disk that can only be accessed in whole sectors.
type BlockDevice interface {
	// NumSectors returns the capacity of the device in sectors.
	NumSectors() uint64

	// ReadSector fills buf, which must be vm.SectorSize long.
	ReadSector(sector uint64, buf []byte) error

	// WriteSector writes data, which must be vm.SectorSize long.
	WriteSector(sector uint64, data []byte) error
}

// A MemoryDevice is a block device that keeps the sectors in memory.
type MemoryDevice struct {
	storage    *memory.Storage
	numSectors uint64
}

// NewMemoryDevice creates an in-memory device with numSectors sectors.
func NewMemoryDevice(numSectors uint64) *MemoryDevice {
	return &MemoryDevice{
		storage:    memory.NewStorage(numSectors * vm.SectorSize),
		numSectors: numSectors,
	}
}

// NumSectors returns the capacity of the device in sectors.
func (d *MemoryDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads one sector.
func (d *MemoryDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkSector(sector, d.numSectors, buf); err != nil {
		return err
	}

	data, err := d.storage.Read(sector*vm.SectorSize, vm.SectorSize)
	if err != nil {
		return err
	}

	copy(buf, data)

	return nil
}

// WriteSector writes one sector.
func (d *MemoryDevice) WriteSector(sector uint64, data []byte) error {
	if err := checkSector(sector, d.numSectors, data); err != nil {
		return err
	}

	return d.storage.Write(sector*vm.SectorSize, data)
}

// A FileDevice is a block device backed by a regular file on the host.
type FileDevice struct {
	file       *os.File
	numSectors uint64
}

// OpenFileDevice creates or truncates the file at path to hold numSectors
// sectors.
func OpenFileDevice(path string, numSectors uint64) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	err = file.Truncate(int64(numSectors * vm.SectorSize))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileDevice{file: file, numSectors: numSectors}, nil
}

// NumSectors returns the capacity of the device in sectors.
func (d *FileDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads one sector.
func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkSector(sector, d.numSectors, buf); err != nil {
		return err
	}

	_, err := d.file.ReadAt(buf, int64(sector*vm.SectorSize))

	return err
}

// WriteSector writes one sector.
func (d *FileDevice) WriteSector(sector uint64, data []byte) error {
	if err := checkSector(sector, d.numSectors, data); err != nil {
		return err
	}

	_, err := d.file.WriteAt(data, int64(sector*vm.SectorSize))

	return err
}

// Close closes the backing file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}

func checkSector(sector, numSectors uint64, buf []byte) error {
	if sector >= numSectors {
		return fmt.Errorf("sector %d out of range (%d sectors)",
			sector, numSectors)
	}

	if len(buf) != vm.SectorSize {
		return fmt.Errorf("sector buffer must be %d bytes, got %d",
			vm.SectorSize, len(buf))
	}

	return nil
}
