package msc

import (
	"io"
	"os"
	"sync"

	"github.com/vladyst/USB-Stack/pkg"
)

// Storage is the block device behind a disk. Addresses are 32-bit
// logical block numbers; READ(10) and WRITE(10) cannot reach further
// anyway. Buffers passed to ReadBlocks and WriteBlocks are always a
// whole number of blocks.
type Storage interface {
	// BlockSize returns the block size in bytes.
	BlockSize() uint32

	// Blocks returns the total number of blocks.
	Blocks() uint32

	// ReadBlocks fills buf with len(buf)/BlockSize() blocks starting
	// at lba.
	ReadBlocks(lba uint32, buf []byte) error

	// WriteBlocks stores buf at lba.
	WriteBlocks(lba uint32, buf []byte) error

	// Sync flushes buffered writes to the backing medium.
	Sync() error

	// WriteProtected reports whether writes are refused.
	WriteProtected() bool

	// Present reports whether the medium is in place. A removable
	// medium that is ejected answers NOT READY to the host.
	Present() bool
}

// Ejector is an optional Storage capability: media that START STOP
// UNIT can load and eject.
type Ejector interface {
	Eject(load bool) error
}

// storeRemovable reports whether a store carries removable media.
// Stores answer directly through a Removable method; otherwise any
// Ejector counts.
func storeRemovable(s Storage) bool {
	if r, ok := s.(interface{ Removable() bool }); ok {
		return r.Removable()
	}
	_, ok := s.(Ejector)
	return ok
}

// MemDisk is a Storage backed by RAM. The zero value is unusable; use
// NewMemDisk.
type MemDisk struct {
	mu        sync.RWMutex
	data      []byte
	blockSize uint32
	readOnly  bool
	present   bool
	removable bool
}

// NewMemDisk allocates a RAM disk of blocks×blockSize bytes. A zero
// blockSize means DefaultBlockSize.
func NewMemDisk(blocks, blockSize uint32) *MemDisk {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &MemDisk{
		data:      make([]byte, int(blocks)*int(blockSize)),
		blockSize: blockSize,
		present:   true,
	}
}

// BlockSize returns the block size in bytes.
func (m *MemDisk) BlockSize() uint32 {
	return m.blockSize
}

// Blocks returns the total number of blocks.
func (m *MemDisk) Blocks() uint32 {
	return uint32(len(m.data)) / m.blockSize
}

func (m *MemDisk) span(lba uint32, n int) (int, int, error) {
	start := int(lba) * int(m.blockSize)
	if start+n > len(m.data) {
		return 0, 0, pkg.ErrInvalidParameter
	}
	return start, start + n, nil
}

// ReadBlocks copies blocks starting at lba into buf.
func (m *MemDisk) ReadBlocks(lba uint32, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.present {
		return pkg.ErrInvalidState
	}
	start, end, err := m.span(lba, len(buf))
	if err != nil {
		return err
	}
	copy(buf, m.data[start:end])
	return nil
}

// WriteBlocks stores buf at lba.
func (m *MemDisk) WriteBlocks(lba uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return pkg.ErrInvalidState
	}
	if m.readOnly {
		return os.ErrPermission
	}
	start, end, err := m.span(lba, len(buf))
	if err != nil {
		return err
	}
	copy(m.data[start:end], buf)
	return nil
}

// Sync is a no-op for a RAM disk.
func (m *MemDisk) Sync() error {
	return nil
}

// WriteProtected reports the read-only flag.
func (m *MemDisk) WriteProtected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readOnly
}

// SetWriteProtected flips the read-only flag.
func (m *MemDisk) SetWriteProtected(ro bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = ro
}

// Present reports whether the medium is loaded.
func (m *MemDisk) Present() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.present
}

// SetRemovable marks the disk as removable media, which lets Eject
// work and sets the removable bit in the INQUIRY response.
func (m *MemDisk) SetRemovable(removable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removable = removable
}

// Removable reports whether the disk is removable media.
func (m *MemDisk) Removable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.removable
}

// Eject loads or unloads removable media.
func (m *MemDisk) Eject(load bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removable {
		return os.ErrPermission
	}
	m.present = load
	return nil
}

// FileDisk is a Storage backed by a regular file. The file's size at
// open time fixes the capacity.
type FileDisk struct {
	mu        sync.RWMutex
	file      *os.File
	blockSize uint32
	blocks    uint32
	readOnly  bool
}

// NewFileDisk opens path as a block device. A zero blockSize means
// DefaultBlockSize; trailing bytes beyond the last whole block are
// ignored.
func NewFileDisk(path string, blockSize uint32, readOnly bool) (*FileDisk, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileDisk{
		file:      file,
		blockSize: blockSize,
		blocks:    uint32(uint64(stat.Size()) / uint64(blockSize)),
		readOnly:  readOnly,
	}, nil
}

// BlockSize returns the block size in bytes.
func (f *FileDisk) BlockSize() uint32 {
	return f.blockSize
}

// Blocks returns the total number of blocks.
func (f *FileDisk) Blocks() uint32 {
	return f.blocks
}

// ReadBlocks reads blocks starting at lba into buf.
func (f *FileDisk) ReadBlocks(lba uint32, buf []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return os.ErrClosed
	}
	n, err := f.file.ReadAt(buf, int64(lba)*int64(f.blockSize))
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return err
	}
	return nil
}

// WriteBlocks stores buf at lba.
func (f *FileDisk) WriteBlocks(lba uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return os.ErrClosed
	}
	if f.readOnly {
		return os.ErrPermission
	}
	_, err := f.file.WriteAt(buf, int64(lba)*int64(f.blockSize))
	return err
}

// Sync flushes pending writes.
func (f *FileDisk) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil || f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// WriteProtected reports whether the file was opened read-only.
func (f *FileDisk) WriteProtected() bool {
	return f.readOnly
}

// Present always reports true; a file does not come and go.
func (f *FileDisk) Present() bool {
	return true
}

// Close releases the backing file.
func (f *FileDisk) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
