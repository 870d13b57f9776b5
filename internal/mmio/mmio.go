//go:build unix

// Package mmio maps a window of physical memory, usually through /dev/mem,
// and exposes it as a 32-bit register bus.
package mmio

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDevice is the character device exposing physical memory.
const DefaultDevice = "/dev/mem"

// Mapped is a mapping of [Base, Base+Size) of a file or device. Accesses
// are single aligned 32-bit loads and stores.
type Mapped struct {
	fd       int
	mem      []byte
	offset   uint64
	phys     uint64
	size     uint64
	readOnly bool
	logger   *slog.Logger
}

// Open maps size bytes starting at physical address phys of path. phys
// does not need to be page aligned.
func Open(path string, phys, size uint64, readOnly bool) (*Mapped, error) {
	if size == 0 {
		return nil, fmt.Errorf("mmio: zero size mapping of %s", path)
	}
	if phys%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("mmio: mapping 0x%x size 0x%x is not word aligned", phys, size)
	}

	pageSize := uint64(unix.Getpagesize())
	aligned := phys &^ (pageSize - 1)
	offset := phys - aligned
	length := offset + size
	if length < size || length > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("mmio: mapping size 0x%x exceeds host address limit", size)
	}

	flags := unix.O_RDWR | unix.O_SYNC | unix.O_CLOEXEC
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		flags = unix.O_RDONLY | unix.O_SYNC | unix.O_CLOEXEC
		prot = unix.PROT_READ
	}

	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, int64(aligned), int(length), prot, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmio: map 0x%x size 0x%x of %s: %w", phys, size, path, err)
	}

	return &Mapped{
		fd:       fd,
		mem:      mem,
		offset:   offset,
		phys:     phys,
		size:     size,
		readOnly: readOnly,
		logger:   slog.Default(),
	}, nil
}

// SetLogger overrides the logger used for rejected accesses.
func (m *Mapped) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Base returns the first mapped physical address.
func (m *Mapped) Base() uint64 { return m.phys }

// Size returns the mapped length in bytes.
func (m *Mapped) Size() uint64 { return m.size }

// Close unmaps the window and closes the device.
func (m *Mapped) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	if cerr := unix.Close(m.fd); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("mmio: close: %w", err)
	}
	return nil
}

func (m *Mapped) word(addr uint64) (*uint32, error) {
	if m.mem == nil {
		return nil, fmt.Errorf("mmio: access to closed mapping")
	}
	if addr%4 != 0 {
		return nil, fmt.Errorf("mmio: unaligned access at 0x%x", addr)
	}
	if addr < m.phys || addr-m.phys+4 > m.size {
		return nil, fmt.Errorf("mmio: address 0x%x outside mapping 0x%x-0x%x", addr, m.phys, m.phys+m.size-1)
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.offset+addr-m.phys])), nil
}

// Load32 reads a register. Rejected accesses are logged and read as zero.
func (m *Mapped) Load32(addr uint64) uint32 {
	p, err := m.word(addr)
	if err != nil {
		m.logger.Warn("mmio load", "err", err)
		return 0
	}
	return atomic.LoadUint32(p)
}

// Store32 writes a register. Rejected accesses are logged and dropped.
func (m *Mapped) Store32(addr uint64, value uint32) {
	if m.readOnly {
		m.logger.Warn("mmio store to read-only mapping", "addr", fmt.Sprintf("0x%08x", addr))
		return
	}
	p, err := m.word(addr)
	if err != nil {
		m.logger.Warn("mmio store", "err", err)
		return
	}
	atomic.StoreUint32(p, value)
}
