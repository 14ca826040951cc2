// Package memory implements guest main memory: one block of RAM visible at
// the cached (0x80000000) and uncached (0xC0000000) kernel mirrors, with
// big-endian accessors and tracking of pages that hold translated code.
package memory

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift

	CachedBase   = 0x80000000
	UncachedBase = 0xC0000000
	mirrorMask   = 0x3FFFFFFF

	// DefaultSize is the size of MEM1.
	DefaultSize = 24 << 20
)

type pageFlag uint8

const (
	// pageCode marks pages that translated blocks were built from.
	pageCode pageFlag = 1 << iota
)

// CodeWriteFunc is told about stores that hit pages holding translated code.
// offset is the physical RAM offset of the first byte written.
type CodeWriteFunc func(offset, length uint32)

type Memory struct {
	buffer []byte
	size   uint32
	pages  []pageFlag

	mu          sync.Mutex
	onCodeWrite CodeWriteFunc
}

// New maps size bytes of guest RAM, rounded up to whole pages.
func New(size uint32) (*Memory, error) {
	if size == 0 || size > mirrorMask+1 {
		return nil, fmt.Errorf("memory: invalid RAM size %d", size)
	}
	size = (size + PageSize - 1) &^ (PageSize - 1)
	buf, err := mapRAM(int(size))
	if err != nil {
		return nil, fmt.Errorf("memory: map %d bytes: %w", size, err)
	}
	return &Memory{
		buffer: buf,
		size:   size,
		pages:  make([]pageFlag, size>>PageShift),
	}, nil
}

// Close releases the mapping. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.buffer == nil {
		return nil
	}
	err := unmapRAM(m.buffer)
	m.buffer = nil
	return err
}

func (m *Memory) Size() uint32 { return m.size }

// Translate maps a guest effective address to a RAM offset.
func (m *Memory) Translate(addr uint32) (uint32, bool) {
	if addr&CachedBase == 0 {
		return 0, false
	}
	off := addr & mirrorMask
	if off >= m.size {
		return 0, false
	}
	return off, true
}

// IsRAM reports whether every byte of [addr, addr+n) is backed by RAM through
// the same mirror, which lets the translator emit unchecked accesses.
func (m *Memory) IsRAM(addr, n uint32) bool {
	if n == 0 {
		return true
	}
	start, ok := m.Translate(addr)
	if !ok {
		return false
	}
	return uint64(start)+uint64(n) <= uint64(m.size)
}

func (m *Memory) span(addr, n uint32) ([]byte, bool) {
	if !m.IsRAM(addr, n) {
		return nil, false
	}
	off := addr & mirrorMask
	return m.buffer[off : off+n], true
}

func (m *Memory) Read8(addr uint32) (uint8, bool) {
	b, ok := m.span(addr, 1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (m *Memory) Read16(addr uint32) (uint16, bool) {
	b, ok := m.span(addr, 2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (m *Memory) Read32(addr uint32) (uint32, bool) {
	b, ok := m.span(addr, 4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (m *Memory) Read64(addr uint32) (uint64, bool) {
	b, ok := m.span(addr, 8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// Read reads a big-endian value of size 1, 2, 4 or 8 bytes.
func (m *Memory) Read(addr uint32, size int) (uint64, bool) {
	switch size {
	case 1:
		v, ok := m.Read8(addr)
		return uint64(v), ok
	case 2:
		v, ok := m.Read16(addr)
		return uint64(v), ok
	case 4:
		v, ok := m.Read32(addr)
		return uint64(v), ok
	case 8:
		return m.Read64(addr)
	}
	panic(fmt.Sprintf("memory: invalid access size %d", size))
}

// Write stores a big-endian value of size 1, 2, 4 or 8 bytes.
func (m *Memory) Write(addr uint32, size int, v uint64) bool {
	b, ok := m.span(addr, uint32(size))
	if !ok {
		return false
	}
	switch size {
	case 1:
		b[0] = uint8(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("memory: invalid access size %d", size))
	}
	m.noteWrite(addr&mirrorMask, uint32(size))
	return true
}

func (m *Memory) Write8(addr uint32, v uint8) bool   { return m.Write(addr, 1, uint64(v)) }
func (m *Memory) Write16(addr uint32, v uint16) bool { return m.Write(addr, 2, uint64(v)) }
func (m *Memory) Write32(addr uint32, v uint32) bool { return m.Write(addr, 4, uint64(v)) }
func (m *Memory) Write64(addr uint32, v uint64) bool { return m.Write(addr, 8, v) }

// ReadOpcode fetches the instruction word at addr. Misaligned or unmapped
// addresses fail.
func (m *Memory) ReadOpcode(addr uint32) (uint32, bool) {
	if addr&3 != 0 {
		return 0, false
	}
	return m.Read32(addr)
}

// Fill writes data starting at addr, as a loader or debugger would.
func (m *Memory) Fill(addr uint32, data []byte) error {
	b, ok := m.span(addr, uint32(len(data)))
	if !ok {
		return fmt.Errorf("memory: range %08x+%x is not RAM", addr, len(data))
	}
	copy(b, data)
	m.noteWrite(addr&mirrorMask, uint32(len(data)))
	return nil
}

// Dump copies n bytes starting at addr.
func (m *Memory) Dump(addr, n uint32) ([]byte, error) {
	b, ok := m.span(addr, n)
	if !ok {
		return nil, fmt.Errorf("memory: range %08x+%x is not RAM", addr, n)
	}
	return append([]byte(nil), b...), nil
}

// Bytes exposes the whole of RAM for snapshots.
func (m *Memory) Bytes() []byte { return m.buffer }

// Restore replaces RAM contents with data, which must match Size.
func (m *Memory) Restore(data []byte) error {
	if uint32(len(data)) != m.size {
		return fmt.Errorf("memory: snapshot holds %d bytes, RAM is %d", len(data), m.size)
	}
	copy(m.buffer, data)
	m.ResetCodePages()
	return nil
}
