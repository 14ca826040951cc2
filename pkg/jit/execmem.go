package jit

import (
	"fmt"
	"sync"
)

const (
	DefaultCodeSize  = 16 * 1024 * 1024 // 16MB
	DefaultConstSize = 64 * 1024        // constant slots
)

// CodeArena manages the mmap'd region generated code lives in, plus the
// constant region wide immediates are loaded from. Both are bump allocated
// and only ever reset as a whole.
type CodeArena struct {
	buffer []byte
	used   int

	consts     []uint64
	constsUsed int

	mu sync.Mutex
}

// NewCodeArena maps a code region of codeSize bytes and a constant region
// of constSlots entries.
func NewCodeArena(codeSize, constSlots int) (*CodeArena, error) {
	if codeSize <= 0 {
		codeSize = DefaultCodeSize
	}
	if constSlots <= 0 {
		constSlots = DefaultConstSize
	}
	buffer, err := mapArena(codeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap code arena: %w", err)
	}
	return &CodeArena{
		buffer: buffer,
		consts: make([]uint64, constSlots),
	}, nil
}

// Reserve returns the free tail of the code region. Nothing is allocated
// until Commit.
func (a *CodeArena) Reserve() (offset int, free []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used, a.buffer[a.used:]
}

// Commit allocates n bytes at the current offset.
func (a *CodeArena) Commit(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used+n > len(a.buffer) {
		panic("jit: commit past the end of the code arena")
	}
	a.used += n
}

// ConstMark returns the constant region position for a later rollback.
func (a *CodeArena) ConstMark() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.constsUsed
}

// AddConst stores v in the constant region.
func (a *CodeArena) AddConst(v uint64) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.constsUsed == len(a.consts) {
		return 0, false
	}
	a.consts[a.constsUsed] = v
	a.constsUsed++
	return uint32(a.constsUsed - 1), true
}

// RollbackConsts drops constants added after mark by a unit that was
// abandoned.
func (a *CodeArena) RollbackConsts(mark int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constsUsed = mark
}

// Code returns the whole code region. Link targets are offsets into it.
func (a *CodeArena) Code() []byte { return a.buffer }

func (a *CodeArena) Consts() []uint64 { return a.consts }

// Free unmaps the code region. Blocks must not be run afterwards.
func (a *CodeArena) Free() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buffer == nil {
		return nil
	}
	err := unmapArena(a.buffer)
	a.buffer = nil
	a.used = 0
	return err
}

// Reset empties both regions when the block cache is cleared. Link sites
// into the old code are gone with their blocks.
func (a *CodeArena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = 0
	a.constsUsed = 0
}

// Used returns the bytes of committed host code.
func (a *CodeArena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// ConstsUsed returns the number of occupied constant slots.
func (a *CodeArena) ConstsUsed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.constsUsed
}

// Capacity returns the size of the code region in bytes.
func (a *CodeArena) Capacity() int {
	return len(a.buffer)
}

// Bytes copies the committed code of one block, so a disassembly stays
// valid across later link patches. It returns nil outside the region.
func (a *CodeArena) Bytes(offset, size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if offset < 0 || size < 0 || offset+size > a.used {
		return nil
	}
	result := make([]byte, size)
	copy(result, a.buffer[offset:offset+size])
	return result
}
