package memory

// SetCodeWriteHandler installs fn to be told about stores into code pages.
func (m *Memory) SetCodeWriteHandler(fn CodeWriteFunc) {
	m.mu.Lock()
	m.onCodeWrite = fn
	m.mu.Unlock()
}

// MarkCode records that [addr, addr+n) was used to build translated code.
func (m *Memory) MarkCode(addr, n uint32) {
	if n == 0 || !m.IsRAM(addr, n) {
		return
	}
	off := addr & mirrorMask
	for p := off >> PageShift; p <= (off+n-1)>>PageShift; p++ {
		m.pages[p] |= pageCode
	}
}

// IsCode reports whether the page holding addr is marked as code.
func (m *Memory) IsCode(addr uint32) bool {
	off, ok := m.Translate(addr)
	return ok && m.pages[off>>PageShift]&pageCode != 0
}

// ResetCodePages forgets every code mark, typically after the block cache
// was cleared.
func (m *Memory) ResetCodePages() {
	for i := range m.pages {
		m.pages[i] &^= pageCode
	}
}

func (m *Memory) noteWrite(off, n uint32) {
	if n == 0 {
		return
	}
	hit := false
	for p := off >> PageShift; p <= (off+n-1)>>PageShift; p++ {
		if m.pages[p]&pageCode != 0 {
			hit = true
			break
		}
	}
	if !hit {
		return
	}
	m.mu.Lock()
	fn := m.onCodeWrite
	m.mu.Unlock()
	if fn != nil {
		fn(off, n)
	}
}
