package jit

import (
	"gekkojit/pkg/jit/host"
	"gekkojit/pkg/jit/ir"
)

// regAlloc is a single-pass greedy allocator over the host registers.
// Values live in a register, a spill slot, or both; constants are never
// spilled and are rematerialized on demand. When every register is taken
// the least recently used unlocked one is evicted.
type regAlloc struct {
	g *codegen

	owner  [host.NumRegs]ir.Ref
	touch  [host.NumRegs]int
	locked uint8
	clock  int

	reg   []int8  // value -> register, -1 when not resident
	spill []int16 // value -> spill slot, -1 when not spilled

	freeSpills []uint8
	nextSpill  int
}

func newRegAlloc(g *codegen, n int) *regAlloc {
	ra := &regAlloc{g: g, reg: make([]int8, n), spill: make([]int16, n)}
	for i := range ra.reg {
		ra.reg[i] = -1
		ra.spill[i] = -1
	}
	return ra
}

func (ra *regAlloc) lock(r host.Reg) { ra.locked |= 1 << r }

func (ra *regAlloc) unlockAll() { ra.locked = 0 }

func (ra *regAlloc) isLocked(r host.Reg) bool { return ra.locked&(1<<r) != 0 }

func (ra *regAlloc) assign(v ir.Ref, r host.Reg) {
	ra.owner[r] = v
	ra.reg[v] = int8(r)
	ra.clock++
	ra.touch[r] = ra.clock
}

// detach drops v from its register without touching its spill slot.
func (ra *regAlloc) detach(v ir.Ref) {
	if r := ra.reg[v]; r >= 0 {
		ra.owner[r] = 0
		ra.reg[v] = -1
	}
}

// release forgets v entirely once it is dead.
func (ra *regAlloc) release(v ir.Ref) {
	ra.detach(v)
	if s := ra.spill[v]; s >= 0 {
		ra.freeSpills = append(ra.freeSpills, uint8(s))
		ra.spill[v] = -1
	}
}

func (ra *regAlloc) isConst(v ir.Ref) bool { return ra.g.u.Op(v).IsConst() }

// needed reports whether v is still consumed by the node being generated
// or a later one. Operands of the current node count: a sibling operand may
// evict one before it is locked.
func (ra *regAlloc) needed(v ir.Ref) bool { return ra.g.live.LastUse(v) >= ra.g.cur }

func (ra *regAlloc) spillSlot(v ir.Ref) (uint8, error) {
	if s := ra.spill[v]; s >= 0 {
		return uint8(s), nil
	}
	var s uint8
	switch {
	case len(ra.freeSpills) > 0:
		s = ra.freeSpills[len(ra.freeSpills)-1]
		ra.freeSpills = ra.freeSpills[:len(ra.freeSpills)-1]
	case ra.nextSpill < host.NumSpillSlots:
		s = uint8(ra.nextSpill)
		ra.nextSpill++
	default:
		return 0, errSpillSlots
	}
	ra.spill[v] = int16(s)
	ra.g.asm.Spill(s, host.Reg(ra.reg[v]))
	return s, nil
}

// evict empties r, saving its value when it is still needed.
func (ra *regAlloc) evict(r host.Reg) error {
	v := ra.owner[r]
	if v == 0 {
		return nil
	}
	if ra.needed(v) && !ra.isConst(v) {
		if _, err := ra.spillSlot(v); err != nil {
			return err
		}
	}
	ra.detach(v)
	return nil
}

// alloc returns an empty unlocked register, evicting if necessary. With
// calleeSaved set only R4-R7 are considered.
func (ra *regAlloc) alloc(calleeSaved bool) (host.Reg, error) {
	first := host.R0
	if calleeSaved {
		first = host.R4
	}
	victim, best := host.Reg(0xFF), 0
	for r := first; r < host.NumRegs; r++ {
		if ra.isLocked(r) {
			continue
		}
		if ra.owner[r] == 0 {
			ra.lock(r)
			return r, nil
		}
		score := ra.touch[r]
		if ra.isConst(ra.owner[r]) {
			score -= 1 << 20
		}
		if victim == 0xFF || score < best {
			victim, best = r, score
		}
	}
	if victim == 0xFF {
		return 0, errNoRegister
	}
	if err := ra.evict(victim); err != nil {
		return 0, err
	}
	ra.lock(victim)
	return victim, nil
}

// use makes v resident and locks its register for the current node.
func (ra *regAlloc) use(v ir.Ref, calleeSaved bool) (host.Reg, error) {
	if r := ra.reg[v]; r >= 0 && !(calleeSaved && host.Reg(r).CallerSaved()) {
		ra.clock++
		ra.touch[r] = ra.clock
		ra.lock(host.Reg(r))
		return host.Reg(r), nil
	}
	r, err := ra.alloc(calleeSaved)
	if err != nil {
		return 0, err
	}
	switch {
	case ra.reg[v] >= 0:
		ra.g.asm.MovRegReg(r, host.Reg(ra.reg[v]))
		ra.detach(v)
	case ra.g.u.Op(v) == ir.CInt:
		ra.g.asm.MovRegImm32(r, ra.g.u.IntConst(v))
	case ra.g.u.Op(v) == ir.CWide:
		idx, err := ra.g.constIndex(v)
		if err != nil {
			return 0, err
		}
		ra.g.asm.LoadConst(r, idx)
	case ra.spill[v] >= 0:
		ra.g.asm.Reload(r, uint8(ra.spill[v]))
	default:
		return 0, errValueLost
	}
	ra.assign(v, r)
	return r, nil
}

// define gives the result of the current node a register.
func (ra *regAlloc) define(v ir.Ref) (host.Reg, error) {
	r, err := ra.alloc(false)
	if err != nil {
		return 0, err
	}
	ra.assign(v, r)
	return r, nil
}

// takeOver hands the register of operand x, which dies at the current
// node, to the result v.
func (ra *regAlloc) takeOver(x, v ir.Ref) host.Reg {
	r := host.Reg(ra.reg[x])
	ra.detach(x)
	ra.assign(v, r)
	return r
}

// flushCallerSaved moves every value that outlives the current node out of
// R0-R3 ahead of a call.
func (ra *regAlloc) flushCallerSaved() error {
	for r := host.R0; r <= host.R3; r++ {
		v := ra.owner[r]
		if v == 0 || !ra.needed(v) {
			continue
		}
		if ra.isConst(v) {
			ra.detach(v)
			continue
		}
		if dst, ok := ra.freeCalleeSaved(); ok {
			ra.g.asm.MovRegReg(dst, r)
			ra.detach(v)
			ra.assign(v, dst)
			continue
		}
		if err := ra.evict(r); err != nil {
			return err
		}
	}
	return nil
}

func (ra *regAlloc) freeCalleeSaved() (host.Reg, bool) {
	for r := host.R4; r < host.NumRegs; r++ {
		if ra.owner[r] == 0 && !ra.isLocked(r) {
			return r, true
		}
	}
	return 0, false
}

// clobbered forgets what R0-R3 held after a call, except keep.
func (ra *regAlloc) clobbered(keep host.Reg) {
	for r := host.R0; r <= host.R3; r++ {
		if r != keep && ra.owner[r] != 0 {
			ra.detach(ra.owner[r])
		}
	}
}
