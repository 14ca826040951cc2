package ir

import (
	"errors"
)

// DefaultMaxImmediates bounds the immediate pool of one unit.
const DefaultMaxImmediates = 4096

// ErrImmediatePoolFull is reported by Err when a unit needed more wide
// immediates than the pool holds.
var ErrImmediatePoolFull = errors.New("ir: immediate pool exhausted")

// Builder appends nodes to a unit, folding them as they are emitted.
// A Builder serves one translation unit; Reset makes it reusable.
type Builder struct {
	u     Unit
	cache valueCache

	maxImmediates int
	fold          bool
	err           error
}

func NewBuilder() *Builder {
	b := &Builder{maxImmediates: DefaultMaxImmediates, fold: true}
	b.Reset()
	return b
}

// SetMaxImmediates changes the immediate pool capacity.
func (b *Builder) SetMaxImmediates(n int) { b.maxImmediates = n }

// SetFolding turns the algebraic folds on or off. Value caching is always on.
func (b *Builder) SetFolding(on bool) { b.fold = on }

func (b *Builder) Reset() {
	b.u.Nodes = append(b.u.Nodes[:0], Node{})
	b.u.Pool = b.u.Pool[:0]
	b.cache.invalidate()
	b.err = nil
}

// Unit returns the nodes built so far.
func (b *Builder) Unit() *Unit { return &b.u }

// Err returns the first capacity error hit while building.
func (b *Builder) Err() error { return b.err }

func (b *Builder) Len() int { return len(b.u.Nodes) }

func (b *Builder) op(r Ref) Opcode { return b.u.Nodes[r].Op }

func (b *Builder) tramp(target Ref) Ref {
	r := Ref(len(b.u.Nodes))
	b.u.Nodes = append(b.u.Nodes, Node{Op: Tramp, Imm: uint32(target)})
	return r
}

// emit appends a node without folding, inserting trampolines for operands
// that are further away than MaxDistance.
func (b *Builder) emit(op Opcode, x, y Ref, imm uint32) Ref {
	if x != 0 && Ref(len(b.u.Nodes))-x > MaxDistance {
		x = b.tramp(x)
	}
	if y != 0 && Ref(len(b.u.Nodes))-y > MaxDistance {
		y = b.tramp(y)
	}
	cur := Ref(len(b.u.Nodes))
	n := Node{Op: op, Imm: imm}
	if x != 0 {
		n.A = uint8(cur - x)
	}
	if y != 0 {
		n.B = uint8(cur - y)
	}
	b.u.Nodes = append(b.u.Nodes, n)
	return cur
}

func (b *Builder) poolAdd(v uint64) (uint32, bool) {
	if len(b.u.Pool) >= b.maxImmediates {
		if b.err == nil {
			b.err = ErrImmediatePoolFull
		}
		return 0, false
	}
	b.u.Pool = append(b.u.Pool, v)
	return uint32(len(b.u.Pool) - 1), true
}

func (b *Builder) EmitIntConst(v uint32) Ref { return b.emit(CInt, 0, 0, v) }

// EmitWideConst emits a 64-bit constant through the immediate pool.
func (b *Builder) EmitWideConst(v uint64) Ref {
	if v <= 0xFFFFFFFF {
		return b.EmitIntConst(uint32(v))
	}
	idx, ok := b.poolAdd(v)
	if !ok {
		return b.EmitIntConst(0)
	}
	return b.emit(CWide, 0, 0, idx)
}

// Guest register state, through the value cache.

func (b *Builder) EmitLoadGReg(r int) Ref { return b.load(LoadGReg, keyGPR+r, uint32(r)) }
func (b *Builder) EmitLoadFReg(r int) Ref { return b.load(LoadFReg, keyFPR+r, uint32(r)) }
func (b *Builder) EmitLoadCR(f int) Ref   { return b.load(LoadCR, keyCR+f, uint32(f)) }
func (b *Builder) EmitLoadCarry() Ref     { return b.load(LoadCarry, keyCarry, 0) }
func (b *Builder) EmitLoadCTR() Ref       { return b.load(LoadCTR, keyCTR, 0) }
func (b *Builder) EmitLoadLR() Ref        { return b.load(LoadLR, keyLR, 0) }
func (b *Builder) EmitLoadMSR() Ref       { return b.load(LoadMSR, keyMSR, 0) }

func (b *Builder) EmitStoreGReg(v Ref, r int) Ref {
	return b.store(StoreGReg, keyGPR+r, v, uint32(r))
}

func (b *Builder) EmitStoreFReg(v Ref, r int) Ref {
	return b.store(StoreFReg, keyFPR+r, v, uint32(r))
}

func (b *Builder) EmitStoreCR(v Ref, f int) Ref { return b.store(StoreCR, keyCR+f, v, uint32(f)) }
func (b *Builder) EmitStoreCarry(v Ref) Ref     { return b.store(StoreCarry, keyCarry, v, 0) }
func (b *Builder) EmitStoreCTR(v Ref) Ref       { return b.store(StoreCTR, keyCTR, v, 0) }
func (b *Builder) EmitStoreLR(v Ref) Ref        { return b.store(StoreLR, keyLR, v, 0) }

// Integer operations.

func (b *Builder) EmitAdd(x, y Ref) Ref  { return b.FoldBinary(Add, x, y) }
func (b *Builder) EmitSub(x, y Ref) Ref  { return b.FoldBinary(Sub, x, y) }
func (b *Builder) EmitMul(x, y Ref) Ref  { return b.FoldBinary(Mul, x, y) }
func (b *Builder) EmitAnd(x, y Ref) Ref  { return b.FoldBinary(And, x, y) }
func (b *Builder) EmitOr(x, y Ref) Ref   { return b.FoldBinary(Or, x, y) }
func (b *Builder) EmitXor(x, y Ref) Ref  { return b.FoldBinary(Xor, x, y) }
func (b *Builder) EmitShl(x, y Ref) Ref  { return b.FoldBinary(Shl, x, y) }
func (b *Builder) EmitShrl(x, y Ref) Ref { return b.FoldBinary(Shrl, x, y) }
func (b *Builder) EmitSarl(x, y Ref) Ref { return b.FoldBinary(Sarl, x, y) }
func (b *Builder) EmitRol(x, y Ref) Ref  { return b.FoldBinary(Rol, x, y) }

func (b *Builder) EmitNot(x Ref) Ref    { return b.FoldUnary(Not, x) }
func (b *Builder) EmitNeg(x Ref) Ref    { return b.FoldUnary(Neg, x) }
func (b *Builder) EmitSExt8(x Ref) Ref  { return b.FoldUnary(SExt8, x) }
func (b *Builder) EmitSExt16(x Ref) Ref { return b.FoldUnary(SExt16, x) }
func (b *Builder) EmitCntlzw(x Ref) Ref { return b.FoldUnary(Cntlzw, x) }

// EmitICmp emits one of the ICmp* comparisons yielding 0 or 1.
func (b *Builder) EmitICmp(op Opcode, x, y Ref) Ref { return b.FoldBinary(op, x, y) }

// EmitICmpCR compares x and y into a condition register field value.
func (b *Builder) EmitICmpCR(signed bool, x, y Ref) Ref {
	if signed {
		return b.FoldBinary(ICmpCRSigned, x, y)
	}
	return b.FoldBinary(ICmpCRUnsigned, x, y)
}

// Guest memory. Checked accesses must be followed by a DSIExceptionCheck.

func memFlag(checked bool) uint32 {
	if checked {
		return MemChecked
	}
	return 0
}

func (b *Builder) EmitLoad(size int, addr Ref, checked bool) Ref {
	return b.emit(loadOps[size], addr, 0, memFlag(checked))
}

func (b *Builder) EmitStore(size int, v, addr Ref, checked bool) Ref {
	return b.emit(storeOps[size], v, addr, memFlag(checked))
}

var (
	loadOps  = map[int]Opcode{1: Load8, 2: Load16, 4: Load32, 8: Load64}
	storeOps = map[int]Opcode{1: Store8, 2: Store16, 4: Store32, 8: Store64}
)

// AccessSize returns the byte width of a memory node.
func AccessSize(op Opcode) int {
	switch op {
	case Load8, Store8:
		return 1
	case Load16, Store16:
		return 2
	case Load32, Store32:
		return 4
	case Load64, Store64:
		return 8
	}
	return 0
}

// Floating point operations are never folded.

func (b *Builder) EmitFAdd(x, y Ref) Ref        { return b.emit(FAdd, x, y, 0) }
func (b *Builder) EmitFSub(x, y Ref) Ref        { return b.emit(FSub, x, y, 0) }
func (b *Builder) EmitFMul(x, y Ref) Ref        { return b.emit(FMul, x, y, 0) }
func (b *Builder) EmitFDiv(x, y Ref) Ref        { return b.emit(FDiv, x, y, 0) }
func (b *Builder) EmitFNeg(x Ref) Ref           { return b.emit(FNeg, x, 0, 0) }
func (b *Builder) EmitFRoundSingle(x Ref) Ref   { return b.emit(FRoundSingle, x, 0, 0) }
func (b *Builder) EmitDoubleToSingle(x Ref) Ref { return b.emit(FDoubleToSingle, x, 0, 0) }
func (b *Builder) EmitSingleToDouble(x Ref) Ref { return b.emit(FSingleToDouble, x, 0, 0) }

// Control flow, guards and bailouts.

// EmitBranchUncond leaves the unit for target after charging cycles.
func (b *Builder) EmitBranchUncond(target Ref, cycles uint32) Ref {
	b.cache.commit()
	return b.emit(BranchUncond, target, 0, cycles)
}

// EmitBranchCond leaves the unit for target when cond is non-zero. A constant
// condition becomes an unconditional branch or disappears.
func (b *Builder) EmitBranchCond(cond, target Ref, cycles uint32) Ref {
	if b.fold && b.u.IsIntConst(cond) {
		if b.u.IntConst(cond) != 0 {
			return b.EmitBranchUncond(target, cycles)
		}
		return 0
	}
	b.cache.commit()
	return b.emit(BranchCond, cond, target, cycles)
}

func (b *Builder) guard(op Opcode, pc uint32) Ref {
	b.cache.commit()
	return b.emit(op, 0, 0, pc)
}

func (b *Builder) EmitFPExceptionCheck(pc uint32) Ref  { return b.guard(FPExceptionCheck, pc) }
func (b *Builder) EmitDSIExceptionCheck(pc uint32) Ref { return b.guard(DSIExceptionCheck, pc) }
func (b *Builder) EmitExceptionCheck(pc uint32) Ref    { return b.guard(ExceptionCheck, pc) }
func (b *Builder) EmitBreakPointCheck(pc uint32) Ref   { return b.guard(BreakPointCheck, pc) }
func (b *Builder) EmitSystemCall(pc uint32) Ref        { return b.guard(SystemCall, pc) }

// EmitInterpreterFallback hands one instruction to the interpreter. The
// interpreter may change any register, so the value cache is dropped.
func (b *Builder) EmitInterpreterFallback(raw, pc uint32) Ref {
	idx, ok := b.poolAdd(uint64(raw)<<32 | uint64(pc))
	if !ok {
		return 0
	}
	b.cache.invalidate()
	return b.emit(InterpreterFallback, 0, 0, idx)
}

// EmitInterpreterBranch leaves the unit at the NPC set by a preceding
// fallback.
func (b *Builder) EmitInterpreterBranch(cycles uint32) Ref {
	b.cache.invalidate()
	return b.emit(InterpreterBranch, 0, 0, cycles)
}

// InvalidateCache forgets every cached guest register value.
func (b *Builder) InvalidateCache() { b.cache.invalidate() }
