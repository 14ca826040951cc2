package jit

import (
	"fmt"

	"gekkojit/pkg/errors"
	"gekkojit/pkg/jit/ir"
	"gekkojit/pkg/memory"
	"gekkojit/pkg/ppc"
)

// DefaultMaxBlockInstructions bounds the guest instructions of one unit.
const DefaultMaxBlockInstructions = 64

// translateOptions control block formation.
type translateOptions struct {
	maxInstructions int
	singleStep      bool
	breakAt         func(pc uint32) bool
}

// unitInfo describes the guest side of one translated unit.
type unitInfo struct {
	start uint32
	size  uint32 // guest bytes
	// costs[i] is the cycle cost of instructions 0..i.
	costs  []uint32
	breaks bool // carries breakpoint checks
}

// costAt returns the cycles charged when the unit stops at pc, counting the
// instruction at pc when inclusive is set.
func (ui *unitInfo) costAt(pc uint32, inclusive bool) uint32 {
	if pc < ui.start || len(ui.costs) == 0 {
		return 0
	}
	i := int((pc - ui.start) / 4)
	if !inclusive {
		i--
	}
	switch {
	case i < 0:
		return 0
	case i >= len(ui.costs):
		return ui.costs[len(ui.costs)-1]
	}
	return ui.costs[i]
}

// translator emits IR for one guest block.
type translator struct {
	b    *ir.Builder
	mem  *memory.Memory
	opts translateOptions

	pc        uint32
	cycles    uint32
	fpChecked bool
	done      bool
}

// translate decodes guest code starting at start into b.
func translate(b *ir.Builder, mem *memory.Memory, start uint32, opts translateOptions) (*unitInfo, error) {
	if opts.maxInstructions <= 0 {
		opts.maxInstructions = DefaultMaxBlockInstructions
	}
	if opts.singleStep {
		opts.maxInstructions = 1
	}
	b.Reset()
	t := &translator{b: b, mem: mem, opts: opts, pc: start}
	info := &unitInfo{start: start}

	for n := 0; !t.done; n++ {
		if n == opts.maxInstructions || (n > 0 && t.pc&(memory.PageSize-1) == 0) {
			t.branchTo(t.pc)
			break
		}
		raw, ok := mem.ReadOpcode(t.pc)
		if !ok {
			if n == 0 {
				return nil, errors.TranslationErrorf(errors.KindGuestMemory, start, "instruction fetch failed")
			}
			t.branchTo(t.pc)
			break
		}
		if opts.singleStep || (opts.breakAt != nil && opts.breakAt(t.pc)) {
			b.EmitBreakPointCheck(t.pc)
			info.breaks = true
		}
		t.instruction(ppc.Inst(raw))
		info.costs = append(info.costs, t.cycles)
		if !t.done {
			t.pc += 4
		}
	}
	if err := b.Err(); err != nil {
		return nil, errors.WrapTranslationError(err, errors.KindCapacity, start, "immediate pool")
	}
	info.size = uint32(len(info.costs)) * 4
	return info, nil
}

func (t *translator) imm(v uint32) ir.Ref { return t.b.EmitIntConst(v) }

// branchTo ends the unit with a jump to a constant address.
func (t *translator) branchTo(target uint32) {
	t.b.EmitBranchUncond(t.imm(target), t.cycles)
	t.done = true
}

func (t *translator) gpr(r int) ir.Ref { return t.b.EmitLoadGReg(r) }

// gprOrZero is the (rA|0) operand.
func (t *translator) gprOrZero(r int) ir.Ref {
	if r == 0 {
		return t.imm(0)
	}
	return t.gpr(r)
}

func (t *translator) setGPR(v ir.Ref, r int) { t.b.EmitStoreGReg(v, r) }

func (t *translator) setCR0(v ir.Ref) {
	t.b.EmitStoreCR(t.b.EmitICmpCR(true, v, t.imm(0)), 0)
}

// fallback hands inst to the interpreter and leaves the unit when the
// interpreter may have redirected control.
func (t *translator) fallback(inst ppc.Inst, info ppc.Info) {
	b := t.b
	b.EmitInterpreterFallback(uint32(inst), t.pc)
	b.EmitExceptionCheck(t.pc)
	switch {
	case info.Has(ppc.FlagBranch):
		b.EmitInterpreterBranch(t.cycles)
		t.done = true
	case info.Has(ppc.FlagEndBlock):
		t.branchTo(t.pc + 4)
	}
}

func (t *translator) instruction(inst ppc.Inst) {
	info := ppc.Classify(inst)
	t.cycles += info.Cycles
	if info.Has(ppc.FlagFloat) && !t.fpChecked {
		t.b.EmitFPExceptionCheck(t.pc)
		t.fpChecked = true
	}

	var handled bool
	switch inst.OPCD() {
	case ppc.OpADDI, ppc.OpADDIS, ppc.OpADDIC, ppc.OpADDICR, ppc.OpSUBFIC, ppc.OpMULLI:
		handled = t.arithImm(inst)
	case ppc.OpCMPI, ppc.OpCMPLI:
		handled = t.compareImm(inst)
	case ppc.OpORI, ppc.OpORIS, ppc.OpXORI, ppc.OpXORIS, ppc.OpANDIR, ppc.OpANDISR:
		handled = t.logicalImm(inst)
	case ppc.OpRLWINM, ppc.OpRLWIMI, ppc.OpRLWNM:
		handled = t.rotate(inst)
	case ppc.OpB:
		handled = t.branch(inst)
	case ppc.OpBC:
		handled = t.branchConditional(inst)
	case ppc.OpSC:
		t.b.EmitSystemCall(t.pc)
		t.done = true
		handled = true
	case ppc.OpLWZ, ppc.OpLWZU, ppc.OpLBZ, ppc.OpLBZU, ppc.OpSTW, ppc.OpSTWU, ppc.OpSTB, ppc.OpSTBU,
		ppc.OpLHZ, ppc.OpLHZU, ppc.OpLHA, ppc.OpLHAU, ppc.OpSTH, ppc.OpSTHU:
		handled = t.loadStore(inst)
	case ppc.OpLFS, ppc.OpLFSU, ppc.OpLFD, ppc.OpLFDU, ppc.OpSTFS, ppc.OpSTFSU, ppc.OpSTFD, ppc.OpSTFDU:
		handled = t.floatLoadStore(inst)
	case ppc.OpGroup19:
		handled = t.group19(inst)
	case ppc.OpGroup31:
		handled = t.group31(inst)
	case ppc.OpGroup59, ppc.OpGroup63:
		handled = t.float(inst)
	}
	if !handled {
		t.fallback(inst, info)
	}
}

func (t *translator) arithImm(inst ppc.Inst) bool {
	b := t.b
	simm := uint32(inst.SIMM())
	switch inst.OPCD() {
	case ppc.OpADDI:
		t.setGPR(b.EmitAdd(t.gprOrZero(inst.RA()), t.imm(simm)), inst.RD())
	case ppc.OpADDIS:
		t.setGPR(b.EmitAdd(t.gprOrZero(inst.RA()), t.imm(simm<<16)), inst.RD())
	case ppc.OpADDIC, ppc.OpADDICR:
		a := t.gpr(inst.RA())
		sum := b.EmitAdd(a, t.imm(simm))
		t.setGPR(sum, inst.RD())
		b.EmitStoreCarry(b.EmitICmp(ir.ICmpUlt, sum, a))
		if inst.OPCD() == ppc.OpADDICR {
			t.setCR0(sum)
		}
	case ppc.OpSUBFIC:
		a := t.gpr(inst.RA())
		t.setGPR(b.EmitSub(t.imm(simm), a), inst.RD())
		b.EmitStoreCarry(b.EmitICmp(ir.ICmpUge, t.imm(simm), a))
	case ppc.OpMULLI:
		t.setGPR(b.EmitMul(t.gpr(inst.RA()), t.imm(simm)), inst.RD())
	}
	return true
}

func (t *translator) compareImm(inst ppc.Inst) bool {
	signed := inst.OPCD() == ppc.OpCMPI
	y := t.imm(inst.UIMM())
	if signed {
		y = t.imm(uint32(inst.SIMM()))
	}
	t.b.EmitStoreCR(t.b.EmitICmpCR(signed, t.gpr(inst.RA()), y), inst.CRFD())
	return true
}

func (t *translator) logicalImm(inst ppc.Inst) bool {
	b := t.b
	s := t.gpr(inst.RS())
	imm := inst.UIMM()
	var v ir.Ref
	switch inst.OPCD() {
	case ppc.OpORI:
		v = b.EmitOr(s, t.imm(imm))
	case ppc.OpORIS:
		v = b.EmitOr(s, t.imm(imm<<16))
	case ppc.OpXORI:
		v = b.EmitXor(s, t.imm(imm))
	case ppc.OpXORIS:
		v = b.EmitXor(s, t.imm(imm<<16))
	case ppc.OpANDIR:
		v = b.EmitAnd(s, t.imm(imm))
	case ppc.OpANDISR:
		v = b.EmitAnd(s, t.imm(imm<<16))
	}
	t.setGPR(v, inst.RA())
	if op := inst.OPCD(); op == ppc.OpANDIR || op == ppc.OpANDISR {
		t.setCR0(v)
	}
	return true
}

func (t *translator) rotate(inst ppc.Inst) bool {
	b := t.b
	s := t.gpr(inst.RS())
	sh, mb, me := inst.SH(), inst.MB(), inst.ME()
	mask := ppc.Mask(mb, me)
	var v ir.Ref
	switch inst.OPCD() {
	case ppc.OpRLWINM:
		switch {
		case mb == 0 && me == 31-sh:
			v = b.EmitShl(s, t.imm(sh))
		case sh != 0 && me == 31 && mb == 32-sh:
			v = b.EmitShrl(s, t.imm(mb))
		default:
			v = b.EmitAnd(b.EmitRol(s, t.imm(sh)), t.imm(mask))
		}
	case ppc.OpRLWNM:
		n := b.EmitAnd(t.gpr(inst.RB()), t.imm(31))
		v = b.EmitAnd(b.EmitRol(s, n), t.imm(mask))
	case ppc.OpRLWIMI:
		ins := b.EmitAnd(b.EmitRol(s, t.imm(sh)), t.imm(mask))
		keep := b.EmitAnd(t.gpr(inst.RA()), t.imm(^mask))
		v = b.EmitOr(ins, keep)
	}
	t.setGPR(v, inst.RA())
	if inst.Rc() {
		t.setCR0(v)
	}
	return true
}

func (t *translator) branch(inst ppc.Inst) bool {
	if inst.LK() {
		t.b.EmitStoreLR(t.imm(t.pc + 4))
	}
	t.branchTo(inst.BranchTarget(t.pc))
	return true
}

// condition builds the BO/BI test of a conditional branch, decrementing CTR
// when BO asks for it. It returns 0 when the branch is always taken.
func (t *translator) condition(bo, bi uint32) ir.Ref {
	b := t.b
	var take ir.Ref
	if bo&4 == 0 {
		ctr := b.EmitSub(b.EmitLoadCTR(), t.imm(1))
		b.EmitStoreCTR(ctr)
		if bo&2 != 0 {
			take = b.EmitICmp(ir.ICmpEq, ctr, t.imm(0))
		} else {
			take = b.EmitICmp(ir.ICmpNe, ctr, t.imm(0))
		}
	}
	if bo&16 == 0 {
		bit := b.EmitAnd(b.EmitLoadCR(int(bi>>2)), t.imm(8>>(bi&3)))
		var cond ir.Ref
		if bo&8 != 0 {
			cond = b.EmitICmp(ir.ICmpNe, bit, t.imm(0))
		} else {
			cond = b.EmitICmp(ir.ICmpEq, bit, t.imm(0))
		}
		if take == 0 {
			take = cond
		} else {
			take = b.EmitAnd(take, cond)
		}
	}
	return take
}

// conditionalExit leaves for target when take holds and falls through to
// the next instruction otherwise.
func (t *translator) conditionalExit(take, target ir.Ref) {
	if take == 0 {
		t.b.EmitBranchUncond(target, t.cycles)
		t.done = true
		return
	}
	t.b.EmitBranchCond(take, target, t.cycles)
	t.branchTo(t.pc + 4)
}

func (t *translator) branchConditional(inst ppc.Inst) bool {
	take := t.condition(inst.BO(), inst.BI())
	if inst.LK() {
		t.b.EmitStoreLR(t.imm(t.pc + 4))
	}
	t.conditionalExit(take, t.imm(inst.CondTarget(t.pc)))
	return true
}

func (t *translator) group19(inst ppc.Inst) bool {
	b := t.b
	switch inst.XO() {
	case ppc.XO19BCLR, ppc.XO19BCCTR:
		var target ir.Ref
		if inst.XO() == ppc.XO19BCCTR {
			if inst.BO()&4 == 0 {
				return false
			}
			target = b.EmitAnd(b.EmitLoadCTR(), t.imm(^uint32(3)))
		} else {
			target = b.EmitAnd(b.EmitLoadLR(), t.imm(^uint32(3)))
		}
		take := t.condition(inst.BO(), inst.BI())
		if inst.LK() {
			b.EmitStoreLR(t.imm(t.pc + 4))
		}
		t.conditionalExit(take, target)
		return true
	case ppc.XO19MCRF:
		b.EmitStoreCR(b.EmitLoadCR(inst.CRFS()), inst.CRFD())
		return true
	case ppc.XO19ISYNC:
		return true
	case ppc.XO19CRAND, ppc.XO19CRANDC, ppc.XO19CROR, ppc.XO19CRORC, ppc.XO19CRXOR,
		ppc.XO19CRNAND, ppc.XO19CRNOR, ppc.XO19CREQV:
		t.conditionLogic(inst)
		return true
	}
	return false
}

// crBit extracts condition register bit n as 0 or 1.
func (t *translator) crBit(n uint32) ir.Ref {
	b := t.b
	return b.EmitAnd(b.EmitShrl(b.EmitLoadCR(int(n>>2)), t.imm(3-n&3)), t.imm(1))
}

func (t *translator) conditionLogic(inst ppc.Inst) {
	b := t.b
	x, y := t.crBit(uint32(inst.RA())), t.crBit(uint32(inst.RB()))
	var v ir.Ref
	switch inst.XO() {
	case ppc.XO19CRAND:
		v = b.EmitAnd(x, y)
	case ppc.XO19CRANDC:
		v = b.EmitAnd(x, b.EmitXor(y, t.imm(1)))
	case ppc.XO19CROR:
		v = b.EmitOr(x, y)
	case ppc.XO19CRORC:
		v = b.EmitOr(x, b.EmitXor(y, t.imm(1)))
	case ppc.XO19CRXOR:
		v = b.EmitXor(x, y)
	case ppc.XO19CRNAND:
		v = b.EmitXor(b.EmitAnd(x, y), t.imm(1))
	case ppc.XO19CRNOR:
		v = b.EmitXor(b.EmitOr(x, y), t.imm(1))
	case ppc.XO19CREQV:
		v = b.EmitXor(b.EmitXor(x, y), t.imm(1))
	}
	d := uint32(inst.RD())
	shift := 3 - d&3
	field := b.EmitAnd(b.EmitLoadCR(int(d>>2)), t.imm(^uint32(1<<shift)&0xF))
	b.EmitStoreCR(b.EmitOr(field, b.EmitShl(v, t.imm(shift))), int(d>>2))
}

// addCarry computes x + y + CA and the carry out.
func (t *translator) addCarry(x, y ir.Ref) (sum, carry ir.Ref) {
	b := t.b
	ca := b.EmitLoadCarry()
	partial := b.EmitAdd(x, y)
	c1 := b.EmitICmp(ir.ICmpUlt, partial, x)
	sum = b.EmitAdd(partial, ca)
	c2 := b.EmitICmp(ir.ICmpUlt, sum, partial)
	return sum, b.EmitOr(c1, c2)
}

func (t *translator) group31(inst ppc.Inst) bool {
	b := t.b
	switch xo := inst.XO(); xo {
	case ppc.XO31CMP, ppc.XO31CMPL:
		v := b.EmitICmpCR(xo == ppc.XO31CMP, t.gpr(inst.RA()), t.gpr(inst.RB()))
		b.EmitStoreCR(v, inst.CRFD())
		return true
	case ppc.XO31AND, ppc.XO31ANDC, ppc.XO31OR, ppc.XO31ORC, ppc.XO31XOR, ppc.XO31NOR,
		ppc.XO31NAND, ppc.XO31EQV, ppc.XO31SLW, ppc.XO31SRW, ppc.XO31SRAWI,
		ppc.XO31EXTSB, ppc.XO31EXTSH, ppc.XO31CNTLZW:
		t.logical(inst)
		return true
	case ppc.XO31MFSPR, ppc.XO31MTSPR:
		return t.moveSPR(inst)
	case ppc.XO31SYNC, ppc.XO31EIEIO, ppc.XO31DCBT, ppc.XO31DCBST, ppc.XO31DCBF:
		return true
	case ppc.XO31MFMSR:
		t.setGPR(b.EmitLoadMSR(), inst.RD())
		return true
	case ppc.XO31LWZX, ppc.XO31LWZUX, ppc.XO31LBZX, ppc.XO31LBZUX, ppc.XO31STWX, ppc.XO31STWUX,
		ppc.XO31STBX, ppc.XO31STBUX, ppc.XO31LHZX, ppc.XO31LHAX, ppc.XO31STHX:
		return t.loadStore(inst)
	}
	return t.arith(inst)
}

func (t *translator) arith(inst ppc.Inst) bool {
	b := t.b
	var d, carry ir.Ref
	a := func() ir.Ref { return t.gpr(inst.RA()) }
	rb := func() ir.Ref { return t.gpr(inst.RB()) }
	switch inst.XOArith() {
	case ppc.XO31ADD:
		d = b.EmitAdd(a(), rb())
	case ppc.XO31ADDC:
		d = b.EmitAdd(a(), rb())
		carry = b.EmitICmp(ir.ICmpUlt, d, a())
	case ppc.XO31ADDE:
		d, carry = t.addCarry(a(), rb())
	case ppc.XO31ADDZE:
		d, carry = t.addCarry(a(), t.imm(0))
	case ppc.XO31ADDME:
		d, carry = t.addCarry(a(), t.imm(0xFFFFFFFF))
	case ppc.XO31SUBF:
		d = b.EmitSub(rb(), a())
	case ppc.XO31SUBFC:
		d = b.EmitSub(rb(), a())
		carry = b.EmitICmp(ir.ICmpUge, rb(), a())
	case ppc.XO31SUBFE:
		d, carry = t.addCarry(b.EmitNot(a()), rb())
	case ppc.XO31SUBFZE:
		d, carry = t.addCarry(b.EmitNot(a()), t.imm(0))
	case ppc.XO31NEG:
		d = b.EmitNeg(a())
	case ppc.XO31MULLW:
		d = b.EmitMul(a(), rb())
	default:
		// high multiplies and divides have no node
		return false
	}
	t.setGPR(d, inst.RD())
	if carry != 0 {
		b.EmitStoreCarry(carry)
	}
	if inst.Rc() {
		t.setCR0(d)
	}
	return true
}

func (t *translator) logical(inst ppc.Inst) {
	b := t.b
	s := t.gpr(inst.RS())
	var v ir.Ref
	switch inst.XO() {
	case ppc.XO31AND:
		v = b.EmitAnd(s, t.gpr(inst.RB()))
	case ppc.XO31ANDC:
		v = b.EmitAnd(s, b.EmitNot(t.gpr(inst.RB())))
	case ppc.XO31OR:
		v = b.EmitOr(s, t.gpr(inst.RB()))
	case ppc.XO31ORC:
		v = b.EmitOr(s, b.EmitNot(t.gpr(inst.RB())))
	case ppc.XO31XOR:
		v = b.EmitXor(s, t.gpr(inst.RB()))
	case ppc.XO31NOR:
		v = b.EmitNot(b.EmitOr(s, t.gpr(inst.RB())))
	case ppc.XO31NAND:
		v = b.EmitNot(b.EmitAnd(s, t.gpr(inst.RB())))
	case ppc.XO31EQV:
		v = b.EmitNot(b.EmitXor(s, t.gpr(inst.RB())))
	case ppc.XO31SLW, ppc.XO31SRW:
		// counts of 32 to 63 clear the register
		n := t.gpr(inst.RB())
		inRange := b.EmitNeg(b.EmitICmp(ir.ICmpUlt, b.EmitAnd(n, t.imm(0x3F)), t.imm(32)))
		if inst.XO() == ppc.XO31SLW {
			v = b.EmitAnd(b.EmitShl(s, n), inRange)
		} else {
			v = b.EmitAnd(b.EmitShrl(s, n), inRange)
		}
	case ppc.XO31SRAWI:
		sh := inst.SH()
		v = b.EmitSarl(s, t.imm(sh))
		neg := b.EmitICmp(ir.ICmpSlt, s, t.imm(0))
		lost := b.EmitICmp(ir.ICmpNe, b.EmitAnd(s, t.imm(uint32(1)<<sh-1)), t.imm(0))
		b.EmitStoreCarry(b.EmitAnd(neg, lost))
	case ppc.XO31EXTSB:
		v = b.EmitSExt8(s)
	case ppc.XO31EXTSH:
		v = b.EmitSExt16(s)
	case ppc.XO31CNTLZW:
		v = b.EmitCntlzw(s)
	}
	t.setGPR(v, inst.RA())
	if inst.Rc() {
		t.setCR0(v)
	}
}

func (t *translator) moveSPR(inst ppc.Inst) bool {
	b := t.b
	mt := inst.XO() == ppc.XO31MTSPR
	switch inst.SPR() {
	case ppc.SPRLR:
		if mt {
			b.EmitStoreLR(t.gpr(inst.RS()))
		} else {
			t.setGPR(b.EmitLoadLR(), inst.RD())
		}
	case ppc.SPRCTR:
		if mt {
			b.EmitStoreCTR(t.gpr(inst.RS()))
		} else {
			t.setGPR(b.EmitLoadCTR(), inst.RD())
		}
	case ppc.SPRXER:
		if mt {
			b.EmitStoreCarry(b.EmitAnd(b.EmitShrl(t.gpr(inst.RS()), t.imm(29)), t.imm(1)))
		} else {
			t.setGPR(b.EmitShl(b.EmitLoadCarry(), t.imm(29)), inst.RD())
		}
	default:
		return false
	}
	return true
}

// memAccess describes an integer or floating point transfer.
type memAccess struct {
	size   int
	store  bool
	update bool
	signed bool
}

var (
	dFormAccess = map[uint32]memAccess{
		ppc.OpLWZ:  {size: 4},
		ppc.OpLWZU: {size: 4, update: true},
		ppc.OpLBZ:  {size: 1},
		ppc.OpLBZU: {size: 1, update: true},
		ppc.OpSTW:  {size: 4, store: true},
		ppc.OpSTWU: {size: 4, store: true, update: true},
		ppc.OpSTB:  {size: 1, store: true},
		ppc.OpSTBU: {size: 1, store: true, update: true},
		ppc.OpLHZ:  {size: 2},
		ppc.OpLHZU: {size: 2, update: true},
		ppc.OpLHA:  {size: 2, signed: true},
		ppc.OpLHAU: {size: 2, signed: true, update: true},
		ppc.OpSTH:  {size: 2, store: true},
		ppc.OpSTHU: {size: 2, store: true, update: true},
	}
	xFormAccess = map[uint32]memAccess{
		ppc.XO31LWZX:  {size: 4},
		ppc.XO31LWZUX: {size: 4, update: true},
		ppc.XO31LBZX:  {size: 1},
		ppc.XO31LBZUX: {size: 1, update: true},
		ppc.XO31STWX:  {size: 4, store: true},
		ppc.XO31STWUX: {size: 4, store: true, update: true},
		ppc.XO31STBX:  {size: 1, store: true},
		ppc.XO31STBUX: {size: 1, store: true, update: true},
		ppc.XO31LHZX:  {size: 2},
		ppc.XO31LHAX:  {size: 2, signed: true},
		ppc.XO31STHX:  {size: 2, store: true},
	}
)

// effectiveAddress computes (rA|0)+offset, or rA+offset for update forms.
func (t *translator) effectiveAddress(inst ppc.Inst, update bool) ir.Ref {
	var offset ir.Ref
	if inst.OPCD() == ppc.OpGroup31 {
		offset = t.gpr(inst.RB())
	} else {
		offset = t.imm(uint32(inst.SIMM()))
	}
	if update {
		return t.b.EmitAdd(t.gpr(inst.RA()), offset)
	}
	return t.b.EmitAdd(t.gprOrZero(inst.RA()), offset)
}

// checked reports whether an access of size bytes at ea needs a fault check.
func (t *translator) checked(ea ir.Ref, size int) bool {
	u := t.b.Unit()
	return !u.IsIntConst(ea) || !t.mem.IsRAM(u.IntConst(ea), uint32(size))
}

func (t *translator) loadStore(inst ppc.Inst) bool {
	a, ok := dFormAccess[inst.OPCD()]
	if inst.OPCD() == ppc.OpGroup31 {
		a, ok = xFormAccess[inst.XO()]
	}
	if !ok {
		return false
	}
	b := t.b
	ea := t.effectiveAddress(inst, a.update)
	checked := t.checked(ea, a.size)
	if a.store {
		b.EmitStore(a.size, t.gpr(inst.RS()), ea, checked)
		if checked {
			b.EmitDSIExceptionCheck(t.pc)
		}
	} else {
		v := b.EmitLoad(a.size, ea, checked)
		if checked {
			b.EmitDSIExceptionCheck(t.pc)
		}
		if a.signed {
			v = b.EmitSExt16(v)
		}
		t.setGPR(v, inst.RD())
	}
	if a.update {
		t.setGPR(ea, inst.RA())
	}
	return true
}

func (t *translator) floatLoadStore(inst ppc.Inst) bool {
	b := t.b
	op := inst.OPCD()
	update := op&1 != 0
	size := 4
	if op == ppc.OpLFD || op == ppc.OpLFDU || op == ppc.OpSTFD || op == ppc.OpSTFDU {
		size = 8
	}
	ea := t.effectiveAddress(inst, update)
	checked := t.checked(ea, size)
	switch op {
	case ppc.OpLFS, ppc.OpLFSU, ppc.OpLFD, ppc.OpLFDU:
		v := b.EmitLoad(size, ea, checked)
		if checked {
			b.EmitDSIExceptionCheck(t.pc)
		}
		if size == 4 {
			v = b.EmitSingleToDouble(v)
		}
		b.EmitStoreFReg(v, inst.RD())
	default:
		v := b.EmitLoadFReg(inst.RS())
		if size == 4 {
			v = b.EmitDoubleToSingle(v)
		}
		b.EmitStore(size, v, ea, checked)
		if checked {
			b.EmitDSIExceptionCheck(t.pc)
		}
	}
	if update {
		t.setGPR(ea, inst.RA())
	}
	return true
}

func (t *translator) float(inst ppc.Inst) bool {
	b := t.b
	fr := b.EmitLoadFReg
	if inst.OPCD() == ppc.OpGroup63 {
		switch inst.XO() {
		case ppc.XO63FMR:
			b.EmitStoreFReg(fr(inst.RB()), inst.RD())
			return true
		case ppc.XO63FNEG:
			b.EmitStoreFReg(b.EmitFNeg(fr(inst.RB())), inst.RD())
			return true
		case ppc.XO63FRSP:
			b.EmitStoreFReg(b.EmitFRoundSingle(fr(inst.RB())), inst.RD())
			return true
		case ppc.XO63FCMPU, ppc.XO63FABS:
			return false
		}
	}
	var v ir.Ref
	switch inst.XOA() {
	case ppc.XOFADD:
		v = b.EmitFAdd(fr(inst.RA()), fr(inst.RB()))
	case ppc.XOFSUB:
		v = b.EmitFSub(fr(inst.RA()), fr(inst.RB()))
	case ppc.XOFMUL:
		v = b.EmitFMul(fr(inst.RA()), fr(inst.RC()))
	case ppc.XOFDIV:
		v = b.EmitFDiv(fr(inst.RA()), fr(inst.RB()))
	default:
		return false
	}
	if inst.OPCD() == ppc.OpGroup59 {
		v = b.EmitFRoundSingle(v)
	}
	b.EmitStoreFReg(v, inst.RD())
	return true
}

func (ui *unitInfo) String() string {
	return fmt.Sprintf("%08x+%d (%d cycles)", ui.start, ui.size, ui.costAt(ui.start+ui.size-4, true))
}
