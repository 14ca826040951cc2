package interpreter

import (
	"math"
	"math/bits"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/ppc"
)

func init() {
	dispatchTable[ppc.OpTWI] = handleTrap
	dispatchTable[ppc.OpMULLI] = handleMulli
	dispatchTable[ppc.OpSUBFIC] = handleSubfic
	dispatchTable[ppc.OpCMPLI] = handleCompareImm
	dispatchTable[ppc.OpCMPI] = handleCompareImm
	dispatchTable[ppc.OpADDIC] = handleAddic
	dispatchTable[ppc.OpADDICR] = handleAddic
	dispatchTable[ppc.OpADDI] = handleAddi
	dispatchTable[ppc.OpADDIS] = handleAddi
	dispatchTable[ppc.OpBC] = handleBranchConditional
	dispatchTable[ppc.OpSC] = handleSystemCall
	dispatchTable[ppc.OpB] = handleBranch
	dispatchTable[ppc.OpRLWIMI] = handleRotate
	dispatchTable[ppc.OpRLWINM] = handleRotate
	dispatchTable[ppc.OpRLWNM] = handleRotate
	for _, op := range []uint32{ppc.OpORI, ppc.OpORIS, ppc.OpXORI, ppc.OpXORIS, ppc.OpANDIR, ppc.OpANDISR} {
		dispatchTable[op] = handleLogicalImm
	}
	for op := uint32(ppc.OpLWZ); op <= ppc.OpSTHU; op++ {
		dispatchTable[op] = handleLoadStore
	}
	dispatchTable[ppc.OpLMW] = handleLoadStoreMultiple
	dispatchTable[ppc.OpSTMW] = handleLoadStoreMultiple
	for op := uint32(ppc.OpLFS); op <= ppc.OpSTFDU; op++ {
		dispatchTable[op] = handleFloatLoadStore
	}

	table19[ppc.XO19MCRF] = handleMcrf
	table19[ppc.XO19BCLR] = handleBranchConditionalRegister
	table19[ppc.XO19BCCTR] = handleBranchConditionalRegister
	table19[ppc.XO19RFI] = handleRfi
	table19[ppc.XO19ISYNC] = handleNop
	for _, xo := range []uint32{ppc.XO19CRNOR, ppc.XO19CRANDC, ppc.XO19CRXOR, ppc.XO19CRNAND,
		ppc.XO19CRAND, ppc.XO19CREQV, ppc.XO19CRORC, ppc.XO19CROR} {
		table19[xo] = handleConditionLogic
	}

	for _, xo := range []uint32{ppc.XO31SUBFC, ppc.XO31ADDC, ppc.XO31MULHWU, ppc.XO31SUBF,
		ppc.XO31MULHW, ppc.XO31NEG, ppc.XO31SUBFE, ppc.XO31ADDE, ppc.XO31SUBFZE, ppc.XO31ADDZE,
		ppc.XO31ADDME, ppc.XO31MULLW, ppc.XO31ADD, ppc.XO31DIVWU, ppc.XO31DIVW} {
		table31[xo] = handleArith
		table31[xo|0x200] = handleArith
	}
	for _, xo := range []uint32{ppc.XO31AND, ppc.XO31ANDC, ppc.XO31OR, ppc.XO31ORC, ppc.XO31XOR,
		ppc.XO31NOR, ppc.XO31NAND, ppc.XO31EQV, ppc.XO31SLW, ppc.XO31SRW, ppc.XO31SRAW,
		ppc.XO31SRAWI, ppc.XO31EXTSB, ppc.XO31EXTSH, ppc.XO31CNTLZW} {
		table31[xo] = handleLogical
	}
	table31[ppc.XO31CMP] = handleCompare
	table31[ppc.XO31CMPL] = handleCompare
	table31[ppc.XO31TW] = handleTrap
	for _, xo := range []uint32{ppc.XO31LWZX, ppc.XO31LWZUX, ppc.XO31LBZX, ppc.XO31LBZUX,
		ppc.XO31STWX, ppc.XO31STWUX, ppc.XO31STBX, ppc.XO31STBUX, ppc.XO31LHZX, ppc.XO31LHAX,
		ppc.XO31STHX} {
		table31[xo] = handleLoadStoreIndexed
	}
	table31[ppc.XO31MFCR] = handleMfcr
	table31[ppc.XO31MTCRF] = handleMtcrf
	table31[ppc.XO31MFMSR] = handleMfmsr
	table31[ppc.XO31MTMSR] = handleMtmsr
	table31[ppc.XO31MFSPR] = handleMfspr
	table31[ppc.XO31MTSPR] = handleMtspr
	table31[ppc.XO31ICBI] = handleIcbi
	table31[ppc.XO31DCBZ] = handleDcbz
	for _, xo := range []uint32{ppc.XO31SYNC, ppc.XO31EIEIO, ppc.XO31DCBF, ppc.XO31DCBST, ppc.XO31DCBT} {
		table31[xo] = handleNop
	}

	for _, xo := range []uint32{ppc.XOFADD, ppc.XOFSUB, ppc.XOFMUL, ppc.XOFDIV} {
		table59[xo] = handleFloatArith
		table63A[xo] = handleFloatArith
	}
	table63[ppc.XO63FCMPU] = handleFcmpu
	table63[ppc.XO63FRSP] = handleFloatMove
	table63[ppc.XO63FNEG] = handleFloatMove
	table63[ppc.XO63FMR] = handleFloatMove
	table63[ppc.XO63FABS] = handleFloatMove
}

// compareField builds a condition register field. SO is not modeled.
func compareField(lt, gt bool) uint8 {
	switch {
	case lt:
		return guest.CRLT
	case gt:
		return guest.CRGT
	}
	return guest.CREQ
}

func (in *Interpreter) setCR0(v uint32) {
	in.State.CR[0] = compareField(int32(v) < 0, int32(v) > 0)
}

// gprOrZero is the (rA|0) operand of address and addi forms.
func (in *Interpreter) gprOrZero(r int) uint32 {
	if r == 0 {
		return 0
	}
	return in.State.GPR[r]
}

func handleNop(in *Interpreter, inst ppc.Inst) {}

func handleAddi(in *Interpreter, inst ppc.Inst) {
	imm := uint32(inst.SIMM())
	if inst.OPCD() == ppc.OpADDIS {
		imm <<= 16
	}
	in.State.GPR[inst.RD()] = in.gprOrZero(inst.RA()) + imm
}

func handleAddic(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := s.GPR[inst.RA()]
	sum := a + uint32(inst.SIMM())
	s.GPR[inst.RD()] = sum
	s.CA = boolToU32(sum < a)
	if inst.OPCD() == ppc.OpADDICR {
		in.setCR0(sum)
	}
}

func handleSubfic(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := s.GPR[inst.RA()]
	imm := uint32(inst.SIMM())
	s.GPR[inst.RD()] = imm - a
	s.CA = boolToU32(imm >= a)
}

func handleMulli(in *Interpreter, inst ppc.Inst) {
	s := in.State
	s.GPR[inst.RD()] = s.GPR[inst.RA()] * uint32(inst.SIMM())
}

func handleCompareImm(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := s.GPR[inst.RA()]
	if inst.OPCD() == ppc.OpCMPI {
		b := inst.SIMM()
		s.CR[inst.CRFD()] = compareField(int32(a) < b, int32(a) > b)
		return
	}
	b := inst.UIMM()
	s.CR[inst.CRFD()] = compareField(a < b, a > b)
}

func handleCompare(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a, b := s.GPR[inst.RA()], s.GPR[inst.RB()]
	if inst.XO() == ppc.XO31CMP {
		s.CR[inst.CRFD()] = compareField(int32(a) < int32(b), int32(a) > int32(b))
		return
	}
	s.CR[inst.CRFD()] = compareField(a < b, a > b)
}

func handleLogicalImm(in *Interpreter, inst ppc.Inst) {
	s := in.State
	v := s.GPR[inst.RS()]
	imm := inst.UIMM()
	switch inst.OPCD() {
	case ppc.OpORI:
		v |= imm
	case ppc.OpORIS:
		v |= imm << 16
	case ppc.OpXORI:
		v ^= imm
	case ppc.OpXORIS:
		v ^= imm << 16
	case ppc.OpANDIR:
		v &= imm
		in.setCR0(v)
	case ppc.OpANDISR:
		v &= imm << 16
		in.setCR0(v)
	}
	s.GPR[inst.RA()] = v
}

func handleRotate(in *Interpreter, inst ppc.Inst) {
	s := in.State
	sh := inst.SH()
	if inst.OPCD() == ppc.OpRLWNM {
		sh = s.GPR[inst.RB()] & 31
	}
	mask := ppc.Mask(inst.MB(), inst.ME())
	r := bits.RotateLeft32(s.GPR[inst.RS()], int(sh))
	v := r & mask
	if inst.OPCD() == ppc.OpRLWIMI {
		v |= s.GPR[inst.RA()] &^ mask
	}
	s.GPR[inst.RA()] = v
	if inst.Rc() {
		in.setCR0(v)
	}
}

func handleArith(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a, b := s.GPR[inst.RA()], s.GPR[inst.RB()]
	var d uint32
	switch inst.XOArith() {
	case ppc.XO31ADD:
		d = a + b
	case ppc.XO31ADDC:
		d = a + b
		s.CA = boolToU32(d < a)
	case ppc.XO31ADDE:
		d, s.CA = addCarry(a, b, s.CA)
	case ppc.XO31ADDZE:
		d, s.CA = addCarry(a, 0, s.CA)
	case ppc.XO31ADDME:
		d, s.CA = addCarry(a, 0xFFFFFFFF, s.CA)
	case ppc.XO31SUBF:
		d = b - a
	case ppc.XO31SUBFC:
		d = b - a
		s.CA = boolToU32(b >= a)
	case ppc.XO31SUBFE:
		d, s.CA = addCarry(^a, b, s.CA)
	case ppc.XO31SUBFZE:
		d, s.CA = addCarry(^a, 0, s.CA)
	case ppc.XO31NEG:
		d = -a
	case ppc.XO31MULLW:
		d = a * b
	case ppc.XO31MULHW:
		d = uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32)
	case ppc.XO31MULHWU:
		d = uint32(uint64(a) * uint64(b) >> 32)
	case ppc.XO31DIVW:
		switch {
		case b == 0 || (a == 0x80000000 && b == 0xFFFFFFFF):
			if int32(a) < 0 {
				d = 0xFFFFFFFF
			}
		default:
			d = uint32(int32(a) / int32(b))
		}
	case ppc.XO31DIVWU:
		if b != 0 {
			d = a / b
		}
	}
	s.GPR[inst.RD()] = d
	if inst.Rc() {
		in.setCR0(d)
	}
}

func addCarry(a, b, ca uint32) (uint32, uint32) {
	sum, carry := bits.Add32(a, b, ca)
	return sum, carry
}

func handleLogical(in *Interpreter, inst ppc.Inst) {
	s := in.State
	rs, rb := s.GPR[inst.RS()], s.GPR[inst.RB()]
	var v uint32
	switch inst.XO() {
	case ppc.XO31AND:
		v = rs & rb
	case ppc.XO31ANDC:
		v = rs &^ rb
	case ppc.XO31OR:
		v = rs | rb
	case ppc.XO31ORC:
		v = rs | ^rb
	case ppc.XO31XOR:
		v = rs ^ rb
	case ppc.XO31NOR:
		v = ^(rs | rb)
	case ppc.XO31NAND:
		v = ^(rs & rb)
	case ppc.XO31EQV:
		v = ^(rs ^ rb)
	case ppc.XO31SLW:
		if n := rb & 0x3F; n < 32 {
			v = rs << n
		}
	case ppc.XO31SRW:
		if n := rb & 0x3F; n < 32 {
			v = rs >> n
		}
	case ppc.XO31SRAW:
		v, s.CA = shiftRightAlgebraic(rs, rb&0x3F)
	case ppc.XO31SRAWI:
		v, s.CA = shiftRightAlgebraic(rs, inst.SH())
	case ppc.XO31EXTSB:
		v = uint32(int32(int8(rs)))
	case ppc.XO31EXTSH:
		v = uint32(int32(int16(rs)))
	case ppc.XO31CNTLZW:
		v = uint32(bits.LeadingZeros32(rs))
	}
	s.GPR[inst.RA()] = v
	if inst.Rc() {
		in.setCR0(v)
	}
}

// shiftRightAlgebraic returns the shifted value and the carry, which is set
// when a negative value lost one bits.
func shiftRightAlgebraic(v, n uint32) (uint32, uint32) {
	neg := int32(v) < 0
	if n > 31 {
		if neg {
			return 0xFFFFFFFF, 1
		}
		return 0, 0
	}
	lost := v&(uint32(1)<<n-1) != 0
	return uint32(int32(v) >> n), boolToU32(neg && lost)
}

func handleTrap(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := s.GPR[inst.RA()]
	b := uint32(inst.SIMM())
	if inst.OPCD() == ppc.OpGroup31 {
		b = s.GPR[inst.RB()]
	}
	to := uint32(inst.RD())
	if (to&16 != 0 && int32(a) < int32(b)) ||
		(to&8 != 0 && int32(a) > int32(b)) ||
		(to&4 != 0 && a == b) ||
		(to&2 != 0 && a < b) ||
		(to&1 != 0 && a > b) {
		s.RaiseProgram(guest.ProgramTrap)
	}
}

func handleBranch(in *Interpreter, inst ppc.Inst) {
	s := in.State
	if inst.LK() {
		s.LR = s.PC + 4
	}
	s.NPC = inst.BranchTarget(s.PC)
}

// branchCondition evaluates BO/BI, decrementing CTR when BO asks for it.
func (in *Interpreter) branchCondition(bo, bi uint32) bool {
	s := in.State
	if bo&4 == 0 {
		s.CTR--
	}
	ctrOK := bo&4 != 0 || ((s.CTR != 0) != (bo&2 != 0))
	condOK := bo&16 != 0 || s.CRBit(bi) == (bo&8 != 0)
	return ctrOK && condOK
}

func handleBranchConditional(in *Interpreter, inst ppc.Inst) {
	s := in.State
	if in.branchCondition(inst.BO(), inst.BI()) {
		s.NPC = inst.CondTarget(s.PC)
	}
	if inst.LK() {
		s.LR = s.PC + 4
	}
}

func handleBranchConditionalRegister(in *Interpreter, inst ppc.Inst) {
	s := in.State
	target := s.LR &^ 3
	if inst.XO() == ppc.XO19BCCTR {
		if inst.BO()&4 == 0 {
			s.RaiseProgram(guest.ProgramIllegal)
			return
		}
		target = s.CTR &^ 3
	}
	if in.branchCondition(inst.BO(), inst.BI()) {
		s.NPC = target
	}
	if inst.LK() {
		s.LR = s.PC + 4
	}
}

func handleSystemCall(in *Interpreter, inst ppc.Inst) {
	in.State.Raise(guest.ExceptionSyscall)
}

func handleRfi(in *Interpreter, inst ppc.Inst) {
	s := in.State
	const mask = 0x87C0FFFF
	s.MSR = (s.MSR &^ mask) | (s.SRR1 & mask)
	s.MSR &= 0xFFFBFFFF
	s.NPC = s.SRR0 &^ 3
}

func handleConditionLogic(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := s.CRBit(uint32(inst.RA()))
	b := s.CRBit(uint32(inst.RB()))
	var v bool
	switch inst.XO() {
	case ppc.XO19CRAND:
		v = a && b
	case ppc.XO19CRANDC:
		v = a && !b
	case ppc.XO19CROR:
		v = a || b
	case ppc.XO19CRORC:
		v = a || !b
	case ppc.XO19CRXOR:
		v = a != b
	case ppc.XO19CRNAND:
		v = !(a && b)
	case ppc.XO19CRNOR:
		v = !(a || b)
	case ppc.XO19CREQV:
		v = a == b
	}
	s.SetCRBit(uint32(inst.RD()), v)
}

func handleMcrf(in *Interpreter, inst ppc.Inst) {
	s := in.State
	s.CR[inst.CRFD()] = s.CR[inst.CRFS()]
}

func handleMfcr(in *Interpreter, inst ppc.Inst) {
	in.State.GPR[inst.RD()] = in.State.CRWord()
}

func handleMtcrf(in *Interpreter, inst ppc.Inst) {
	s := in.State
	v := s.GPR[inst.RS()]
	crm := inst.CRM()
	for f := 0; f < 8; f++ {
		if crm&(0x80>>uint(f)) != 0 {
			s.CR[f] = uint8(v>>(28-4*uint(f))) & 0xF
		}
	}
}

func handleMfmsr(in *Interpreter, inst ppc.Inst) {
	in.State.GPR[inst.RD()] = in.State.MSR
}

func handleMtmsr(in *Interpreter, inst ppc.Inst) {
	in.State.MSR = in.State.GPR[inst.RS()]
}

func handleMfspr(in *Interpreter, inst ppc.Inst) {
	s := in.State
	var v uint32
	switch spr := inst.SPR(); spr {
	case ppc.SPRXER:
		v = s.XER()
	case ppc.SPRLR:
		v = s.LR
	case ppc.SPRCTR:
		v = s.CTR
	case ppc.SPRSRR0:
		v = s.SRR0
	case ppc.SPRSRR1:
		v = s.SRR1
	case ppc.SPRDAR:
		v = s.DAR
	case ppc.SPRDSISR:
		v = s.DSISR
	case ppc.SPRSPRG0, ppc.SPRSPRG1, ppc.SPRSPRG2, ppc.SPRSPRG3:
		v = s.SPRG[spr-ppc.SPRSPRG0]
	default:
		v = s.SPR[spr]
	}
	s.GPR[inst.RD()] = v
}

func handleMtspr(in *Interpreter, inst ppc.Inst) {
	s := in.State
	v := s.GPR[inst.RS()]
	switch spr := inst.SPR(); spr {
	case ppc.SPRXER:
		s.SetXER(v)
	case ppc.SPRLR:
		s.LR = v
	case ppc.SPRCTR:
		s.CTR = v
	case ppc.SPRSRR0:
		s.SRR0 = v
	case ppc.SPRSRR1:
		s.SRR1 = v
	case ppc.SPRDAR:
		s.DAR = v
	case ppc.SPRDSISR:
		s.DSISR = v
	case ppc.SPRSPRG0, ppc.SPRSPRG1, ppc.SPRSPRG2, ppc.SPRSPRG3:
		s.SPRG[spr-ppc.SPRSPRG0] = v
	default:
		s.SPR[spr] = v
	}
}

func handleIcbi(in *Interpreter, inst ppc.Inst) {
	ea := (in.gprOrZero(inst.RA()) + in.State.GPR[inst.RB()]) &^ 31
	if in.OnInvalidateICache != nil {
		in.OnInvalidateICache(ea, 32)
	}
}

func handleDcbz(in *Interpreter, inst ppc.Inst) {
	s := in.State
	ea := (in.gprOrZero(inst.RA()) + s.GPR[inst.RB()]) &^ 31
	if !in.Mem.IsRAM(ea, 32) {
		s.RaiseDSI(ea, true)
		return
	}
	for off := uint32(0); off < 32; off += 8 {
		in.Mem.Write64(ea+off, 0)
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func float64Of(v uint64) float64 { return math.Float64frombits(v) }
