// Package ppc decodes the fields of 32-bit PowerPC (Gekko subset) instruction words
// and classifies them for the translator and the interpreter.
package ppc

// Inst is one big-endian guest instruction word.
type Inst uint32

// Primary opcodes.
const (
	OpTWI     = 3
	OpMULLI   = 7
	OpSUBFIC  = 8
	OpCMPLI   = 10
	OpCMPI    = 11
	OpADDIC   = 12
	OpADDICR  = 13
	OpADDI    = 14
	OpADDIS   = 15
	OpBC      = 16
	OpSC      = 17
	OpB       = 18
	OpGroup19 = 19
	OpRLWIMI  = 20
	OpRLWINM  = 21
	OpRLWNM   = 23
	OpORI     = 24
	OpORIS    = 25
	OpXORI    = 26
	OpXORIS   = 27
	OpANDIR   = 28
	OpANDISR  = 29
	OpGroup31 = 31
	OpLWZ     = 32
	OpLWZU    = 33
	OpLBZ     = 34
	OpLBZU    = 35
	OpSTW     = 36
	OpSTWU    = 37
	OpSTB     = 38
	OpSTBU    = 39
	OpLHZ     = 40
	OpLHZU    = 41
	OpLHA     = 42
	OpLHAU    = 43
	OpSTH     = 44
	OpSTHU    = 45
	OpLMW     = 46
	OpSTMW    = 47
	OpLFS     = 48
	OpLFSU    = 49
	OpLFD     = 50
	OpLFDU    = 51
	OpSTFS    = 52
	OpSTFSU   = 53
	OpSTFD    = 54
	OpSTFDU   = 55
	OpGroup59 = 59
	OpGroup63 = 63
)

// Extended opcodes of primary opcode 19 (10-bit XO).
const (
	XO19MCRF   = 0
	XO19BCLR   = 16
	XO19CRNOR  = 33
	XO19RFI    = 50
	XO19CRANDC = 129
	XO19ISYNC  = 150
	XO19CRXOR  = 193
	XO19CRNAND = 225
	XO19CRAND  = 257
	XO19CREQV  = 289
	XO19CRORC  = 417
	XO19CROR   = 449
	XO19BCCTR  = 528
)

// Extended opcodes of primary opcode 31 (10-bit XO; XO-form arithmetic
// uses the low nine bits and OE in bit 0x200).
const (
	XO31CMP    = 0
	XO31TW     = 4
	XO31SUBFC  = 8
	XO31ADDC   = 10
	XO31MULHWU = 11
	XO31MFCR   = 19
	XO31LWZX   = 23
	XO31SLW    = 24
	XO31CNTLZW = 26
	XO31AND    = 28
	XO31CMPL   = 32
	XO31SUBF   = 40
	XO31DCBST  = 54
	XO31LWZUX  = 55
	XO31ANDC   = 60
	XO31MULHW  = 75
	XO31MFMSR  = 83
	XO31DCBF   = 86
	XO31LBZX   = 87
	XO31NEG    = 104
	XO31LBZUX  = 119
	XO31NOR    = 124
	XO31SUBFE  = 136
	XO31ADDE   = 138
	XO31MTCRF  = 144
	XO31MTMSR  = 146
	XO31STWX   = 151
	XO31STWUX  = 183
	XO31SUBFZE = 200
	XO31ADDZE  = 202
	XO31STBX   = 215
	XO31ADDME  = 234
	XO31MULLW  = 235
	XO31STBUX  = 247
	XO31ADD    = 266
	XO31DCBT   = 278
	XO31LHZX   = 279
	XO31EQV    = 284
	XO31XOR    = 316
	XO31MFSPR  = 339
	XO31LHAX   = 343
	XO31STHX   = 407
	XO31ORC    = 412
	XO31OR     = 444
	XO31DIVWU  = 459
	XO31MTSPR  = 467
	XO31NAND   = 476
	XO31DIVW   = 491
	XO31SRW    = 536
	XO31SYNC   = 598
	XO31SRAW   = 792
	XO31SRAWI  = 824
	XO31EIEIO  = 854
	XO31EXTSH  = 922
	XO31EXTSB  = 954
	XO31ICBI   = 982
	XO31DCBZ   = 1014
)

// A-form extended opcodes of 59 and 63, plus X-form opcodes of 63.
const (
	XOFDIV = 18
	XOFSUB = 20
	XOFADD = 21
	XOFMUL = 25

	XO63FCMPU = 0
	XO63FRSP  = 12
	XO63FNEG  = 40
	XO63FMR   = 72
	XO63FABS  = 264
)

// Special purpose register numbers.
const (
	SPRXER   = 1
	SPRLR    = 8
	SPRCTR   = 9
	SPRDSISR = 18
	SPRDAR   = 19
	SPRDEC   = 22
	SPRSRR0  = 26
	SPRSRR1  = 27
	SPRSPRG0 = 272
	SPRSPRG1 = 273
	SPRSPRG2 = 274
	SPRSPRG3 = 275
)

func (i Inst) OPCD() uint32 { return uint32(i) >> 26 }
func (i Inst) RD() int      { return int(uint32(i)>>21) & 31 }
func (i Inst) RS() int      { return i.RD() }
func (i Inst) RA() int      { return int(uint32(i)>>16) & 31 }
func (i Inst) RB() int      { return int(uint32(i)>>11) & 31 }
func (i Inst) RC() int      { return int(uint32(i)>>6) & 31 }
func (i Inst) SIMM() int32  { return int32(int16(uint16(i))) }
func (i Inst) UIMM() uint32 { return uint32(i) & 0xFFFF }
func (i Inst) Rc() bool     { return i&1 != 0 }
func (i Inst) LK() bool     { return i&1 != 0 }
func (i Inst) AA() bool     { return i&2 != 0 }
func (i Inst) OE() bool     { return uint32(i)&0x400 != 0 }
func (i Inst) SH() uint32   { return uint32(i) >> 11 & 31 }
func (i Inst) MB() uint32   { return uint32(i) >> 6 & 31 }
func (i Inst) ME() uint32   { return uint32(i) >> 1 & 31 }
func (i Inst) CRFD() int    { return int(uint32(i)>>23) & 7 }
func (i Inst) CRFS() int    { return int(uint32(i)>>18) & 7 }
func (i Inst) BO() uint32   { return uint32(i) >> 21 & 31 }
func (i Inst) BI() uint32   { return uint32(i) >> 16 & 31 }
func (i Inst) CRM() uint32  { return uint32(i) >> 12 & 0xFF }

// XO returns the 10-bit extended opcode of X/XL/XFX forms.
func (i Inst) XO() uint32 { return uint32(i) >> 1 & 0x3FF }

// XOArith returns the 9-bit extended opcode of XO-form arithmetic.
func (i Inst) XOArith() uint32 { return uint32(i) >> 1 & 0x1FF }

// XOA returns the 5-bit extended opcode of floating point A-forms.
func (i Inst) XOA() uint32 { return uint32(i) >> 1 & 0x1F }

// LI returns the sign-extended branch displacement of I-form branches.
func (i Inst) LI() int32 { return int32(uint32(i)<<6) >> 6 & ^3 }

// BD returns the sign-extended displacement of B-form branches.
func (i Inst) BD() int32 { return int32(int16(uint16(i) & 0xFFFC)) }

// SPR returns the special purpose register number with its split halves swapped back.
func (i Inst) SPR() uint32 {
	return (uint32(i)>>16)&0x1F | ((uint32(i)>>11)&0x1F)<<5
}

// BranchTarget resolves the target of an I-form branch located at pc.
func (i Inst) BranchTarget(pc uint32) uint32 {
	if i.AA() {
		return uint32(i.LI())
	}
	return pc + uint32(i.LI())
}

// CondTarget resolves the target of a B-form branch located at pc.
func (i Inst) CondTarget(pc uint32) uint32 {
	if i.AA() {
		return uint32(i.BD())
	}
	return pc + uint32(i.BD())
}

// Mask builds the rotate mask MASK(mb, me) with big-endian bit numbering.
// mb > me produces a wrapped mask.
func Mask(mb, me uint32) uint32 {
	begin := uint32(0xFFFFFFFF) >> mb
	end := uint32(0x7FFFFFFF) >> me
	m := begin ^ end
	if me < mb {
		return ^m
	}
	return m
}
