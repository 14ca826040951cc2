package ppc

// Encoders for the instruction forms used by the debugger and by test programs.

func dForm(op uint32, rt, ra int, imm uint32) Inst {
	return Inst(op<<26 | uint32(rt&31)<<21 | uint32(ra&31)<<16 | imm&0xFFFF)
}

func xForm(op uint32, rt, ra, rb int, xo uint32, rc bool) Inst {
	i := op<<26 | uint32(rt&31)<<21 | uint32(ra&31)<<16 | uint32(rb&31)<<11 | (xo&0x3FF)<<1
	if rc {
		i |= 1
	}
	return Inst(i)
}

func ADDI(rd, ra int, simm int16) Inst  { return dForm(OpADDI, rd, ra, uint32(uint16(simm))) }
func ADDIS(rd, ra int, simm int16) Inst { return dForm(OpADDIS, rd, ra, uint32(uint16(simm))) }
func ADDIC(rd, ra int, simm int16) Inst { return dForm(OpADDIC, rd, ra, uint32(uint16(simm))) }
func SUBFIC(rd, ra int, simm int16) Inst {
	return dForm(OpSUBFIC, rd, ra, uint32(uint16(simm)))
}
func MULLI(rd, ra int, simm int16) Inst { return dForm(OpMULLI, rd, ra, uint32(uint16(simm))) }
func ORI(ra, rs int, uimm uint16) Inst  { return dForm(OpORI, rs, ra, uint32(uimm)) }
func ORIS(ra, rs int, uimm uint16) Inst { return dForm(OpORIS, rs, ra, uint32(uimm)) }
func XORI(ra, rs int, uimm uint16) Inst { return dForm(OpXORI, rs, ra, uint32(uimm)) }
func ANDI(ra, rs int, uimm uint16) Inst { return dForm(OpANDIR, rs, ra, uint32(uimm)) }
func CMPWI(crf, ra int, simm int16) Inst {
	return dForm(OpCMPI, crf<<2, ra, uint32(uint16(simm)))
}
func CMPLWI(crf, ra int, uimm uint16) Inst { return dForm(OpCMPLI, crf<<2, ra, uint32(uimm)) }

func LWZ(rd int, d int16, ra int) Inst  { return dForm(OpLWZ, rd, ra, uint32(uint16(d))) }
func LWZU(rd int, d int16, ra int) Inst { return dForm(OpLWZU, rd, ra, uint32(uint16(d))) }
func LBZ(rd int, d int16, ra int) Inst  { return dForm(OpLBZ, rd, ra, uint32(uint16(d))) }
func LHZ(rd int, d int16, ra int) Inst  { return dForm(OpLHZ, rd, ra, uint32(uint16(d))) }
func LHA(rd int, d int16, ra int) Inst  { return dForm(OpLHA, rd, ra, uint32(uint16(d))) }
func STW(rs int, d int16, ra int) Inst  { return dForm(OpSTW, rs, ra, uint32(uint16(d))) }
func STWU(rs int, d int16, ra int) Inst { return dForm(OpSTWU, rs, ra, uint32(uint16(d))) }
func STB(rs int, d int16, ra int) Inst  { return dForm(OpSTB, rs, ra, uint32(uint16(d))) }
func STH(rs int, d int16, ra int) Inst  { return dForm(OpSTH, rs, ra, uint32(uint16(d))) }
func LFD(fd int, d int16, ra int) Inst  { return dForm(OpLFD, fd, ra, uint32(uint16(d))) }
func LFS(fd int, d int16, ra int) Inst  { return dForm(OpLFS, fd, ra, uint32(uint16(d))) }
func STFD(fs int, d int16, ra int) Inst { return dForm(OpSTFD, fs, ra, uint32(uint16(d))) }
func STFS(fs int, d int16, ra int) Inst { return dForm(OpSTFS, fs, ra, uint32(uint16(d))) }

func ADD(rd, ra, rb int) Inst   { return xForm(OpGroup31, rd, ra, rb, XO31ADD, false) }
func ADDDot(rd, ra, rb int) Inst { return xForm(OpGroup31, rd, ra, rb, XO31ADD, true) }
func ADDC(rd, ra, rb int) Inst  { return xForm(OpGroup31, rd, ra, rb, XO31ADDC, false) }
func ADDE(rd, ra, rb int) Inst  { return xForm(OpGroup31, rd, ra, rb, XO31ADDE, false) }
func SUBF(rd, ra, rb int) Inst  { return xForm(OpGroup31, rd, ra, rb, XO31SUBF, false) }
func SUBFC(rd, ra, rb int) Inst { return xForm(OpGroup31, rd, ra, rb, XO31SUBFC, false) }
func MULLW(rd, ra, rb int) Inst { return xForm(OpGroup31, rd, ra, rb, XO31MULLW, false) }
func DIVW(rd, ra, rb int) Inst  { return xForm(OpGroup31, rd, ra, rb, XO31DIVW, false) }
func NEG(rd, ra int) Inst       { return xForm(OpGroup31, rd, ra, 0, XO31NEG, false) }
func AND(ra, rs, rb int) Inst   { return xForm(OpGroup31, rs, ra, rb, XO31AND, false) }
func OR(ra, rs, rb int) Inst    { return xForm(OpGroup31, rs, ra, rb, XO31OR, false) }
func XOR(ra, rs, rb int) Inst   { return xForm(OpGroup31, rs, ra, rb, XO31XOR, false) }
func NOR(ra, rs, rb int) Inst   { return xForm(OpGroup31, rs, ra, rb, XO31NOR, false) }
func SLW(ra, rs, rb int) Inst   { return xForm(OpGroup31, rs, ra, rb, XO31SLW, false) }
func SRAWI(ra, rs int, sh uint32) Inst {
	return xForm(OpGroup31, rs, ra, int(sh), XO31SRAWI, false)
}
func EXTSB(ra, rs int) Inst     { return xForm(OpGroup31, rs, ra, 0, XO31EXTSB, false) }
func EXTSH(ra, rs int) Inst     { return xForm(OpGroup31, rs, ra, 0, XO31EXTSH, false) }
func CNTLZW(ra, rs int) Inst    { return xForm(OpGroup31, rs, ra, 0, XO31CNTLZW, false) }
func CMPW(crf, ra, rb int) Inst { return xForm(OpGroup31, crf<<2, ra, rb, XO31CMP, false) }
func CMPLW(crf, ra, rb int) Inst {
	return xForm(OpGroup31, crf<<2, ra, rb, XO31CMPL, false)
}
func LWZX(rd, ra, rb int) Inst  { return xForm(OpGroup31, rd, ra, rb, XO31LWZX, false) }
func STWX(rs, ra, rb int) Inst  { return xForm(OpGroup31, rs, ra, rb, XO31STWX, false) }
func ICBI(ra, rb int) Inst      { return xForm(OpGroup31, 0, ra, rb, XO31ICBI, false) }
func MFCR(rd int) Inst          { return xForm(OpGroup31, rd, 0, 0, XO31MFCR, false) }
func MTMSR(rs int) Inst         { return xForm(OpGroup31, rs, 0, 0, XO31MTMSR, false) }
func MFMSR(rd int) Inst         { return xForm(OpGroup31, rd, 0, 0, XO31MFMSR, false) }
func SYNC() Inst                { return xForm(OpGroup31, 0, 0, 0, XO31SYNC, false) }

func sprFields(spr uint32) (int, int) { return int(spr & 0x1F), int(spr >> 5 & 0x1F) }

func MFSPR(rd int, spr uint32) Inst {
	lo, hi := sprFields(spr)
	return xForm(OpGroup31, rd, lo, hi, XO31MFSPR, false)
}

func MTSPR(spr uint32, rs int) Inst {
	lo, hi := sprFields(spr)
	return xForm(OpGroup31, rs, lo, hi, XO31MTSPR, false)
}

func MFLR(rd int) Inst  { return MFSPR(rd, SPRLR) }
func MTLR(rs int) Inst  { return MTSPR(SPRLR, rs) }
func MTCTR(rs int) Inst { return MTSPR(SPRCTR, rs) }

func RLWINM(ra, rs int, sh, mb, me uint32) Inst {
	return Inst(OpRLWINM<<26 | uint32(rs)<<21 | uint32(ra)<<16 | sh<<11 | mb<<6 | me<<1)
}

func RLWIMI(ra, rs int, sh, mb, me uint32) Inst {
	return Inst(OpRLWIMI<<26 | uint32(rs)<<21 | uint32(ra)<<16 | sh<<11 | mb<<6 | me<<1)
}

func SRW(ra, rs, rb int) Inst   { return xForm(OpGroup31, rs, ra, rb, XO31SRW, false) }
func ADDZE(rd, ra int) Inst     { return xForm(OpGroup31, rd, ra, 0, XO31ADDZE, false) }
func ADDME(rd, ra int) Inst     { return xForm(OpGroup31, rd, ra, 0, XO31ADDME, false) }
func SUBFE(rd, ra, rb int) Inst { return xForm(OpGroup31, rd, ra, rb, XO31SUBFE, false) }
func SUBFZE(rd, ra int) Inst    { return xForm(OpGroup31, rd, ra, 0, XO31SUBFZE, false) }
func LWZUX(rd, ra, rb int) Inst { return xForm(OpGroup31, rd, ra, rb, XO31LWZUX, false) }
func STWUX(rs, ra, rb int) Inst { return xForm(OpGroup31, rs, ra, rb, XO31STWUX, false) }
func MFXER(rd int) Inst         { return MFSPR(rd, SPRXER) }
func MTXER(rs int) Inst         { return MTSPR(SPRXER, rs) }

func RLWNM(ra, rs, rb int, mb, me uint32) Inst {
	return Inst(OpRLWNM<<26 | uint32(rs)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | mb<<6 | me<<1)
}

// CRLogic encodes one of the condition register bit operations of group 19.
func CRLogic(xo uint32, bt, ba, bb int) Inst { return xForm(OpGroup19, bt, ba, bb, xo, false) }

func aForm(op uint32, fd, fa, fb, fc int, xo uint32) Inst {
	return Inst(op<<26 | uint32(fd)<<21 | uint32(fa)<<16 | uint32(fb)<<11 | uint32(fc)<<6 | xo<<1)
}

func FADD(fd, fa, fb int) Inst  { return aForm(OpGroup63, fd, fa, fb, 0, XOFADD) }
func FSUB(fd, fa, fb int) Inst  { return aForm(OpGroup63, fd, fa, fb, 0, XOFSUB) }
func FMUL(fd, fa, fc int) Inst  { return aForm(OpGroup63, fd, fa, 0, fc, XOFMUL) }
func FDIV(fd, fa, fb int) Inst  { return aForm(OpGroup63, fd, fa, fb, 0, XOFDIV) }
func FADDS(fd, fa, fb int) Inst { return aForm(OpGroup59, fd, fa, fb, 0, XOFADD) }
func FMR(fd, fb int) Inst       { return xForm(OpGroup63, fd, 0, fb, XO63FMR, false) }
func FNEG(fd, fb int) Inst      { return xForm(OpGroup63, fd, 0, fb, XO63FNEG, false) }

// B encodes a relative unconditional branch from pc to target.
func B(pc, target uint32, link bool) Inst {
	i := OpB<<26 | (target-pc)&0x03FFFFFC
	if link {
		i |= 1
	}
	return Inst(i)
}

// BC encodes a relative conditional branch from pc to target.
func BC(bo, bi uint32, pc, target uint32) Inst {
	return Inst(OpBC<<26 | bo<<21 | bi<<16 | (target-pc)&0xFFFC)
}

// Branch option encodings.
const (
	BOAlways  = 20
	BOIfTrue  = 12
	BOIfFalse = 4
	BODecNZ   = 16
	BODecZ    = 18
)

// Condition register bits within a field.
const (
	BitLT = 0
	BitGT = 1
	BitEQ = 2
	BitSO = 3
)

func BLR() Inst   { return xForm(OpGroup19, BOAlways, 0, 0, XO19BCLR, false) }
func BCTR() Inst  { return xForm(OpGroup19, BOAlways, 0, 0, XO19BCCTR, false) }
func BCTRL() Inst { return xForm(OpGroup19, BOAlways, 0, 0, XO19BCCTR, true) }
func RFI() Inst   { return xForm(OpGroup19, 0, 0, 0, XO19RFI, false) }
func SC() Inst    { return Inst(OpSC<<26 | 2) }
func NOP() Inst   { return ORI(0, 0, 0) }
