package ppc

import "fmt"

// Disassemble renders an instruction word located at pc in a compact
// assembler syntax. Forms it does not know are printed by mnemonic only.
func Disassemble(i Inst, pc uint32) string {
	info := Classify(i)
	if info.Has(FlagInvalid) {
		return fmt.Sprintf(".long 0x%08x", uint32(i))
	}
	name := info.Name
	switch i.OPCD() {
	case OpADDI, OpADDIS, OpADDIC, OpADDICR, OpSUBFIC, OpMULLI:
		if i.OPCD() == OpADDI && i.RA() == 0 {
			return fmt.Sprintf("li r%d, %d", i.RD(), i.SIMM())
		}
		return fmt.Sprintf("%s r%d, r%d, %d", name, i.RD(), i.RA(), i.SIMM())
	case OpORI, OpORIS, OpXORI, OpXORIS, OpANDIR, OpANDISR:
		if uint32(i) == uint32(NOP()) {
			return "nop"
		}
		return fmt.Sprintf("%s r%d, r%d, 0x%x", name, i.RA(), i.RS(), i.UIMM())
	case OpCMPI:
		return fmt.Sprintf("cmpwi cr%d, r%d, %d", i.CRFD(), i.RA(), i.SIMM())
	case OpCMPLI:
		return fmt.Sprintf("cmplwi cr%d, r%d, 0x%x", i.CRFD(), i.RA(), i.UIMM())
	case OpRLWINM, OpRLWIMI:
		return fmt.Sprintf("%s r%d, r%d, %d, %d, %d", name, i.RA(), i.RS(), i.SH(), i.MB(), i.ME())
	case OpB:
		suffix := ""
		if i.LK() {
			suffix = "l"
		}
		return fmt.Sprintf("b%s 0x%08x", suffix, i.BranchTarget(pc))
	case OpBC:
		return fmt.Sprintf("bc %d, %d, 0x%08x", i.BO(), i.BI(), i.CondTarget(pc))
	case OpSC:
		return "sc"
	case OpLWZ, OpLWZU, OpLBZ, OpLBZU, OpLHZ, OpLHZU, OpLHA, OpLHAU,
		OpSTW, OpSTWU, OpSTB, OpSTBU, OpSTH, OpSTHU, OpLMW, OpSTMW:
		return fmt.Sprintf("%s r%d, %d(r%d)", name, i.RD(), i.SIMM(), i.RA())
	case OpLFS, OpLFSU, OpLFD, OpLFDU, OpSTFS, OpSTFSU, OpSTFD, OpSTFDU:
		return fmt.Sprintf("%s f%d, %d(r%d)", name, i.RD(), i.SIMM(), i.RA())
	case OpGroup19:
		switch i.XO() {
		case XO19BCLR, XO19BCCTR:
			if i.LK() {
				name += "l"
			}
			if i.BO() == BOAlways {
				return name[:1] + name[3:]
			}
			return fmt.Sprintf("%s %d, %d", name, i.BO(), i.BI())
		}
		return name
	case OpGroup31:
		switch i.XO() {
		case XO31CMP, XO31CMPL:
			return fmt.Sprintf("%sw cr%d, r%d, r%d", name, i.CRFD(), i.RA(), i.RB())
		case XO31MFSPR:
			return fmt.Sprintf("mfspr r%d, %d", i.RD(), i.SPR())
		case XO31MTSPR:
			return fmt.Sprintf("mtspr %d, r%d", i.SPR(), i.RS())
		case XO31MFCR, XO31MFMSR:
			return fmt.Sprintf("%s r%d", name, i.RD())
		case XO31MTMSR:
			return fmt.Sprintf("%s r%d", name, i.RS())
		case XO31SRAWI:
			return fmt.Sprintf("srawi r%d, r%d, %d", i.RA(), i.RS(), i.SH())
		case XO31EXTSB, XO31EXTSH, XO31CNTLZW:
			return fmt.Sprintf("%s r%d, r%d", name, i.RA(), i.RS())
		case XO31SYNC, XO31EIEIO:
			return name
		case XO31ICBI, XO31DCBF, XO31DCBST, XO31DCBT, XO31DCBZ:
			return fmt.Sprintf("%s r%d, r%d", name, i.RA(), i.RB())
		case XO31AND, XO31ANDC, XO31OR, XO31ORC, XO31XOR, XO31NOR, XO31NAND, XO31EQV,
			XO31SLW, XO31SRW, XO31SRAW:
			return fmt.Sprintf("%s r%d, r%d, r%d", name, i.RA(), i.RS(), i.RB())
		}
		if i.Rc() {
			name += "."
		}
		return fmt.Sprintf("%s r%d, r%d, r%d", name, i.RD(), i.RA(), i.RB())
	case OpGroup59, OpGroup63:
		if i.XO() == XO63FCMPU && i.OPCD() == OpGroup63 {
			return fmt.Sprintf("fcmpu cr%d, f%d, f%d", i.CRFD(), i.RA(), i.RB())
		}
		switch name {
		case "fmul", "fmuls":
			return fmt.Sprintf("%s f%d, f%d, f%d", name, i.RD(), i.RA(), i.RC())
		case "fmr", "fneg", "fabs", "frsp":
			return fmt.Sprintf("%s f%d, f%d", name, i.RD(), i.RB())
		}
		return fmt.Sprintf("%s f%d, f%d, f%d", name, i.RD(), i.RA(), i.RB())
	}
	return name
}
