package ppc

// Flag describes properties of an instruction relevant to block formation.
type Flag uint16

const (
	// FlagBranch marks instructions that may change the program counter.
	FlagBranch Flag = 1 << iota
	// FlagEndBlock marks instructions after which a translation unit must stop.
	FlagEndBlock
	// FlagFloat marks instructions that require MSR[FP].
	FlagFloat
	FlagLoad
	FlagStore
	// FlagInvalid marks words that do not decode to a supported instruction.
	FlagInvalid
)

// Info is the static classification of one instruction word.
type Info struct {
	Name   string
	Flags  Flag
	Cycles uint32
}

func (i Info) Has(f Flag) bool { return i.Flags&f != 0 }

var primary = map[uint32]Info{
	OpTWI:    {"twi", FlagBranch | FlagEndBlock, 2},
	OpMULLI:  {"mulli", 0, 3},
	OpSUBFIC: {"subfic", 0, 1},
	OpCMPLI:  {"cmpli", 0, 1},
	OpCMPI:   {"cmpi", 0, 1},
	OpADDIC:  {"addic", 0, 1},
	OpADDICR: {"addic.", 0, 1},
	OpADDI:   {"addi", 0, 1},
	OpADDIS:  {"addis", 0, 1},
	OpBC:     {"bc", FlagBranch | FlagEndBlock, 1},
	OpSC:     {"sc", FlagBranch | FlagEndBlock, 2},
	OpB:      {"b", FlagBranch | FlagEndBlock, 1},
	OpRLWIMI: {"rlwimi", 0, 1},
	OpRLWINM: {"rlwinm", 0, 1},
	OpRLWNM:  {"rlwnm", 0, 1},
	OpORI:    {"ori", 0, 1},
	OpORIS:   {"oris", 0, 1},
	OpXORI:   {"xori", 0, 1},
	OpXORIS:  {"xoris", 0, 1},
	OpANDIR:  {"andi.", 0, 1},
	OpANDISR: {"andis.", 0, 1},
	OpLWZ:    {"lwz", FlagLoad, 2},
	OpLWZU:   {"lwzu", FlagLoad, 2},
	OpLBZ:    {"lbz", FlagLoad, 2},
	OpLBZU:   {"lbzu", FlagLoad, 2},
	OpSTW:    {"stw", FlagStore, 2},
	OpSTWU:   {"stwu", FlagStore, 2},
	OpSTB:    {"stb", FlagStore, 2},
	OpSTBU:   {"stbu", FlagStore, 2},
	OpLHZ:    {"lhz", FlagLoad, 2},
	OpLHZU:   {"lhzu", FlagLoad, 2},
	OpLHA:    {"lha", FlagLoad, 2},
	OpLHAU:   {"lhau", FlagLoad, 2},
	OpSTH:    {"sth", FlagStore, 2},
	OpSTHU:   {"sthu", FlagStore, 2},
	OpLMW:    {"lmw", FlagLoad, 11},
	OpSTMW:   {"stmw", FlagStore, 11},
	OpLFS:    {"lfs", FlagLoad | FlagFloat, 2},
	OpLFSU:   {"lfsu", FlagLoad | FlagFloat, 2},
	OpLFD:    {"lfd", FlagLoad | FlagFloat, 2},
	OpLFDU:   {"lfdu", FlagLoad | FlagFloat, 2},
	OpSTFS:   {"stfs", FlagStore | FlagFloat, 2},
	OpSTFSU:  {"stfsu", FlagStore | FlagFloat, 2},
	OpSTFD:   {"stfd", FlagStore | FlagFloat, 2},
	OpSTFDU:  {"stfdu", FlagStore | FlagFloat, 2},
}

var group19 = map[uint32]Info{
	XO19MCRF:   {"mcrf", 0, 1},
	XO19BCLR:   {"bclr", FlagBranch | FlagEndBlock, 1},
	XO19CRNOR:  {"crnor", 0, 1},
	XO19RFI:    {"rfi", FlagBranch | FlagEndBlock, 2},
	XO19CRANDC: {"crandc", 0, 1},
	XO19ISYNC:  {"isync", 0, 1},
	XO19CRXOR:  {"crxor", 0, 1},
	XO19CRNAND: {"crnand", 0, 1},
	XO19CRAND:  {"crand", 0, 1},
	XO19CREQV:  {"creqv", 0, 1},
	XO19CRORC:  {"crorc", 0, 1},
	XO19CROR:   {"cror", 0, 1},
	XO19BCCTR:  {"bcctr", FlagBranch | FlagEndBlock, 1},
}

var group31 = map[uint32]Info{
	XO31CMP:    {"cmp", 0, 1},
	XO31TW:     {"tw", FlagBranch | FlagEndBlock, 2},
	XO31MFCR:   {"mfcr", 0, 1},
	XO31LWZX:   {"lwzx", FlagLoad, 2},
	XO31SLW:    {"slw", 0, 1},
	XO31CNTLZW: {"cntlzw", 0, 1},
	XO31AND:    {"and", 0, 1},
	XO31CMPL:   {"cmpl", 0, 1},
	XO31DCBST:  {"dcbst", 0, 1},
	XO31LWZUX:  {"lwzux", FlagLoad, 2},
	XO31ANDC:   {"andc", 0, 1},
	XO31MFMSR:  {"mfmsr", 0, 1},
	XO31DCBF:   {"dcbf", 0, 1},
	XO31LBZX:   {"lbzx", FlagLoad, 2},
	XO31LBZUX:  {"lbzux", FlagLoad, 2},
	XO31NOR:    {"nor", 0, 1},
	XO31MTCRF:  {"mtcrf", 0, 1},
	XO31MTMSR:  {"mtmsr", FlagEndBlock, 1},
	XO31STWX:   {"stwx", FlagStore, 2},
	XO31STWUX:  {"stwux", FlagStore, 2},
	XO31STBX:   {"stbx", FlagStore, 2},
	XO31STBUX:  {"stbux", FlagStore, 2},
	XO31DCBT:   {"dcbt", 0, 1},
	XO31LHZX:   {"lhzx", FlagLoad, 2},
	XO31EQV:    {"eqv", 0, 1},
	XO31XOR:    {"xor", 0, 1},
	XO31MFSPR:  {"mfspr", 0, 1},
	XO31LHAX:   {"lhax", FlagLoad, 2},
	XO31STHX:   {"sthx", FlagStore, 2},
	XO31ORC:    {"orc", 0, 1},
	XO31OR:     {"or", 0, 1},
	XO31MTSPR:  {"mtspr", 0, 1},
	XO31NAND:   {"nand", 0, 1},
	XO31SRW:    {"srw", 0, 1},
	XO31SYNC:   {"sync", 0, 1},
	XO31SRAW:   {"sraw", 0, 1},
	XO31SRAWI:  {"srawi", 0, 1},
	XO31EIEIO:  {"eieio", 0, 1},
	XO31EXTSH:  {"extsh", 0, 1},
	XO31EXTSB:  {"extsb", 0, 1},
	XO31ICBI:   {"icbi", FlagEndBlock, 2},
	XO31DCBZ:   {"dcbz", FlagStore, 3},
}

// XO-form arithmetic, keyed by the 9-bit extended opcode.
var group31Arith = map[uint32]Info{
	XO31SUBFC:  {"subfc", 0, 1},
	XO31ADDC:   {"addc", 0, 1},
	XO31MULHWU: {"mulhwu", 0, 5},
	XO31SUBF:   {"subf", 0, 1},
	XO31MULHW:  {"mulhw", 0, 5},
	XO31NEG:    {"neg", 0, 1},
	XO31SUBFE:  {"subfe", 0, 1},
	XO31ADDE:   {"adde", 0, 1},
	XO31SUBFZE: {"subfze", 0, 1},
	XO31ADDZE:  {"addze", 0, 1},
	XO31ADDME:  {"addme", 0, 1},
	XO31MULLW:  {"mullw", 0, 5},
	XO31ADD:    {"add", 0, 1},
	XO31DIVWU:  {"divwu", 0, 19},
	XO31DIVW:   {"divw", 0, 19},
}

var group59 = map[uint32]Info{
	XOFDIV: {"fdivs", FlagFloat, 17},
	XOFSUB: {"fsubs", FlagFloat, 1},
	XOFADD: {"fadds", FlagFloat, 1},
	XOFMUL: {"fmuls", FlagFloat, 1},
}

var group63A = map[uint32]Info{
	XOFDIV: {"fdiv", FlagFloat, 31},
	XOFSUB: {"fsub", FlagFloat, 1},
	XOFADD: {"fadd", FlagFloat, 1},
	XOFMUL: {"fmul", FlagFloat, 2},
}

var group63X = map[uint32]Info{
	XO63FCMPU: {"fcmpu", FlagFloat, 1},
	XO63FRSP:  {"frsp", FlagFloat, 1},
	XO63FNEG:  {"fneg", FlagFloat, 1},
	XO63FMR:   {"fmr", FlagFloat, 1},
	XO63FABS:  {"fabs", FlagFloat, 1},
}

var invalid = Info{Name: "(invalid)", Flags: FlagInvalid | FlagEndBlock, Cycles: 1}

// Classify returns the static properties of an instruction word.
func Classify(i Inst) Info {
	var (
		info Info
		ok   bool
	)
	switch i.OPCD() {
	case OpGroup19:
		info, ok = group19[i.XO()]
	case OpGroup31:
		if info, ok = group31[i.XO()]; !ok {
			info, ok = group31Arith[i.XOArith()]
		}
	case OpGroup59:
		info, ok = group59[i.XOA()]
	case OpGroup63:
		if info, ok = group63X[i.XO()]; !ok {
			info, ok = group63A[i.XOA()]
		}
	default:
		info, ok = primary[i.OPCD()]
	}
	if !ok {
		return invalid
	}
	return info
}
