// Package host defines the code format the translator generates: a compact
// byte-encoded register machine with eight 64-bit registers, spill slots,
// a constant region, patchable link sites and calls back into the runtime.
package host

import (
	"encoding/binary"
	"fmt"
	"strings"
)

type Reg byte

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7

	NumRegs = 8
)

// CallerSaved reports whether calls out of generated code clobber r.
func (r Reg) CallerSaved() bool { return r <= R3 }

func (r Reg) String() string { return fmt.Sprintf("r%d", byte(r)) }

// NumSpillSlots is the number of spill slots a block may use.
const NumSpillSlots = 256

type Op byte

const (
	OpInvalid Op = iota

	OpMovRI     // dst imm32
	OpMovRR     // dst src
	OpLoadConst // dst const-index32
	OpLoadCtx   // dst slot
	OpStoreCtx  // slot src
	OpStoreCtxI // slot imm32
	OpSpill     // spill src
	OpReload    // dst spill

	// Integer ALU, 32-bit results zero-extended.
	OpAddRR
	OpSubRR
	OpMulRR
	OpAndRR
	OpOrRR
	OpXorRR
	OpShlRR
	OpShrRR
	OpSarRR
	OpRolRR
	OpAddRI
	OpSubRI
	OpMulRI
	OpAndRI
	OpOrRI
	OpXorRI
	OpShlRI
	OpShrRI
	OpSarRI
	OpRolRI
	OpNot
	OpNeg
	OpSext8
	OpSext16
	OpClz

	OpSetCC  // cond dst a b
	OpSetCCI // cond dst a imm32
	OpCmpCR  // signed dst a b
	OpCmpCRI // signed dst a imm32

	// Floating point on double bit patterns.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFRound // round to single precision, keep double format
	OpF2S    // double to single bit pattern
	OpS2F    // single bit pattern to double

	OpLoadMem     // size dst base disp32
	OpLoadMemAbs  // size dst addr32
	OpStoreMem    // size src base disp32
	OpStoreMemAbs // size src addr32
	OpCallLoad    // size dst base
	OpCallStore   // size src base
	OpInterp      // raw32 pc32

	OpCheckDowncount // pc32
	OpSubDowncount   // cycles32
	OpGuardFP        // pc32
	OpGuardDSI       // pc32
	OpGuardAny       // pc32
	OpGuardBreak     // pc32
	OpSyscall        // pc32

	OpJz  // reg rel32
	OpJnz // reg rel32
	OpJmp // rel32

	OpLink    // linked target-pc32 code-offset32
	OpExitReg // reg
	OpExitNPC

	numOps
)

// Cond selects the relation computed by OpSetCC.
type Cond byte

const (
	CondEq Cond = iota
	CondNe
	CondUgt
	CondUlt
	CondUge
	CondUle
	CondSgt
	CondSlt
	CondSge
	CondSle
)

var condNames = [...]string{"eq", "ne", "ugt", "ult", "uge", "ule", "sgt", "slt", "sge", "sle"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", byte(c))
}

// Operand formats: r register, b byte, s context slot, p spill slot,
// c condition, i 32-bit immediate, d signed displacement.
type opInfo struct {
	name   string
	format string
}

var opInfos = [numOps]opInfo{
	OpInvalid:        {"invalid", ""},
	OpMovRI:          {"mov", "ri"},
	OpMovRR:          {"mov", "rr"},
	OpLoadConst:      {"ldconst", "ri"},
	OpLoadCtx:        {"ldctx", "rs"},
	OpStoreCtx:       {"stctx", "sr"},
	OpStoreCtxI:      {"stctx", "si"},
	OpSpill:          {"spill", "pr"},
	OpReload:         {"reload", "rp"},
	OpAddRR:          {"add", "rr"},
	OpSubRR:          {"sub", "rr"},
	OpMulRR:          {"mul", "rr"},
	OpAndRR:          {"and", "rr"},
	OpOrRR:           {"or", "rr"},
	OpXorRR:          {"xor", "rr"},
	OpShlRR:          {"shl", "rr"},
	OpShrRR:          {"shr", "rr"},
	OpSarRR:          {"sar", "rr"},
	OpRolRR:          {"rol", "rr"},
	OpAddRI:          {"add", "ri"},
	OpSubRI:          {"sub", "ri"},
	OpMulRI:          {"mul", "ri"},
	OpAndRI:          {"and", "ri"},
	OpOrRI:           {"or", "ri"},
	OpXorRI:          {"xor", "ri"},
	OpShlRI:          {"shl", "ri"},
	OpShrRI:          {"shr", "ri"},
	OpSarRI:          {"sar", "ri"},
	OpRolRI:          {"rol", "ri"},
	OpNot:            {"not", "r"},
	OpNeg:            {"neg", "r"},
	OpSext8:          {"sext8", "r"},
	OpSext16:         {"sext16", "r"},
	OpClz:            {"clz", "r"},
	OpSetCC:          {"set", "crrr"},
	OpSetCCI:         {"set", "crri"},
	OpCmpCR:          {"cmpcr", "brrr"},
	OpCmpCRI:         {"cmpcr", "brri"},
	OpFAdd:           {"fadd", "rr"},
	OpFSub:           {"fsub", "rr"},
	OpFMul:           {"fmul", "rr"},
	OpFDiv:           {"fdiv", "rr"},
	OpFNeg:           {"fneg", "r"},
	OpFRound:         {"fround", "r"},
	OpF2S:            {"f2s", "r"},
	OpS2F:            {"s2f", "r"},
	OpLoadMem:        {"ld", "brrd"},
	OpLoadMemAbs:     {"ld", "bri"},
	OpStoreMem:       {"st", "brrd"},
	OpStoreMemAbs:    {"st", "bri"},
	OpCallLoad:       {"call.ld", "brr"},
	OpCallStore:      {"call.st", "brr"},
	OpInterp:         {"call.interp", "ii"},
	OpCheckDowncount: {"chkdc", "i"},
	OpSubDowncount:   {"subdc", "i"},
	OpGuardFP:        {"guard.fp", "i"},
	OpGuardDSI:       {"guard.dsi", "i"},
	OpGuardAny:       {"guard.exc", "i"},
	OpGuardBreak:     {"guard.brk", "i"},
	OpSyscall:        {"syscall", "i"},
	OpJz:             {"jz", "rd"},
	OpJnz:            {"jnz", "rd"},
	OpJmp:            {"jmp", "d"},
	OpLink:           {"link", "bii"},
	OpExitReg:        {"exit", "r"},
	OpExitNPC:        {"exit.npc", ""},
}

func (op Op) String() string {
	if op < numOps {
		return opInfos[op].name
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

func formatSize(format string) int {
	n := 1
	for _, f := range format {
		if f == 'i' || f == 'd' {
			n += 4
		} else {
			n++
		}
	}
	return n
}

// Len returns the encoded length of an instruction with opcode op.
func (op Op) Len() int {
	if op >= numOps || op == OpInvalid {
		return 1
	}
	return formatSize(opInfos[op].format)
}

// LinkSize is the encoded length of a link site.
const LinkSize = 10

// Disassemble renders code starting at offset base, one instruction per
// line. Decoding stops at the first invalid opcode.
func Disassemble(code []byte, base int) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		op := Op(code[pc])
		if op == OpInvalid || op >= numOps || pc+op.Len() > len(code) {
			fmt.Fprintf(&sb, "%06x  .byte 0x%02x\n", base+pc, code[pc])
			break
		}
		fmt.Fprintf(&sb, "%06x  %-11s", base+pc, op)
		at := pc + 1
		for i, f := range opInfos[op].format {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte(' ')
			switch f {
			case 'r':
				fmt.Fprintf(&sb, "%s", Reg(code[at]))
			case 'c':
				fmt.Fprintf(&sb, "%s", Cond(code[at]))
			case 's':
				fmt.Fprintf(&sb, "ctx[%d]", code[at])
			case 'p':
				fmt.Fprintf(&sb, "spill[%d]", code[at])
			case 'b':
				fmt.Fprintf(&sb, "%d", code[at])
			case 'i':
				fmt.Fprintf(&sb, "0x%x", binary.LittleEndian.Uint32(code[at:]))
			case 'd':
				fmt.Fprintf(&sb, "%d", int32(binary.LittleEndian.Uint32(code[at:])))
			}
			if f == 'i' || f == 'd' {
				at += 4
			} else {
				at++
			}
		}
		sb.WriteByte('\n')
		pc += op.Len()
	}
	return sb.String()
}
