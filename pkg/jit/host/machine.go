package host

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"gekkojit/pkg/guest"
)

// Env is the runtime generated code calls back into.
type Env interface {
	// ReadDirect and WriteDirect access addresses already proven to be RAM.
	ReadDirect(addr uint32, size int) uint64
	WriteDirect(addr uint32, size int, v uint64)
	// ReadChecked and WriteChecked raise a DSI in the execution context
	// when the access faults.
	ReadChecked(addr uint32, size int) uint64
	WriteChecked(addr uint32, size int, v uint64)
	Interpret(raw, pc uint32)
	BreakpointHit(pc uint32) bool
	StopRequested() bool
}

type ExitKind uint8

const (
	// ExitDispatch asks the dispatcher to continue at the context PC.
	ExitDispatch ExitKind = iota
	// ExitTimeout means a checked entry found the downcount exhausted or a
	// stop requested. The context PC is the block that was about to run.
	ExitTimeout
	// ExitException leaves with exceptions pending and PC at the faulting
	// instruction.
	ExitException
	// ExitBreakpoint stops before the instruction at the context PC.
	ExitBreakpoint
)

var exitNames = [...]string{"dispatch", "timeout", "exception", "breakpoint"}

func (k ExitKind) String() string {
	if int(k) < len(exitNames) {
		return exitNames[k]
	}
	return fmt.Sprintf("exit(%d)", byte(k))
}

// Exit describes how a run of generated code ended. Entry is the code
// offset of the last block entered, which lets the dispatcher attribute
// the exit to a block.
type Exit struct {
	Kind  ExitKind
	Entry int
}

// poison is written to caller-saved registers after every call out.
const poison = 0xDEADBEEFDEADBEEF

// Machine executes host code. Its register file and spill area persist
// between runs but carry no meaning across blocks.
type Machine struct {
	regs  [NumRegs]uint64
	spill [NumSpillSlots]uint64

	// Executed counts instructions run, for statistics.
	Executed uint64
}

func (m *Machine) clobber() {
	for r := R0; r <= R3; r++ {
		m.regs[r] = poison
	}
}

func le32(code []byte, at int) uint32 { return binary.LittleEndian.Uint32(code[at:]) }

func alu(op Op, x, y uint64) uint64 {
	a, b := uint32(x), uint32(y)
	var v uint32
	switch op {
	case OpAddRR:
		v = a + b
	case OpSubRR:
		v = a - b
	case OpMulRR:
		v = a * b
	case OpAndRR:
		v = a & b
	case OpOrRR:
		v = a | b
	case OpXorRR:
		v = a ^ b
	case OpShlRR:
		v = a << (b & 31)
	case OpShrRR:
		v = a >> (b & 31)
	case OpSarRR:
		v = uint32(int32(a) >> (b & 31))
	case OpRolRR:
		v = bits.RotateLeft32(a, int(b&31))
	default:
		panic(fmt.Sprintf("host: %s is not an ALU operation", op))
	}
	return uint64(v)
}

func setcc(c Cond, x, y uint64) uint64 {
	a, b := uint32(x), uint32(y)
	var r bool
	switch c {
	case CondEq:
		r = a == b
	case CondNe:
		r = a != b
	case CondUgt:
		r = a > b
	case CondUlt:
		r = a < b
	case CondUge:
		r = a >= b
	case CondUle:
		r = a <= b
	case CondSgt:
		r = int32(a) > int32(b)
	case CondSlt:
		r = int32(a) < int32(b)
	case CondSge:
		r = int32(a) >= int32(b)
	case CondSle:
		r = int32(a) <= int32(b)
	}
	if r {
		return 1
	}
	return 0
}

func cmpcr(signed bool, x, y uint64) uint64 {
	a, b := uint32(x), uint32(y)
	lt, gt := a < b, a > b
	if signed {
		lt, gt = int32(a) < int32(b), int32(a) > int32(b)
	}
	switch {
	case lt:
		return guest.CRLT
	case gt:
		return guest.CRGT
	}
	return guest.CREQ
}

func fpu(op Op, x, y uint64) uint64 {
	a, b := math.Float64frombits(x), math.Float64frombits(y)
	switch op {
	case OpFAdd:
		return math.Float64bits(a + b)
	case OpFSub:
		return math.Float64bits(a - b)
	case OpFMul:
		return math.Float64bits(a * b)
	case OpFDiv:
		return math.Float64bits(a / b)
	case OpFNeg:
		return x ^ 1<<63
	case OpFRound:
		return math.Float64bits(float64(float32(a)))
	case OpF2S:
		return uint64(math.Float32bits(float32(a)))
	case OpS2F:
		return math.Float64bits(float64(math.Float32frombits(uint32(x))))
	}
	panic(fmt.Sprintf("host: %s is not a floating point operation", op))
}

// Run executes code from entry until it leaves for the dispatcher. consts
// is the constant region OpLoadConst indexes.
func (m *Machine) Run(code []byte, consts []uint64, entry int, ctx *guest.State, env Env) Exit {
	pc := entry
	exit := Exit{Entry: entry}
	r := &m.regs
	for {
		op := Op(code[pc])
		next := pc + op.Len()
		m.Executed++
		switch op {
		case OpMovRI:
			r[code[pc+1]] = uint64(le32(code, pc+2))
		case OpMovRR:
			r[code[pc+1]] = r[code[pc+2]]
		case OpLoadConst:
			r[code[pc+1]] = consts[le32(code, pc+2)]
		case OpLoadCtx:
			r[code[pc+1]] = ctx.Load(guest.Slot(code[pc+2]))
		case OpStoreCtx:
			ctx.Store(guest.Slot(code[pc+1]), r[code[pc+2]])
		case OpStoreCtxI:
			ctx.Store(guest.Slot(code[pc+1]), uint64(le32(code, pc+2)))
		case OpSpill:
			m.spill[code[pc+1]] = r[code[pc+2]]
		case OpReload:
			r[code[pc+1]] = m.spill[code[pc+2]]

		case OpAddRR, OpSubRR, OpMulRR, OpAndRR, OpOrRR, OpXorRR, OpShlRR, OpShrRR, OpSarRR, OpRolRR:
			d := code[pc+1]
			r[d] = alu(op, r[d], r[code[pc+2]])
		case OpAddRI, OpSubRI, OpMulRI, OpAndRI, OpOrRI, OpXorRI, OpShlRI, OpShrRI, OpSarRI, OpRolRI:
			d := code[pc+1]
			r[d] = alu(op-RIOffset, r[d], uint64(le32(code, pc+2)))
		case OpNot:
			r[code[pc+1]] = uint64(^uint32(r[code[pc+1]]))
		case OpNeg:
			r[code[pc+1]] = uint64(-uint32(r[code[pc+1]]))
		case OpSext8:
			r[code[pc+1]] = uint64(uint32(int32(int8(r[code[pc+1]]))))
		case OpSext16:
			r[code[pc+1]] = uint64(uint32(int32(int16(r[code[pc+1]]))))
		case OpClz:
			r[code[pc+1]] = uint64(bits.LeadingZeros32(uint32(r[code[pc+1]])))

		case OpSetCC:
			r[code[pc+2]] = setcc(Cond(code[pc+1]), r[code[pc+3]], r[code[pc+4]])
		case OpSetCCI:
			r[code[pc+2]] = setcc(Cond(code[pc+1]), r[code[pc+3]], uint64(le32(code, pc+4)))
		case OpCmpCR:
			r[code[pc+2]] = cmpcr(code[pc+1] != 0, r[code[pc+3]], r[code[pc+4]])
		case OpCmpCRI:
			r[code[pc+2]] = cmpcr(code[pc+1] != 0, r[code[pc+3]], uint64(le32(code, pc+4)))

		case OpFAdd, OpFSub, OpFMul, OpFDiv:
			d := code[pc+1]
			r[d] = fpu(op, r[d], r[code[pc+2]])
		case OpFNeg, OpFRound, OpF2S, OpS2F:
			d := code[pc+1]
			r[d] = fpu(op, r[d], 0)

		case OpLoadMem:
			addr := uint32(r[code[pc+3]]) + le32(code, pc+4)
			r[code[pc+2]] = env.ReadDirect(addr, int(code[pc+1]))
		case OpLoadMemAbs:
			r[code[pc+2]] = env.ReadDirect(le32(code, pc+3), int(code[pc+1]))
		case OpStoreMem:
			addr := uint32(r[code[pc+3]]) + le32(code, pc+4)
			env.WriteDirect(addr, int(code[pc+1]), r[code[pc+2]])
		case OpStoreMemAbs:
			env.WriteDirect(le32(code, pc+3), int(code[pc+1]), r[code[pc+2]])
		case OpCallLoad:
			v := env.ReadChecked(uint32(r[code[pc+3]]), int(code[pc+1]))
			m.clobber()
			r[code[pc+2]] = v
		case OpCallStore:
			env.WriteChecked(uint32(r[code[pc+3]]), int(code[pc+1]), r[code[pc+2]])
			m.clobber()
		case OpInterp:
			env.Interpret(le32(code, pc+1), le32(code, pc+5))
			m.clobber()

		case OpCheckDowncount:
			if ctx.Downcount <= 0 || env.StopRequested() {
				ctx.PC = le32(code, pc+1)
				exit.Kind = ExitTimeout
				return exit
			}
		case OpSubDowncount:
			ctx.Downcount -= int64(le32(code, pc+1))
		case OpGuardFP:
			if !ctx.FPEnabled() {
				ctx.Raise(guest.ExceptionFPUnavailable)
				ctx.PC = le32(code, pc+1)
				exit.Kind = ExitException
				return exit
			}
		case OpGuardDSI:
			if ctx.Exceptions&guest.ExceptionDSI != 0 {
				ctx.PC = le32(code, pc+1)
				exit.Kind = ExitException
				return exit
			}
		case OpGuardAny:
			if ctx.Exceptions != 0 {
				ctx.PC = le32(code, pc+1)
				exit.Kind = ExitException
				return exit
			}
		case OpGuardBreak:
			if at := le32(code, pc+1); env.BreakpointHit(at) {
				ctx.PC = at
				exit.Kind = ExitBreakpoint
				return exit
			}
		case OpSyscall:
			ctx.Raise(guest.ExceptionSyscall)
			ctx.PC = le32(code, pc+1)
			exit.Kind = ExitException
			return exit

		case OpJz:
			if r[code[pc+1]] == 0 {
				next += int(int32(le32(code, pc+2)))
			}
		case OpJnz:
			if r[code[pc+1]] != 0 {
				next += int(int32(le32(code, pc+2)))
			}
		case OpJmp:
			next += int(int32(le32(code, pc+1)))

		case OpLink:
			if code[pc+1] != 0 {
				next = int(le32(code, pc+6))
				exit.Entry = next
				break
			}
			ctx.PC = le32(code, pc+2)
			exit.Kind = ExitDispatch
			return exit
		case OpExitReg:
			ctx.PC = uint32(r[code[pc+1]])
			exit.Kind = ExitDispatch
			return exit
		case OpExitNPC:
			ctx.PC = ctx.NPC
			exit.Kind = ExitDispatch
			return exit

		default:
			panic(fmt.Sprintf("host: invalid opcode 0x%02x at offset %d", byte(op), pc))
		}
		pc = next
	}
}
