package ir

import (
	"fmt"
	"math"
	"math/bits"
)

const crEQ = 2

// RegisterSlot returns the execution-context slot a guest-state load or
// store node addresses.
func RegisterSlot(op Opcode, imm uint32) int {
	switch op {
	case LoadGReg, StoreGReg:
		return keyGPR + int(imm&31)
	case LoadFReg, StoreFReg:
		return keyFPR + int(imm&31)
	case LoadCR, StoreCR:
		return keyCR + int(imm&7)
	case LoadCarry, StoreCarry:
		return keyCarry
	case LoadCTR, StoreCTR:
		return keyCTR
	case LoadLR, StoreLR:
		return keyLR
	case LoadMSR:
		return keyMSR
	}
	panic(fmt.Sprintf("ir: %s has no register slot", op))
}

// EvalUnary computes a unary integer operation.
func EvalUnary(op Opcode, x uint32) uint32 {
	switch op {
	case Not:
		return ^x
	case Neg:
		return -x
	case SExt8:
		return uint32(int32(int8(x)))
	case SExt16:
		return uint32(int32(int16(x)))
	case Cntlzw:
		return uint32(bits.LeadingZeros32(x))
	}
	panic(fmt.Sprintf("ir: %s is not a unary integer operation", op))
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// CompareCR returns the LT/GT/EQ field value of comparing x with y.
func CompareCR(signed bool, x, y uint32) uint32 {
	lt, gt := x < y, x > y
	if signed {
		lt, gt = int32(x) < int32(y), int32(x) > int32(y)
	}
	switch {
	case lt:
		return 8
	case gt:
		return 4
	}
	return crEQ
}

// EvalBinary computes a binary integer operation. Shift amounts are taken
// modulo 32.
func EvalBinary(op Opcode, x, y uint32) uint32 {
	switch op {
	case Add:
		return x + y
	case Sub:
		return x - y
	case Mul:
		return x * y
	case And:
		return x & y
	case Or:
		return x | y
	case Xor:
		return x ^ y
	case Shl:
		return x << (y & 31)
	case Shrl:
		return x >> (y & 31)
	case Sarl:
		return uint32(int32(x) >> (y & 31))
	case Rol:
		return bits.RotateLeft32(x, int(y&31))
	case ICmpEq:
		return b2u(x == y)
	case ICmpNe:
		return b2u(x != y)
	case ICmpUgt:
		return b2u(x > y)
	case ICmpUlt:
		return b2u(x < y)
	case ICmpUge:
		return b2u(x >= y)
	case ICmpUle:
		return b2u(x <= y)
	case ICmpSgt:
		return b2u(int32(x) > int32(y))
	case ICmpSlt:
		return b2u(int32(x) < int32(y))
	case ICmpSge:
		return b2u(int32(x) >= int32(y))
	case ICmpSle:
		return b2u(int32(x) <= int32(y))
	case ICmpCRSigned:
		return CompareCR(true, x, y)
	case ICmpCRUnsigned:
		return CompareCR(false, x, y)
	}
	panic(fmt.Sprintf("ir: %s is not a binary integer operation", op))
}

// EvalFloat computes a floating point operation on double bit patterns.
// Single values travel as the low 32 bits.
func EvalFloat(op Opcode, x, y uint64) uint64 {
	fx, fy := math.Float64frombits(x), math.Float64frombits(y)
	switch op {
	case FAdd:
		return math.Float64bits(fx + fy)
	case FSub:
		return math.Float64bits(fx - fy)
	case FMul:
		return math.Float64bits(fx * fy)
	case FDiv:
		return math.Float64bits(fx / fy)
	case FNeg:
		return x ^ 1<<63
	case FRoundSingle:
		return math.Float64bits(float64(float32(fx)))
	case FDoubleToSingle:
		return uint64(math.Float32bits(float32(fx)))
	case FSingleToDouble:
		return math.Float64bits(float64(math.Float32frombits(uint32(x))))
	}
	panic(fmt.Sprintf("ir: %s is not a floating point operation", op))
}

// EvalEnv is the guest the reference evaluator runs against.
type EvalEnv interface {
	Register(slot int) uint64
	SetRegister(slot int, v uint64)
	// ReadMemory and WriteMemory raise a DSI themselves when the access
	// faults.
	ReadMemory(addr uint32, size int) (uint64, bool)
	WriteMemory(addr uint32, size int, v uint64) bool
	Interpret(raw, pc uint32)
	// Guard reports whether execution must leave the unit at a guard.
	Guard(op Opcode, pc uint32) bool
}

type ExitKind uint8

const (
	// ExitBranch leaves for Outcome.Target.
	ExitBranch ExitKind = iota
	// ExitGuard leaves at a guard that fired. Outcome.PC is the guarded
	// instruction.
	ExitGuard
	// ExitInterpreterBranch continues at the NPC the interpreter set.
	ExitInterpreterBranch
	// ExitEnd means the unit ran off its last node.
	ExitEnd
)

type Outcome struct {
	Kind   ExitKind
	Target uint32
	PC     uint32
	Op     Opcode
	Cycles uint32
}

// Eval interprets u against env. When live is non-nil, unused nodes are
// skipped exactly as the code generator skips them.
func Eval(u *Unit, live *Liveness, env EvalEnv) Outcome {
	vals := make([]uint64, len(u.Nodes))
	arg := func(r Ref) uint64 { return vals[r] }
	for i := 1; i < len(u.Nodes); i++ {
		r := Ref(i)
		n := u.Nodes[i]
		if n.Op == Nop || n.Op == Tramp || (live != nil && !live.Used(r)) {
			continue
		}
		x, y := u.Op1(r), u.Op2(r)
		switch op := n.Op; {
		case op.IsConst():
			vals[i] = u.Const(r)
		case op >= LoadGReg && op <= LoadMSR:
			vals[i] = env.Register(RegisterSlot(op, n.Imm))
		case op >= StoreGReg && op <= StoreLR:
			env.SetRegister(RegisterSlot(op, n.Imm), arg(x))
		case op >= Load8 && op <= Load64:
			v, ok := env.ReadMemory(uint32(arg(x)), AccessSize(op))
			if !ok {
				v = 0
			}
			vals[i] = v
		case op >= Store8 && op <= Store64:
			env.WriteMemory(uint32(arg(y)), AccessSize(op), arg(x))
		case op >= Not && op <= Cntlzw:
			vals[i] = uint64(EvalUnary(op, uint32(arg(x))))
		case op >= Add && op <= ICmpCRUnsigned:
			vals[i] = uint64(EvalBinary(op, uint32(arg(x)), uint32(arg(y))))
		case op == FNeg || (op >= FRoundSingle && op <= FSingleToDouble):
			vals[i] = EvalFloat(op, arg(x), 0)
		case op >= FAdd && op <= FDiv:
			vals[i] = EvalFloat(op, arg(x), arg(y))
		case op == InterpreterFallback:
			raw, pc := u.FallbackInstruction(r)
			env.Interpret(raw, pc)
		case op == InterpreterBranch:
			return Outcome{Kind: ExitInterpreterBranch, Cycles: n.Imm}
		case op == BranchUncond:
			return Outcome{Kind: ExitBranch, Target: uint32(arg(x)), Cycles: n.Imm}
		case op == BranchCond:
			if uint32(arg(x)) != 0 {
				return Outcome{Kind: ExitBranch, Target: uint32(arg(y)), Cycles: n.Imm}
			}
		case op >= FPExceptionCheck && op <= SystemCall:
			if env.Guard(op, n.Imm) {
				return Outcome{Kind: ExitGuard, PC: n.Imm, Op: op}
			}
		default:
			panic(fmt.Sprintf("ir: cannot evaluate %s", op))
		}
	}
	return Outcome{Kind: ExitEnd}
}
