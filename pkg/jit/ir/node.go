// Package ir is the intermediate representation of one translation unit: a
// flat arena of fixed-size nodes whose operands are backward distances to
// earlier nodes. Node 0 is a sentinel, so a distance of zero means "no
// operand". Distances that do not fit in a byte go through a Tramp node.
package ir

import "fmt"

type Opcode uint8

const (
	Nop Opcode = iota

	// Zero-operand nodes.
	CInt              // Imm = 32-bit value
	CWide             // Imm = index into the immediate pool
	LoadGReg          // Imm = register
	LoadFReg          // Imm = register
	LoadCR            // Imm = field
	LoadCarry         //
	LoadCTR           //
	LoadLR            //
	LoadMSR           //
	FPExceptionCheck  // Imm = guest pc
	DSIExceptionCheck // Imm = guest pc
	ExceptionCheck    // Imm = guest pc
	BreakPointCheck   // Imm = guest pc
	SystemCall        // Imm = guest pc
	InterpreterBranch // Imm = cycles; continue at the NPC the interpreter computed
	InterpreterFallback
	Tramp // Imm = absolute index of the real operand

	// Unary nodes.
	Not
	Neg
	SExt8
	SExt16
	Cntlzw
	Load8  // A = address, Imm = MemChecked or 0
	Load16 //
	Load32 //
	Load64 //
	StoreGReg
	StoreFReg
	StoreCR
	StoreCarry
	StoreCTR
	StoreLR
	BranchUncond // A = target, Imm = cycles
	FNeg
	FRoundSingle
	FDoubleToSingle
	FSingleToDouble

	// Binary nodes.
	Add
	Sub
	Mul
	And
	Or
	Xor
	Shl
	Shrl
	Sarl
	Rol
	ICmpEq
	ICmpNe
	ICmpUgt
	ICmpUlt
	ICmpUge
	ICmpUle
	ICmpSgt
	ICmpSlt
	ICmpSge
	ICmpSle
	ICmpCRSigned
	ICmpCRUnsigned
	Store8  // A = value, B = address, Imm = MemChecked or 0
	Store16 //
	Store32 //
	Store64 //
	BranchCond // A = condition, B = target, Imm = cycles
	FAdd
	FSub
	FMul
	FDiv

	numOpcodes
)

// MemChecked marks a memory node whose address was not proven to be RAM.
const MemChecked = 1

// MaxDistance is the largest operand distance a node can encode.
const MaxDistance = 255

type opFlag uint16

const (
	// fEffect nodes are live whether or not anything consumes them.
	fEffect opFlag = 1 << iota
	fCommutative
	fAssociative
	fCompare
	fConst
	fExit
)

type opInfo struct {
	name  string
	arity uint8
	flags opFlag
}

var opTable = [numOpcodes]opInfo{
	Nop:                 {"Nop", 0, 0},
	CInt:                {"CInt", 0, fConst},
	CWide:               {"CWide", 0, fConst},
	LoadGReg:            {"LoadGReg", 0, 0},
	LoadFReg:            {"LoadFReg", 0, 0},
	LoadCR:              {"LoadCR", 0, 0},
	LoadCarry:           {"LoadCarry", 0, 0},
	LoadCTR:             {"LoadCTR", 0, 0},
	LoadLR:              {"LoadLR", 0, 0},
	LoadMSR:             {"LoadMSR", 0, 0},
	FPExceptionCheck:    {"FPExceptionCheck", 0, fEffect | fExit},
	DSIExceptionCheck:   {"DSIExceptionCheck", 0, fEffect | fExit},
	ExceptionCheck:      {"ExceptionCheck", 0, fEffect | fExit},
	BreakPointCheck:     {"BreakPointCheck", 0, fEffect | fExit},
	SystemCall:          {"SystemCall", 0, fEffect | fExit},
	InterpreterBranch:   {"InterpreterBranch", 0, fEffect | fExit},
	InterpreterFallback: {"InterpreterFallback", 0, fEffect},
	Tramp:               {"Tramp", 0, 0},

	Not:             {"Not", 1, 0},
	Neg:             {"Neg", 1, 0},
	SExt8:           {"SExt8", 1, 0},
	SExt16:          {"SExt16", 1, 0},
	Cntlzw:          {"Cntlzw", 1, 0},
	Load8:           {"Load8", 1, 0},
	Load16:          {"Load16", 1, 0},
	Load32:          {"Load32", 1, 0},
	Load64:          {"Load64", 1, 0},
	StoreGReg:       {"StoreGReg", 1, fEffect},
	StoreFReg:       {"StoreFReg", 1, fEffect},
	StoreCR:         {"StoreCR", 1, fEffect},
	StoreCarry:      {"StoreCarry", 1, fEffect},
	StoreCTR:        {"StoreCTR", 1, fEffect},
	StoreLR:         {"StoreLR", 1, fEffect},
	BranchUncond:    {"BranchUncond", 1, fEffect | fExit},
	FNeg:            {"FNeg", 1, 0},
	FRoundSingle:    {"FRoundSingle", 1, 0},
	FDoubleToSingle: {"FDoubleToSingle", 1, 0},
	FSingleToDouble: {"FSingleToDouble", 1, 0},

	Add:            {"Add", 2, fCommutative | fAssociative},
	Sub:            {"Sub", 2, 0},
	Mul:            {"Mul", 2, fCommutative | fAssociative},
	And:            {"And", 2, fCommutative | fAssociative},
	Or:             {"Or", 2, fCommutative | fAssociative},
	Xor:            {"Xor", 2, fCommutative | fAssociative},
	Shl:            {"Shl", 2, 0},
	Shrl:           {"Shrl", 2, 0},
	Sarl:           {"Sarl", 2, 0},
	Rol:            {"Rol", 2, 0},
	ICmpEq:         {"ICmpEq", 2, fCommutative | fCompare},
	ICmpNe:         {"ICmpNe", 2, fCommutative | fCompare},
	ICmpUgt:        {"ICmpUgt", 2, fCompare},
	ICmpUlt:        {"ICmpUlt", 2, fCompare},
	ICmpUge:        {"ICmpUge", 2, fCompare},
	ICmpUle:        {"ICmpUle", 2, fCompare},
	ICmpSgt:        {"ICmpSgt", 2, fCompare},
	ICmpSlt:        {"ICmpSlt", 2, fCompare},
	ICmpSge:        {"ICmpSge", 2, fCompare},
	ICmpSle:        {"ICmpSle", 2, fCompare},
	ICmpCRSigned:   {"ICmpCRSigned", 2, 0},
	ICmpCRUnsigned: {"ICmpCRUnsigned", 2, 0},
	Store8:         {"Store8", 2, fEffect},
	Store16:        {"Store16", 2, fEffect},
	Store32:        {"Store32", 2, fEffect},
	Store64:        {"Store64", 2, fEffect},
	BranchCond:     {"BranchCond", 2, fEffect | fExit},
	FAdd:           {"FAdd", 2, 0},
	FSub:           {"FSub", 2, 0},
	FMul:           {"FMul", 2, 0},
	FDiv:           {"FDiv", 2, 0},
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return opTable[op].name
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// Arity is the number of node operands op takes.
func (op Opcode) Arity() int { return int(opTable[op].arity) }

// HasEffect reports whether op is live even without consumers.
func (op Opcode) HasEffect() bool { return opTable[op].flags&fEffect != 0 }

// IsCompare reports whether op yields 0 or 1.
func (op Opcode) IsCompare() bool { return opTable[op].flags&fCompare != 0 }

func (op Opcode) IsConst() bool { return opTable[op].flags&fConst != 0 }

// IsExit reports whether op may leave the unit.
func (op Opcode) IsExit() bool { return opTable[op].flags&fExit != 0 }

func (op Opcode) commutative() bool { return opTable[op].flags&fCommutative != 0 }
func (op Opcode) associative() bool { return opTable[op].flags&fAssociative != 0 }

// Ref is the absolute index of a node in its unit. Zero means none.
type Ref int32

// Node is one IR instruction.
type Node struct {
	Op  Opcode
	A   uint8
	B   uint8
	Imm uint32
}

// Unit is a finished node arena with its immediate pool.
type Unit struct {
	Nodes []Node
	Pool  []uint64
}

func (u *Unit) Len() int { return len(u.Nodes) }

func (u *Unit) Node(r Ref) Node { return u.Nodes[r] }

func (u *Unit) Op(r Ref) Opcode { return u.Nodes[r].Op }

func (u *Unit) resolve(r Ref) Ref {
	if n := u.Nodes[r]; n.Op == Tramp {
		return Ref(n.Imm)
	}
	return r
}

// Op1 returns the first operand of r, looking through trampolines.
func (u *Unit) Op1(r Ref) Ref {
	d := u.Nodes[r].A
	if d == 0 {
		return 0
	}
	return u.resolve(r - Ref(d))
}

// Op2 returns the second operand of r, looking through trampolines.
func (u *Unit) Op2(r Ref) Ref {
	d := u.Nodes[r].B
	if d == 0 {
		return 0
	}
	return u.resolve(r - Ref(d))
}

// IsIntConst reports whether r is a CInt node.
func (u *Unit) IsIntConst(r Ref) bool { return r != 0 && u.Nodes[r].Op == CInt }

// IntConst returns the value of a CInt node.
func (u *Unit) IntConst(r Ref) uint32 { return u.Nodes[r].Imm }

// Const returns the value of a CInt or CWide node.
func (u *Unit) Const(r Ref) uint64 {
	n := u.Nodes[r]
	if n.Op == CWide {
		return u.Pool[n.Imm]
	}
	return uint64(n.Imm)
}

// FallbackInstruction returns the raw word and address of an
// InterpreterFallback node.
func (u *Unit) FallbackInstruction(r Ref) (raw, pc uint32) {
	v := u.Pool[u.Nodes[r].Imm]
	return uint32(v >> 32), uint32(v)
}
