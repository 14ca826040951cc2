package host

import (
	"encoding/binary"
)

// Assembler emits host code into a fixed buffer. Writes past the end of the
// buffer are dropped and reported by Overflowed, so a block that does not
// fit can be abandoned without corrupting its neighbours.
type Assembler struct {
	buf      []byte
	offset   int
	overflow bool
}

// NewAssembler creates an assembler targeting the given buffer
func NewAssembler(buf []byte) *Assembler {
	return &Assembler{buf: buf, offset: 0}
}

// Offset returns current write position
func (a *Assembler) Offset() int {
	return a.offset
}

// Bytes returns the assembled code
func (a *Assembler) Bytes() []byte {
	return a.buf[:a.offset]
}

// Overflowed reports whether any instruction did not fit.
func (a *Assembler) Overflowed() bool {
	return a.overflow
}

// emit appends bytes to the buffer
func (a *Assembler) emit(bytes ...byte) {
	if a.overflow || a.offset+len(bytes) > len(a.buf) {
		a.overflow = true
		return
	}
	copy(a.buf[a.offset:], bytes)
	a.offset += len(bytes)
}

// emitUint32 appends a little-endian uint32
func (a *Assembler) emitUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.emit(b[:]...)
}

// emitInt32 appends a little-endian int32
func (a *Assembler) emitInt32(v int32) {
	a.emitUint32(uint32(v))
}

// Moves and execution context access

func (a *Assembler) MovRegImm32(dst Reg, imm uint32) {
	a.emit(byte(OpMovRI), byte(dst))
	a.emitUint32(imm)
}

func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(byte(OpMovRR), byte(dst), byte(src))
}

// LoadConst loads a 64-bit value from the constant region.
func (a *Assembler) LoadConst(dst Reg, index uint32) {
	a.emit(byte(OpLoadConst), byte(dst))
	a.emitUint32(index)
}

func (a *Assembler) LoadContext(dst Reg, slot uint8) {
	a.emit(byte(OpLoadCtx), byte(dst), slot)
}

func (a *Assembler) StoreContext(slot uint8, src Reg) {
	a.emit(byte(OpStoreCtx), slot, byte(src))
}

func (a *Assembler) StoreContextImm32(slot uint8, imm uint32) {
	a.emit(byte(OpStoreCtxI), slot)
	a.emitUint32(imm)
}

func (a *Assembler) Spill(slot uint8, src Reg) {
	a.emit(byte(OpSpill), slot, byte(src))
}

func (a *Assembler) Reload(dst Reg, slot uint8) {
	a.emit(byte(OpReload), byte(dst), slot)
}

// Integer ALU. op must be one of the register-register forms; the
// register-immediate form is op+RIOffset.

// RIOffset is the distance between an RR opcode and its RI twin.
const RIOffset = OpAddRI - OpAddRR

func (a *Assembler) ALURegReg(op Op, dst, src Reg) {
	a.emit(byte(op), byte(dst), byte(src))
}

func (a *Assembler) ALURegImm32(op Op, dst Reg, imm uint32) {
	a.emit(byte(op+RIOffset), byte(dst))
	a.emitUint32(imm)
}

func (a *Assembler) AddRegReg(dst, src Reg)         { a.ALURegReg(OpAddRR, dst, src) }
func (a *Assembler) AddRegImm32(dst Reg, imm int32) { a.ALURegImm32(OpAddRR, dst, uint32(imm)) }
func (a *Assembler) SubRegReg(dst, src Reg)         { a.ALURegReg(OpSubRR, dst, src) }
func (a *Assembler) AndRegImm32(dst Reg, imm uint32) {
	a.ALURegImm32(OpAndRR, dst, imm)
}

// Unary emits one of the in-place unary operations.
func (a *Assembler) Unary(op Op, reg Reg) {
	a.emit(byte(op), byte(reg))
}

// SetCC sets dst to 1 if cond holds for x and y, else 0.
func (a *Assembler) SetCC(cond Cond, dst, x, y Reg) {
	a.emit(byte(OpSetCC), byte(cond), byte(dst), byte(x), byte(y))
}

func (a *Assembler) SetCCImm32(cond Cond, dst, x Reg, imm uint32) {
	a.emit(byte(OpSetCCI), byte(cond), byte(dst), byte(x))
	a.emitUint32(imm)
}

// CmpCR sets dst to the condition register field value of comparing x
// with y.
func (a *Assembler) CmpCR(signed bool, dst, x, y Reg) {
	a.emit(byte(OpCmpCR), boolByte(signed), byte(dst), byte(x), byte(y))
}

func (a *Assembler) CmpCRImm32(signed bool, dst, x Reg, imm uint32) {
	a.emit(byte(OpCmpCRI), boolByte(signed), byte(dst), byte(x))
	a.emitUint32(imm)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Floating point

func (a *Assembler) FloatRegReg(op Op, dst, src Reg) {
	a.emit(byte(op), byte(dst), byte(src))
}

// Guest memory. The direct forms may only be used for addresses known to
// be RAM; the call forms go through the runtime and may raise a DSI.

func (a *Assembler) LoadMem(size uint8, dst, base Reg, disp int32) {
	a.emit(byte(OpLoadMem), size, byte(dst), byte(base))
	a.emitInt32(disp)
}

func (a *Assembler) LoadMemAbs(size uint8, dst Reg, addr uint32) {
	a.emit(byte(OpLoadMemAbs), size, byte(dst))
	a.emitUint32(addr)
}

func (a *Assembler) StoreMem(size uint8, src, base Reg, disp int32) {
	a.emit(byte(OpStoreMem), size, byte(src), byte(base))
	a.emitInt32(disp)
}

func (a *Assembler) StoreMemAbs(size uint8, src Reg, addr uint32) {
	a.emit(byte(OpStoreMemAbs), size, byte(src))
	a.emitUint32(addr)
}

func (a *Assembler) CallLoad(size uint8, dst, addr Reg) {
	a.emit(byte(OpCallLoad), size, byte(dst), byte(addr))
}

func (a *Assembler) CallStore(size uint8, src, addr Reg) {
	a.emit(byte(OpCallStore), size, byte(src), byte(addr))
}

// CallInterpreter runs one guest instruction in the interpreter.
func (a *Assembler) CallInterpreter(raw, pc uint32) {
	a.emit(byte(OpInterp))
	a.emitUint32(raw)
	a.emitUint32(pc)
}

// Guards and timing

// Guard emits one of the pc-carrying checks (downcount, FP, DSI, pending
// exception, breakpoint) or a system call.
func (a *Assembler) Guard(op Op, pc uint32) {
	a.emit(byte(op))
	a.emitUint32(pc)
}

func (a *Assembler) SubDowncount(cycles uint32) {
	a.emit(byte(OpSubDowncount))
	a.emitUint32(cycles)
}

// Control flow

// Label is a forward jump waiting for its target.
type Label int

// JumpIfZero emits a jz with an unresolved target. Bind resolves it.
func (a *Assembler) JumpIfZero(reg Reg) Label {
	a.emit(byte(OpJz), byte(reg))
	a.emitInt32(0)
	return Label(a.offset)
}

func (a *Assembler) JumpIfNotZero(reg Reg) Label {
	a.emit(byte(OpJnz), byte(reg))
	a.emitInt32(0)
	return Label(a.offset)
}

func (a *Assembler) Jump() Label {
	a.emit(byte(OpJmp))
	a.emitInt32(0)
	return Label(a.offset)
}

// Bind points the jump that produced l at the current offset.
func (a *Assembler) Bind(l Label) {
	if a.overflow {
		return
	}
	binary.LittleEndian.PutUint32(a.buf[int(l)-4:], uint32(int32(a.offset-int(l))))
}

// Link emits a link site exiting to the dispatcher with target.
func (a *Assembler) Link(target uint32) int {
	at := a.offset
	a.emit(byte(OpLink), 0)
	a.emitUint32(target)
	a.emitUint32(0)
	return at
}

func (a *Assembler) ExitReg(reg Reg) {
	a.emit(byte(OpExitReg), byte(reg))
}

func (a *Assembler) ExitNPC() {
	a.emit(byte(OpExitNPC))
}

// PatchLink rewrites the link site at offset within code: linked sites jump
// to the code offset entry, unlinked ones exit to the dispatcher.
func PatchLink(code []byte, offset int, linked bool, entry int) {
	site := code[offset : offset+LinkSize]
	if Op(site[0]) != OpLink {
		panic("host: patching a non-link instruction")
	}
	site[1] = boolByte(linked)
	if !linked {
		entry = 0
	}
	binary.LittleEndian.PutUint32(site[6:], uint32(entry))
}

// LinkTarget returns the guest address a link site leaves for.
func LinkTarget(code []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(code[offset+2:])
}
