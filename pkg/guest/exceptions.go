package guest

import "strings"

// Exception is a set of pending synchronous exception flags.
type Exception uint32

const (
	ExceptionISI Exception = 1 << iota
	ExceptionDSI
	ExceptionProgram
	ExceptionFPUnavailable
	ExceptionSyscall
)

// Exception vector offsets.
const (
	VectorDSI           = 0x300
	VectorISI           = 0x400
	VectorProgram       = 0x700
	VectorFPUnavailable = 0x800
	VectorSyscall       = 0xC00
)

// VectorBase is where handlers live. Address translation is not modeled, so
// vectors are entered through the cached kernel mirror.
const VectorBase = 0x80000000

// Program exception causes, reported in SRR1.
const (
	ProgramIllegal    = 0x00080000
	ProgramPrivileged = 0x00040000
	ProgramTrap       = 0x00020000
)

// DSISR bits.
const (
	DSISRNotFound = 0x40000000
	DSISRStore    = 0x02000000
)

// delivery order, highest priority first
var exceptionOrder = []struct {
	flag   Exception
	vector uint32
	name   string
}{
	{ExceptionISI, VectorISI, "isi"},
	{ExceptionProgram, VectorProgram, "program"},
	{ExceptionFPUnavailable, VectorFPUnavailable, "fpu"},
	{ExceptionDSI, VectorDSI, "dsi"},
	{ExceptionSyscall, VectorSyscall, "syscall"},
}

func (e Exception) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, x := range exceptionOrder {
		if e&x.flag != 0 {
			parts = append(parts, x.name)
		}
	}
	return strings.Join(parts, "|")
}

// Raise marks exception e pending. PC must already hold the address of the
// faulting instruction.
func (s *State) Raise(e Exception) { s.Exceptions |= e }

// RaiseDSI records a data storage fault at addr.
func (s *State) RaiseDSI(addr uint32, store bool) {
	s.DAR = addr
	s.DSISR = DSISRNotFound
	if store {
		s.DSISR |= DSISRStore
	}
	s.Exceptions |= ExceptionDSI
}

// RaiseProgram records a program exception with the given SRR1 cause.
func (s *State) RaiseProgram(cause uint32) {
	s.ProgramCause = cause
	s.Exceptions |= ExceptionProgram
}

// DeliverExceptions enters the handler of the highest priority pending
// exception. PC is the address of the instruction that raised it; a system
// call resumes after that instruction. All pending synchronous flags are
// consumed because they were raised by the same instruction.
func (s *State) DeliverExceptions() bool {
	if s.Exceptions == 0 {
		return false
	}
	for _, x := range exceptionOrder {
		if s.Exceptions&x.flag == 0 {
			continue
		}
		s.SRR0 = s.PC
		if x.flag == ExceptionSyscall {
			s.SRR0 = s.PC + 4
		}
		s.SRR1 = s.MSR & 0x87C0FFFF
		switch x.flag {
		case ExceptionISI:
			s.SRR1 |= 0x40000000
		case ExceptionProgram:
			s.SRR1 |= s.ProgramCause
		}
		s.MSR &= MSRME | MSRIP
		s.PC = VectorBase | x.vector
		s.NPC = s.PC + 4
		break
	}
	s.Exceptions = 0
	s.ProgramCause = 0
	return true
}
