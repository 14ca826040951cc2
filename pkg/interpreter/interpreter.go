// Package interpreter executes guest instructions one at a time. It is the
// reference semantics for translated code and the fallback the translator
// calls for instructions it does not translate.
package interpreter

import (
	"log"
	"os"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/memory"
	"gekkojit/pkg/ppc"
)

type InstructionHandler func(in *Interpreter, inst ppc.Inst)

var (
	dispatchTable [64]InstructionHandler
	table19       [1024]InstructionHandler
	table31       [1024]InstructionHandler
	table59       [32]InstructionHandler
	table63       [1024]InstructionHandler
	table63A      [32]InstructionHandler
)

var fileLogger *log.Logger

// InitFileLogger traces every interpreted instruction to filename.
func InitFileLogger(filename string) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	fileLogger = log.New(file, "", log.LstdFlags)
	return nil
}

type Interpreter struct {
	State *guest.State
	Mem   *memory.Memory

	// OnInvalidateICache is called by icbi with the affected range.
	OnInvalidateICache func(addr, n uint32)
}

func New(state *guest.State, mem *memory.Memory) *Interpreter {
	return &Interpreter{State: state, Mem: mem}
}

func lookup(inst ppc.Inst) InstructionHandler {
	switch inst.OPCD() {
	case ppc.OpGroup19:
		return table19[inst.XO()]
	case ppc.OpGroup31:
		return table31[inst.XO()]
	case ppc.OpGroup59:
		return table59[inst.XOA()]
	case ppc.OpGroup63:
		if h := table63[inst.XO()]; h != nil {
			return h
		}
		return table63A[inst.XOA()]
	}
	return dispatchTable[inst.OPCD()]
}

// ExecuteOneOpcode executes raw as if it were fetched from addr. On return
// PC is addr, NPC holds the address of the next instruction and any fault is
// left pending in State.Exceptions with registers unmodified by the faulting
// access.
func (in *Interpreter) ExecuteOneOpcode(raw, addr uint32) {
	s := in.State
	s.PC = addr
	s.NPC = addr + 4
	inst := ppc.Inst(raw)

	handler := lookup(inst)
	switch {
	case handler == nil:
		s.RaiseProgram(guest.ProgramIllegal)
	case ppc.Classify(inst).Has(ppc.FlagFloat) && !s.FPEnabled():
		s.Raise(guest.ExceptionFPUnavailable)
	default:
		handler(in, inst)
	}

	if fileLogger != nil {
		fileLogger.Printf("pc=%08x %-28s npc=%08x exc=%s", addr, ppc.Disassemble(inst, addr), s.NPC, s.Exceptions)
	}
}

// Step fetches and retires one instruction, charging its cycles and entering
// the handler of any exception it raised.
func (in *Interpreter) Step() {
	s := in.State
	pc := s.PC
	raw, ok := in.Mem.ReadOpcode(pc)
	if !ok {
		s.Raise(guest.ExceptionISI)
		s.Downcount--
		s.DeliverExceptions()
		return
	}
	in.ExecuteOneOpcode(raw, pc)
	s.Downcount -= int64(ppc.Classify(ppc.Inst(raw)).Cycles)
	if s.Exceptions != 0 {
		s.DeliverExceptions()
		return
	}
	s.PC = s.NPC
}

// Run steps until the downcount is exhausted.
func (in *Interpreter) Run() guest.StopReason {
	for in.State.Downcount > 0 {
		in.Step()
	}
	return guest.StopDowncount
}
