// Package guest holds the architectural state of the emulated Gekko CPU: the
// register file, the pending exception flags and the cycle budget of the
// current slice. Both the interpreter and translated code operate on it.
package guest

import "fmt"

// MSR bits.
const (
	MSREE  = 0x8000
	MSRPR  = 0x4000
	MSRFP  = 0x2000
	MSRME  = 0x1000
	MSRFE0 = 0x0800
	MSRSE  = 0x0400
	MSRBE  = 0x0200
	MSRFE1 = 0x0100
	MSRIP  = 0x0040
	MSRIR  = 0x0020
	MSRDR  = 0x0010
	MSRRI  = 0x0002
)

// Condition register field bits.
const (
	CRLT = 8
	CRGT = 4
	CREQ = 2
	CRSO = 1
)

// XERCA is the carry bit of XER. SO and OV are not modeled.
const XERCA = 1 << 29

// State is the guest register file. It contains only fixed-size fields so it
// can be serialized with encoding/binary.
type State struct {
	GPR [32]uint32
	// FPR holds IEEE-754 double bit patterns.
	FPR [32]uint64
	// CR holds the eight 4-bit condition fields, cr0 first.
	CR  [8]uint8
	CA  uint32
	CTR uint32
	LR  uint32
	MSR uint32

	PC  uint32
	NPC uint32

	SRR0  uint32
	SRR1  uint32
	SPRG  [4]uint32
	DAR   uint32
	DSISR uint32
	// SPR backs special purpose registers that have no dedicated field.
	SPR [1024]uint32

	Exceptions   Exception
	ProgramCause uint32

	// Downcount is the remaining cycle budget of the current slice.
	Downcount int64
}

// Reset clears every register and starts execution at pc with
// floating point enabled.
func (s *State) Reset(pc uint32) {
	*s = State{}
	s.PC = pc
	s.NPC = pc + 4
	s.MSR = MSRFP | MSRME | MSRIR | MSRDR | MSRRI
}

// CRWord packs the condition register into its 32-bit architectural form.
func (s *State) CRWord() uint32 {
	var v uint32
	for i, f := range s.CR {
		v |= uint32(f&0xF) << (28 - 4*uint(i))
	}
	return v
}

// SetCRWord unpacks a 32-bit condition register value.
func (s *State) SetCRWord(v uint32) {
	for i := range s.CR {
		s.CR[i] = uint8(v>>(28-4*uint(i))) & 0xF
	}
}

// CRBit reports bit n (big-endian numbering) of the condition register.
func (s *State) CRBit(n uint32) bool {
	return s.CR[n>>2]&(8>>(n&3)) != 0
}

// SetCRBit sets or clears bit n of the condition register.
func (s *State) SetCRBit(n uint32, on bool) {
	mask := uint8(8 >> (n & 3))
	if on {
		s.CR[n>>2] |= mask
	} else {
		s.CR[n>>2] &^= mask
	}
}

func (s *State) XER() uint32 {
	if s.CA != 0 {
		return XERCA
	}
	return 0
}

func (s *State) SetXER(v uint32) {
	s.CA = 0
	if v&XERCA != 0 {
		s.CA = 1
	}
}

// FPEnabled reports whether MSR[FP] permits floating point instructions.
func (s *State) FPEnabled() bool { return s.MSR&MSRFP != 0 }

func (s *State) String() string {
	return fmt.Sprintf("pc=%08x lr=%08x ctr=%08x cr=%08x msr=%08x dc=%d exc=%s",
		s.PC, s.LR, s.CTR, s.CRWord(), s.MSR, s.Downcount, s.Exceptions)
}
