package guest

// Slot addresses one architectural register by its position in the
// execution context. Generated host code reads and writes guest registers
// only through slots.
type Slot uint8

const (
	SlotGPR0 Slot = 0
	SlotFPR0 Slot = 32
	SlotCR0  Slot = 64
	SlotCA   Slot = 72
	SlotCTR  Slot = 73
	SlotLR   Slot = 74
	SlotMSR  Slot = 75
	SlotPC   Slot = 76
	SlotNPC  Slot = 77

	NumSlots = 78
)

func GPRSlot(r int) Slot { return SlotGPR0 + Slot(r&31) }
func FPRSlot(r int) Slot { return SlotFPR0 + Slot(r&31) }
func CRSlot(f int) Slot  { return SlotCR0 + Slot(f&7) }

// Load returns the value held in slot.
func (s *State) Load(slot Slot) uint64 {
	switch {
	case slot < SlotFPR0:
		return uint64(s.GPR[slot-SlotGPR0])
	case slot < SlotCR0:
		return s.FPR[slot-SlotFPR0]
	case slot < SlotCA:
		return uint64(s.CR[slot-SlotCR0])
	}
	switch slot {
	case SlotCA:
		return uint64(s.CA)
	case SlotCTR:
		return uint64(s.CTR)
	case SlotLR:
		return uint64(s.LR)
	case SlotMSR:
		return uint64(s.MSR)
	case SlotPC:
		return uint64(s.PC)
	case SlotNPC:
		return uint64(s.NPC)
	}
	panic("guest: load from invalid slot")
}

// Store writes v into slot, truncating it to the register width.
func (s *State) Store(slot Slot, v uint64) {
	switch {
	case slot < SlotFPR0:
		s.GPR[slot-SlotGPR0] = uint32(v)
		return
	case slot < SlotCR0:
		s.FPR[slot-SlotFPR0] = v
		return
	case slot < SlotCA:
		s.CR[slot-SlotCR0] = uint8(v) & 0xF
		return
	}
	switch slot {
	case SlotCA:
		s.CA = uint32(v) & 1
	case SlotCTR:
		s.CTR = uint32(v)
	case SlotLR:
		s.LR = uint32(v)
	case SlotMSR:
		s.MSR = uint32(v)
	case SlotPC:
		s.PC = uint32(v)
	case SlotNPC:
		s.NPC = uint32(v)
	default:
		panic("guest: store to invalid slot")
	}
}
