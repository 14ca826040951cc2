package ir

// Value cache keys, one per guest register.
const (
	keyGPR   = 0
	keyFPR   = 32
	keyCR    = 64
	keyCarry = 72
	keyCTR   = 73
	keyLR    = 74
	keyMSR   = 75
	numKeys  = 76
)

// valueCache remembers, per guest register, the node holding its current
// value and the last store to it that no guard or exit has observed yet.
type valueCache struct {
	values [numKeys]Ref
	stores [numKeys]Ref
}

func (c *valueCache) invalidate() {
	c.values = [numKeys]Ref{}
	c.stores = [numKeys]Ref{}
}

// commit makes pending stores permanent: a guard or exit may observe them.
func (c *valueCache) commit() {
	c.stores = [numKeys]Ref{}
}

func (b *Builder) load(op Opcode, key int, imm uint32) Ref {
	if r := b.cache.values[key]; r != 0 {
		return r
	}
	r := b.emit(op, 0, 0, imm)
	b.cache.values[key] = r
	return r
}

// store records v as the new value of key. A pending store to the same
// register is killed. Storing the value the register already holds emits
// nothing and returns the pending store, if any.
func (b *Builder) store(op Opcode, key int, v Ref, imm uint32) Ref {
	c := &b.cache
	if c.values[key] == v {
		return c.stores[key]
	}
	if s := c.stores[key]; s != 0 {
		b.u.Nodes[s].Op = Nop
	}
	s := b.emit(op, v, 0, imm)
	c.values[key] = v
	c.stores[key] = s
	return s
}
