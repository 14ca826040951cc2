package jit

import (
	"github.com/google/btree"
	"golang.org/x/crypto/blake2b"

	"gekkojit/pkg/jit/host"
)

// Link is an exit of a block to a constant guest address. While linked it
// jumps straight to the target block's checked entry.
type Link struct {
	Offset int // arena offset of the link instruction
	Target uint32
	Linked bool

	from *Block
}

// Block is a compiled translation unit.
type Block struct {
	Start uint32
	// Phys is the RAM offset of Start, shared by both mirrors.
	Phys      uint32
	GuestSize uint32

	CodeOffset   int
	CodeSize     int
	CheckedEntry int
	NormalEntry  int

	Links       []*Link
	Fingerprint [blake2b.Size256]byte

	info *unitInfo
	// noLink blocks carry breakpoint checks and never take part in linking.
	noLink bool
}

// Covers reports whether the guest bytes of b intersect [phys, phys+n).
func (b *Block) Covers(phys, n uint32) bool {
	return phys < b.Phys+b.GuestSize && b.Phys < phys+n
}

func blockLess(a, b *Block) bool {
	if a.Phys != b.Phys {
		return a.Phys < b.Phys
	}
	return a.Start < b.Start
}

// CacheStats counts block cache activity.
type CacheStats struct {
	Blocks    int
	CodeBytes int
	Links     int
	Compiles  uint64
	Evictions uint64
	Clears    uint64
}

// BlockCache maps guest addresses to compiled blocks. Blocks are also kept
// ordered by RAM offset so a written range finds its blocks without a scan,
// and every link site is indexed by its target so evicting a block can
// unlink the exits that jump into it.
type BlockCache struct {
	code []byte

	blocks   map[uint32]*Block
	byEntry  map[int]*Block
	ranges   *btree.BTreeG[*Block]
	incoming map[uint32][]*Link

	// maxGuestSize bounds how far back a block covering an address starts.
	maxGuestSize uint32
	linking      bool

	stats CacheStats
}

func NewBlockCache(code []byte) *BlockCache {
	c := &BlockCache{code: code, linking: true}
	c.reset()
	return c
}

func (c *BlockCache) reset() {
	c.blocks = make(map[uint32]*Block)
	c.byEntry = make(map[int]*Block)
	c.ranges = btree.NewG[*Block](16, blockLess)
	c.incoming = make(map[uint32][]*Link)
	c.maxGuestSize = 0
}

// SetLinking turns linking of newly inserted blocks on or off. Existing
// links are untouched; callers clear the cache when switching.
func (c *BlockCache) SetLinking(on bool) { c.linking = on }

func (c *BlockCache) Lookup(start uint32) *Block { return c.blocks[start] }

// ByEntry returns the block whose checked or normal entry is at offset.
func (c *BlockCache) ByEntry(offset int) *Block { return c.byEntry[offset] }

func (c *BlockCache) Len() int { return len(c.blocks) }

// Insert registers b, links its exits to blocks already present, and links
// exits already waiting for b.Start.
func (c *BlockCache) Insert(b *Block) {
	c.blocks[b.Start] = b
	c.byEntry[b.CheckedEntry] = b
	c.byEntry[b.NormalEntry] = b
	c.ranges.ReplaceOrInsert(b)
	if b.GuestSize > c.maxGuestSize {
		c.maxGuestSize = b.GuestSize
	}
	c.stats.Compiles++

	for _, l := range b.Links {
		l.from = b
		c.incoming[l.Target] = append(c.incoming[l.Target], l)
		if t := c.blocks[l.Target]; t != nil {
			c.link(l, t)
		}
	}
	for _, l := range c.incoming[b.Start] {
		if l.from != b {
			c.link(l, b)
		}
	}
}

func (c *BlockCache) link(l *Link, target *Block) {
	if !c.linking || l.from.noLink || target.noLink || l.Linked {
		return
	}
	host.PatchLink(c.code, l.Offset, true, target.CheckedEntry)
	l.Linked = true
}

func (c *BlockCache) unlink(l *Link) {
	if !l.Linked {
		return
	}
	host.PatchLink(c.code, l.Offset, false, 0)
	l.Linked = false
}

// Evict removes b. Every exit that jumps into b is restored to a dispatcher
// exit first.
func (c *BlockCache) Evict(b *Block) {
	if c.blocks[b.Start] != b {
		return
	}
	for _, l := range c.incoming[b.Start] {
		c.unlink(l)
	}
	for _, l := range b.Links {
		list := c.incoming[l.Target]
		for i, x := range list {
			if x == l {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.incoming, l.Target)
		} else {
			c.incoming[l.Target] = list
		}
	}
	delete(c.blocks, b.Start)
	delete(c.byEntry, b.CheckedEntry)
	delete(c.byEntry, b.NormalEntry)
	c.ranges.Delete(b)
	c.stats.Evictions++
}

// Overlapping returns the blocks built from RAM bytes in [phys, phys+n).
func (c *BlockCache) Overlapping(phys, n uint32) []*Block {
	var out []*Block
	from := uint32(0)
	if phys > c.maxGuestSize {
		from = phys - c.maxGuestSize
	}
	c.ranges.AscendGreaterOrEqual(&Block{Phys: from}, func(b *Block) bool {
		if b.Phys >= phys+n {
			return false
		}
		if b.Covers(phys, n) {
			out = append(out, b)
		}
		return true
	})
	return out
}

// InvalidateRange evicts every block built from [phys, phys+n) and returns
// how many were evicted.
func (c *BlockCache) InvalidateRange(phys, n uint32) int {
	hit := c.Overlapping(phys, n)
	for _, b := range hit {
		c.Evict(b)
	}
	return len(hit)
}

// Clear forgets every block. Link sites live in code that is discarded with
// the blocks, so nothing is unpatched.
func (c *BlockCache) Clear() {
	c.reset()
	c.stats.Clears++
}

// Blocks returns every block ordered by RAM offset.
func (c *BlockCache) Blocks() []*Block {
	out := make([]*Block, 0, len(c.blocks))
	c.ranges.Ascend(func(b *Block) bool {
		out = append(out, b)
		return true
	})
	return out
}

func (c *BlockCache) Stats() CacheStats {
	s := c.stats
	s.Blocks = len(c.blocks)
	for _, b := range c.blocks {
		s.CodeBytes += b.CodeSize
		for _, l := range b.Links {
			if l.Linked {
				s.Links++
			}
		}
	}
	return s
}

// fingerprint hashes the guest bytes a block was built from.
func fingerprint(guest []byte) [blake2b.Size256]byte {
	return blake2b.Sum256(guest)
}
