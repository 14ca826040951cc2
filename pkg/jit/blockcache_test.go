package jit

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gekkojit/pkg/jit/host"
)

// fakeBlocks lays out one block per entry of starts, each exiting to the
// matching entry of targets.
func fakeBlocks(t *testing.T, code []byte, starts, targets []uint32) []*Block {
	t.Helper()
	a := host.NewAssembler(code)
	var out []*Block
	for i, start := range starts {
		offset := a.Offset()
		a.SubDowncount(1)
		link := a.Link(targets[i])
		out = append(out, &Block{
			Start:        start,
			Phys:         start & 0x3FFFFFFF,
			GuestSize:    8,
			CodeOffset:   offset,
			CodeSize:     a.Offset() - offset,
			CheckedEntry: offset,
			NormalEntry:  offset,
			Links:        []*Link{{Offset: link, Target: targets[i]}},
		})
	}
	if a.Overflowed() {
		t.Fatal("code buffer too small")
	}
	return out
}

func TestBlockCacheLinksBothWays(t *testing.T) {
	code := make([]byte, 1024)
	blocks := fakeBlocks(t, code,
		[]uint32{0x80001000, 0x80001100, 0x80001200},
		[]uint32{0x80001100, 0x80001200, 0x80001000},
	)
	c := NewBlockCache(code)
	c.Insert(blocks[0])
	if blocks[0].Links[0].Linked {
		t.Fatal("linked to a block that does not exist")
	}
	// inserting the target links the waiting exit
	c.Insert(blocks[1])
	if !blocks[0].Links[0].Linked {
		t.Error("waiting exit was not linked")
	}
	// inserting the source links it to the present target
	c.Insert(blocks[2])
	if !blocks[2].Links[0].Linked || !blocks[1].Links[0].Linked {
		t.Error("ring is not fully linked")
	}
	for _, b := range blocks {
		l := b.Links[0]
		if code[l.Offset+1] == 0 || host.LinkTarget(code, l.Offset) != l.Target {
			t.Errorf("block %08x: link site not patched", b.Start)
		}
	}
	if s := c.Stats(); s.Blocks != 3 || s.Links != 3 || s.Compiles != 3 {
		t.Errorf("stats = %+v", s)
	}

	c.Evict(blocks[1])
	if blocks[0].Links[0].Linked || code[blocks[0].Links[0].Offset+1] != 0 {
		t.Error("exit into an evicted block is still linked")
	}
	if c.Lookup(0x80001100) != nil || c.ByEntry(blocks[1].CheckedEntry) != nil {
		t.Error("evicted block is still reachable")
	}
	if got := len(c.incoming[0x80001200]); got != 0 {
		t.Errorf("%d stale incoming links to 0x80001200", got)
	}

	// a recompiled block is linked again from the same exit
	c.Insert(blocks[1])
	if !blocks[0].Links[0].Linked {
		t.Error("exit was not relinked")
	}
}

func TestBlockCacheSelfLink(t *testing.T) {
	code := make([]byte, 256)
	b := fakeBlocks(t, code, []uint32{0x80002000}, []uint32{0x80002000})[0]
	c := NewBlockCache(code)
	c.Insert(b)
	if !b.Links[0].Linked {
		t.Error("self loop not linked")
	}
	c.Evict(b)
	if b.Links[0].Linked || len(c.incoming) != 0 {
		t.Error("evicting a self loop left link state behind")
	}
}

func TestBlockCacheNoLink(t *testing.T) {
	code := make([]byte, 512)
	blocks := fakeBlocks(t, code,
		[]uint32{0x80001000, 0x80001100},
		[]uint32{0x80001100, 0x80001000},
	)
	blocks[1].noLink = true
	c := NewBlockCache(code)
	c.Insert(blocks[0])
	c.Insert(blocks[1])
	if blocks[0].Links[0].Linked || blocks[1].Links[0].Linked {
		t.Error("a breakpoint block took part in linking")
	}

	c.Clear()
	c.SetLinking(false)
	blocks = fakeBlocks(t, code,
		[]uint32{0x80001000, 0x80001100},
		[]uint32{0x80001100, 0x80001000},
	)
	c.Insert(blocks[0])
	c.Insert(blocks[1])
	if blocks[0].Links[0].Linked || blocks[1].Links[0].Linked {
		t.Error("linked with linking disabled")
	}
}

func TestBlockCacheOverlapping(t *testing.T) {
	c := NewBlockCache(make([]byte, 16))
	add := func(start, size uint32) *Block {
		b := &Block{Start: start, Phys: start & 0x3FFFFFFF, GuestSize: size, CheckedEntry: int(start), NormalEntry: int(start) + 1}
		c.Insert(b)
		return b
	}
	a := add(0x80001000, 0x40)
	b := add(0x80001020, 0x10)
	big := add(0x80000F00, 0x200)
	far := add(0x80004000, 0x20)
	// the uncached mirror shares RAM with a
	mirror := add(0xC0001000, 0x08)

	starts := func(bs []*Block) []uint32 {
		var out []uint32
		for _, b := range bs {
			out = append(out, b.Start)
		}
		return out
	}
	tests := []struct {
		phys, n uint32
		want    []*Block
	}{
		{0x1000, 4, []*Block{big, a, mirror}},
		{0x1024, 4, []*Block{big, a, b}},
		{0x1040, 4, []*Block{big}},
		{0x10FF, 1, []*Block{big}},
		{0x1100, 4, nil},
		{0x401C, 8, []*Block{far}},
		{0x0, 0x10000, []*Block{big, a, mirror, b, far}},
	}
	for _, tt := range tests {
		got := c.Overlapping(tt.phys, tt.n)
		if diff := cmp.Diff(starts(tt.want), starts(got)); diff != "" {
			t.Errorf("Overlapping(%#x, %d) (-want +got):\n%s", tt.phys, tt.n, diff)
		}
	}

	if n := c.InvalidateRange(0x1000, 4); n != 3 {
		t.Errorf("InvalidateRange evicted %d, want 3", n)
	}
	if diff := cmp.Diff([]uint32{0x80001020, 0x80004000}, starts(c.Blocks())); diff != "" {
		t.Errorf("remaining blocks (-want +got):\n%s", diff)
	}
	if s := c.Stats(); s.Evictions != 3 || s.Blocks != 2 {
		t.Errorf("stats = %+v", s)
	}

	c.Clear()
	if c.Len() != 0 || len(c.Overlapping(0, 0x10000)) != 0 {
		t.Error("Clear left blocks behind")
	}
	if c.Stats().Clears != 1 {
		t.Error("Clear not counted")
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	x := fingerprint([]byte{1, 2, 3, 4})
	if x != fingerprint([]byte{1, 2, 3, 4}) {
		t.Error("fingerprint is not stable")
	}
	if x == fingerprint([]byte{1, 2, 3, 5}) {
		t.Error("fingerprint ignores content")
	}
}
