package jit

import (
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"gekkojit/pkg/errors"
	"gekkojit/pkg/guest"
	"gekkojit/pkg/interpreter"
	"gekkojit/pkg/jit/host"
	"gekkojit/pkg/jit/ir"
	"gekkojit/pkg/memory"
)

var traceLogger *log.Logger

// InitTraceLogger records compile, eviction and cache clear events to
// filename.
func InitTraceLogger(filename string) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	traceLogger = log.New(file, "", log.LstdFlags)
	return nil
}

func trace(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// Options configures a JIT. Zero values select the defaults.
type Options struct {
	CodeSize             int
	ConstSlots           int
	MaxBlockInstructions int
	MaxImmediates        int
	DisableFolding       bool
	// ValidateBlocks rehashes the guest bytes of a block before every
	// dispatch to it and recompiles blocks whose code changed behind the
	// write tracking.
	ValidateBlocks bool
}

// Stats is a snapshot of JIT activity.
type Stats struct {
	Cache        CacheStats
	CodeUsed     int
	CodeCapacity int
	ConstsUsed   int
	Dispatches   uint64
	Fallbacks    uint64
	Interpreted  uint64
	Stale        uint64
	HostOps      uint64
	Enabled      bool
	SingleStep   bool

	// InternalErrors counts units the translator failed on for a reason
	// other than capacity or an instruction fetch fault.
	InternalErrors uint64
}

type physRange struct{ phys, n uint32 }

// JIT translates guest code into host code on demand and runs it. It is
// driven from a single goroutine; only RequestStop may be called
// concurrently.
type JIT struct {
	state  *guest.State
	mem    *memory.Memory
	interp *interpreter.Interpreter

	arena   *CodeArena
	cache   *BlockCache
	builder *ir.Builder
	machine host.Machine
	env     *runtimeEnv

	opts            Options
	maxInstructions int

	enabled     bool
	singleStep  bool
	breakpoints map[uint32]bool

	// a run that stopped at a breakpoint resumes past it
	lastBreak uint32
	breakHit  bool
	resumeAt  uint32
	resuming  bool

	running    bool
	stop       atomic.Bool
	hasPending atomic.Bool
	pendingMu  sync.Mutex
	pending    []physRange

	dispatches  uint64
	fallbacks   uint64
	interpreted uint64
	stale       uint64

	internalErrors uint64
	lastInternal   error
}

// New creates a JIT executing state against mem. It installs itself as the
// code write handler of mem and as the icbi hook of its interpreter.
func New(state *guest.State, mem *memory.Memory, opts Options) (*JIT, error) {
	arena, err := NewCodeArena(opts.CodeSize, opts.ConstSlots)
	if err != nil {
		return nil, err
	}
	if opts.MaxBlockInstructions <= 0 {
		opts.MaxBlockInstructions = DefaultMaxBlockInstructions
	}
	b := ir.NewBuilder()
	if opts.MaxImmediates > 0 {
		b.SetMaxImmediates(opts.MaxImmediates)
	}
	b.SetFolding(!opts.DisableFolding)

	j := &JIT{
		state:           state,
		mem:             mem,
		interp:          interpreter.New(state, mem),
		arena:           arena,
		cache:           NewBlockCache(arena.Code()),
		builder:         b,
		opts:            opts,
		maxInstructions: opts.MaxBlockInstructions,
		enabled:         true,
		breakpoints:     make(map[uint32]bool),
	}
	j.env = &runtimeEnv{j: j}
	j.interp.OnInvalidateICache = j.InvalidateRange
	mem.SetCodeWriteHandler(j.queueInvalidation)
	return j, nil
}

// Free releases the code arena.
func (j *JIT) Free() error {
	j.mem.SetCodeWriteHandler(nil)
	return j.arena.Free()
}

func (j *JIT) Interpreter() *interpreter.Interpreter { return j.interp }

func (j *JIT) Enabled() bool { return j.enabled }

// SetEnabled switches between translated and fully interpreted execution.
func (j *JIT) SetEnabled(on bool) {
	if j.enabled == on {
		return
	}
	j.enabled = on
	j.ClearCache()
}

func (j *JIT) SingleStepping() bool { return j.singleStep }

// SetSingleStep forces one-instruction blocks without linking. Switching
// discards every block.
func (j *JIT) SetSingleStep(on bool) {
	if j.singleStep == on {
		return
	}
	j.singleStep = on
	j.cache.SetLinking(!on)
	j.ClearCache()
}

// RequestStop makes Run return at the next block boundary.
func (j *JIT) RequestStop() { j.stop.Store(true) }

func (j *JIT) AddBreakpoint(addr uint32) {
	j.breakpoints[addr] = true
	j.InvalidateRange(addr, 4)
}

func (j *JIT) RemoveBreakpoint(addr uint32) {
	if !j.breakpoints[addr] {
		return
	}
	delete(j.breakpoints, addr)
	j.InvalidateRange(addr, 4)
}

func (j *JIT) Breakpoints() []uint32 {
	out := make([]uint32, 0, len(j.breakpoints))
	for a := range j.breakpoints {
		out = append(out, a)
	}
	return out
}

func (j *JIT) hasBreakpoint(pc uint32) bool { return j.breakpoints[pc] }

// ClearCache discards every block and all generated code.
func (j *JIT) ClearCache() {
	j.cache.Clear()
	j.arena.Reset()
	j.mem.ResetCodePages()
	trace("clear")
}

// OnStateLoaded must be called after the execution context or RAM was
// replaced wholesale.
func (j *JIT) OnStateLoaded() {
	j.ClearCache()
	j.builder.Reset()
	j.breakHit = false
	j.resuming = false
	j.pendingMu.Lock()
	j.pending = nil
	j.pendingMu.Unlock()
	j.hasPending.Store(false)
}

// InvalidateRange evicts the blocks built from guest addresses
// [addr, addr+n). While generated code runs the eviction is deferred to
// the next dispatch.
func (j *JIT) InvalidateRange(addr, n uint32) {
	phys, ok := j.mem.Translate(addr)
	if !ok {
		return
	}
	j.queueInvalidation(phys, n)
	if !j.running {
		j.applyInvalidations()
	}
}

func (j *JIT) queueInvalidation(phys, n uint32) {
	j.pendingMu.Lock()
	j.pending = append(j.pending, physRange{phys, n})
	j.pendingMu.Unlock()
	j.hasPending.Store(true)
}

func (j *JIT) applyInvalidations() {
	if !j.hasPending.Load() {
		return
	}
	j.pendingMu.Lock()
	pending := j.pending
	j.pending = nil
	j.hasPending.Store(false)
	j.pendingMu.Unlock()
	for _, r := range pending {
		if n := j.cache.InvalidateRange(r.phys, r.n); n > 0 {
			trace("invalidate %08x+%x: %d blocks", r.phys, r.n, n)
		}
	}
}

// Compile returns the block starting at addr, translating it when it is not
// cached. A unit that does not fit clears the cache and is retried; one
// that still does not fit is retried at half the block size.
func (j *JIT) Compile(addr uint32) (*Block, error) {
	if b := j.cache.Lookup(addr); b != nil {
		return b, nil
	}
	size := j.maxInstructions
	cleared := false
	for {
		b, err := j.compile(addr, size)
		if err == nil || !errors.IsCapacity(err) {
			return b, err
		}
		switch {
		case !cleared:
			trace("capacity at %08x: %v", addr, err)
			j.ClearCache()
			cleared = true
		case size > 1:
			size /= 2
		default:
			return nil, err
		}
	}
}

func (j *JIT) compile(addr uint32, maxInstructions int) (*Block, error) {
	info, err := translate(j.builder, j.mem, addr, translateOptions{
		maxInstructions: maxInstructions,
		singleStep:      j.singleStep,
		breakAt:         j.hasBreakpoint,
	})
	if err != nil {
		return nil, err
	}
	u := j.builder.Unit()
	live := ir.ComputeLiveness(u)

	mark := j.arena.ConstMark()
	gen, err := generate(j.arena, u, live, addr)
	if err != nil {
		j.arena.RollbackConsts(mark)
		if isCapacity(err) {
			return nil, errors.Capacityf(addr, "%v", err)
		}
		return nil, errors.WrapTranslationError(err, errors.KindInternal, addr, "generate")
	}
	j.arena.Commit(gen.size)

	phys, _ := j.mem.Translate(addr)
	guestBytes, err := j.mem.Dump(addr, info.size)
	if err != nil {
		return nil, errors.WrapTranslationError(err, errors.KindGuestMemory, addr, "fingerprint")
	}
	b := &Block{
		Start:        addr,
		Phys:         phys,
		GuestSize:    info.size,
		CodeOffset:   gen.checkedEntry,
		CodeSize:     gen.size,
		CheckedEntry: gen.checkedEntry,
		NormalEntry:  gen.normalEntry,
		Fingerprint:  fingerprint(guestBytes),
		info:         info,
		noLink:       info.breaks,
	}
	for _, l := range gen.links {
		b.Links = append(b.Links, &Link{Offset: l.offset, Target: l.target})
	}
	j.mem.MarkCode(addr, info.size)
	j.cache.Insert(b)
	trace("compile %s: %d nodes, %d code bytes, %d links", info, u.Len(), gen.size, len(b.Links))
	return b, nil
}

func isCapacity(err error) bool {
	return errors.IsCapacity(err) ||
		stderrors.Is(err, errArenaFull) || stderrors.Is(err, errConstsFull) || stderrors.Is(err, errSpillSlots)
}

// lookup finds or compiles the block at pc, dropping blocks whose guest
// bytes no longer match when validation is on.
func (j *JIT) lookup(pc uint32) (*Block, error) {
	b := j.cache.Lookup(pc)
	if b != nil && j.opts.ValidateBlocks {
		guestBytes, err := j.mem.Dump(b.Start, b.GuestSize)
		if err != nil || fingerprint(guestBytes) != b.Fingerprint {
			trace("stale %08x", b.Start)
			j.stale++
			j.cache.Evict(b)
			b = nil
		}
	}
	if b != nil {
		return b, nil
	}
	return j.Compile(pc)
}

// dispatchFailed handles a pc no block could be built for. Fetch faults
// raise an instruction storage exception. A unit too large for an empty
// cache runs one instruction in the interpreter. Anything else is a
// translator defect: it is logged and counted, and the guest still makes
// progress through the interpreter.
func (j *JIT) dispatchFailed(err error) {
	s := j.state
	switch {
	case errors.IsGuestMemory(err):
		s.Raise(guest.ExceptionISI)
		s.Downcount--
		s.DeliverExceptions()
		return
	case errors.IsCapacity(err):
		trace("capacity at %08x after split: %v", s.PC, err)
	default:
		log.Printf("jit: internal error at 0x%08x: %v", s.PC, err)
		j.internalErrors++
		j.lastInternal = err
	}
	j.interpreted++
	j.interp.Step()
}

// LastInternalError returns the most recent translator defect, or nil.
func (j *JIT) LastInternalError() error { return j.lastInternal }

// finish accounts for how a run of cached code ended.
func (j *JIT) finish(exit host.Exit) {
	var info *unitInfo
	if b := j.cache.ByEntry(exit.Entry); b != nil {
		info = b.info
	}
	j.account(exit, info)
}

// account charges the cycles of an early exit from the unit described by
// info and delivers pending exceptions.
func (j *JIT) account(exit host.Exit, info *unitInfo) {
	s := j.state
	switch exit.Kind {
	case host.ExitException:
		if info != nil {
			s.Downcount -= int64(info.costAt(s.PC, true))
		}
		s.DeliverExceptions()
	case host.ExitBreakpoint:
		if info != nil {
			s.Downcount -= int64(info.costAt(s.PC, false))
		}
		j.lastBreak, j.breakHit = s.PC, true
	}
}

// resume lets execution pass the breakpoint the previous run stopped at.
func (j *JIT) resume() {
	j.resuming = j.breakHit && j.lastBreak == j.state.PC
	j.resumeAt = j.state.PC
	j.breakHit = false
}

// Run executes until the downcount is exhausted, a stop is requested or a
// breakpoint is reached. In single-step mode it executes one instruction.
func (j *JIT) Run() guest.StopReason {
	if j.singleStep {
		return j.SingleStep()
	}
	if !j.enabled {
		return j.runInterpreter()
	}
	s := j.state
	j.resume()
	for {
		j.applyInvalidations()
		if j.stop.Swap(false) {
			return guest.StopRequested
		}
		if s.Downcount <= 0 {
			return guest.StopDowncount
		}
		b, err := j.lookup(s.PC)
		if err != nil {
			j.dispatchFailed(err)
			continue
		}
		j.dispatches++
		j.running = true
		exit := j.machine.Run(j.arena.Code(), j.arena.Consts(), b.CheckedEntry, s, j.env)
		j.running = false
		if exit.Kind != host.ExitTimeout {
			j.resuming = false
		}
		j.finish(exit)
		if exit.Kind == host.ExitBreakpoint {
			return guest.StopBreakpoint
		}
	}
}

// SingleStep executes exactly one guest instruction as a one-instruction
// unlinked block. Outside single-step mode the block is built in the free
// tail of the arena and dropped after it ran, leaving the cache alone.
func (j *JIT) SingleStep() guest.StopReason {
	if !j.enabled {
		j.interp.Step()
		return guest.StopStepped
	}
	s := j.state
	j.applyInvalidations()
	entry, info, mark, err := j.stepUnit()
	if err != nil {
		j.dispatchFailed(err)
		return guest.StopStepped
	}
	j.resumeAt, j.resuming = s.PC, true
	j.breakHit = false
	j.dispatches++
	j.running = true
	exit := j.machine.Run(j.arena.Code(), j.arena.Consts(), entry, s, j.env)
	j.running = false
	j.resuming = false
	j.account(exit, info)
	if mark >= 0 {
		j.arena.RollbackConsts(mark)
	}
	j.applyInvalidations()
	return guest.StopStepped
}

// stepUnit returns the normal entry of a one-instruction unit at the
// current pc. In single-step mode the unit is cached like any block and
// mark is -1; otherwise the unit is left uncommitted and mark is the
// constant position to roll back to once it ran.
func (j *JIT) stepUnit() (entry int, info *unitInfo, mark int, err error) {
	pc := j.state.PC
	if j.singleStep {
		b, err := j.lookup(pc)
		if err != nil {
			return 0, nil, -1, err
		}
		return b.NormalEntry, b.info, -1, nil
	}
	for cleared := false; ; cleared = true {
		info, err := translate(j.builder, j.mem, pc, translateOptions{singleStep: true})
		if err != nil {
			return 0, nil, -1, err
		}
		u := j.builder.Unit()
		mark := j.arena.ConstMark()
		gen, err := generate(j.arena, u, ir.ComputeLiveness(u), pc)
		if err == nil {
			return gen.normalEntry, info, mark, nil
		}
		j.arena.RollbackConsts(mark)
		if !isCapacity(err) {
			return 0, nil, -1, errors.WrapTranslationError(err, errors.KindInternal, pc, "generate step")
		}
		if cleared {
			return 0, nil, -1, errors.Capacityf(pc, "%v", err)
		}
		j.ClearCache()
	}
}

func (j *JIT) runInterpreter() guest.StopReason {
	s := j.state
	j.resume()
	for {
		if j.stop.Swap(false) {
			return guest.StopRequested
		}
		if s.Downcount <= 0 {
			return guest.StopDowncount
		}
		if j.breakpoints[s.PC] && !(j.resuming && s.PC == j.resumeAt) {
			j.lastBreak, j.breakHit = s.PC, true
			return guest.StopBreakpoint
		}
		j.resuming = false
		j.interpreted++
		j.interp.Step()
	}
}

// Lookup returns the cached block at addr, if any.
func (j *JIT) Lookup(addr uint32) *Block { return j.cache.Lookup(addr) }

func (j *JIT) Blocks() []*Block { return j.cache.Blocks() }

// DumpIR translates the unit at addr without compiling it and renders its
// nodes.
func (j *JIT) DumpIR(addr uint32) (string, error) {
	b := ir.NewBuilder()
	b.SetFolding(!j.opts.DisableFolding)
	if _, err := translate(b, j.mem, addr, translateOptions{
		maxInstructions: j.maxInstructions,
		singleStep:      j.singleStep,
		breakAt:         j.hasBreakpoint,
	}); err != nil {
		return "", err
	}
	return ir.Dump(b.Unit(), ir.ComputeLiveness(b.Unit())), nil
}

// DisassembleBlock renders the host code of the block at addr.
func (j *JIT) DisassembleBlock(addr uint32) (string, error) {
	b := j.cache.Lookup(addr)
	if b == nil {
		return "", fmt.Errorf("no block at 0x%08x", addr)
	}
	return host.Disassemble(j.arena.Bytes(b.CodeOffset, b.CodeSize), b.CodeOffset), nil
}

func (j *JIT) Stats() Stats {
	return Stats{
		Cache:        j.cache.Stats(),
		CodeUsed:     j.arena.Used(),
		CodeCapacity: j.arena.Capacity(),
		ConstsUsed:   j.arena.ConstsUsed(),
		Dispatches:   j.dispatches,
		Fallbacks:    j.fallbacks,
		Interpreted:  j.interpreted,
		Stale:        j.stale,
		HostOps:      j.machine.Executed,
		Enabled:      j.enabled,
		SingleStep:   j.singleStep,

		InternalErrors: j.internalErrors,
	}
}

// runtimeEnv is what generated code calls back into.
type runtimeEnv struct {
	j *JIT
}

func (e *runtimeEnv) ReadDirect(addr uint32, size int) uint64 {
	v, _ := e.j.mem.Read(addr, size)
	return v
}

func (e *runtimeEnv) WriteDirect(addr uint32, size int, v uint64) {
	e.j.mem.Write(addr, size, v)
}

func (e *runtimeEnv) ReadChecked(addr uint32, size int) uint64 {
	v, ok := e.j.mem.Read(addr, size)
	if !ok {
		e.j.state.RaiseDSI(addr, false)
	}
	return v
}

func (e *runtimeEnv) WriteChecked(addr uint32, size int, v uint64) {
	if !e.j.mem.Write(addr, size, v) {
		e.j.state.RaiseDSI(addr, true)
	}
}

func (e *runtimeEnv) Interpret(raw, pc uint32) {
	e.j.fallbacks++
	e.j.interp.ExecuteOneOpcode(raw, pc)
}

func (e *runtimeEnv) BreakpointHit(pc uint32) bool {
	j := e.j
	if j.resuming && pc == j.resumeAt {
		j.resuming = false
		return false
	}
	return j.singleStep || j.breakpoints[pc]
}

func (e *runtimeEnv) StopRequested() bool {
	return e.j.stop.Load() || e.j.hasPending.Load()
}
