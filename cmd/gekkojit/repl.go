package main

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/docker/go-units"

	"gekkojit/pkg/ppc"
)

// defaultRunSlices bounds a bare run so a spinning guest returns to the prompt.
const defaultRunSlices = 1000

const prompt = "\033[32mgekko>\033[0m "

var completer = readline.NewPrefixCompleter(
	readline.PcItem("step"),
	readline.PcItem("run"),
	readline.PcItem("break"),
	readline.PcItem("unbreak"),
	readline.PcItem("breaks"),
	readline.PcItem("jit", readline.PcItem("on"), readline.PcItem("off")),
	readline.PcItem("regs"),
	readline.PcItem("blocks"),
	readline.PcItem("ir"),
	readline.PcItem("host"),
	readline.PcItem("dis"),
	readline.PcItem("stats"),
	readline.PcItem("save"),
	readline.PcItem("load"),
	readline.PcItem("slots"),
	readline.PcItem("clear"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

const help = `step [n]          execute n instructions (default 1)
run [slices]      run until a breakpoint, at most 1000 slices by default
break <addr>      set a breakpoint; unbreak <addr> removes it; breaks lists them
jit on|off        switch between translation and the interpreter
regs              show the register file
blocks            list cached blocks
ir <addr>         show the IR built for the unit at addr
host <addr>       disassemble the host code of the block at addr
dis <addr> [n]    disassemble guest instructions
stats             show translator statistics
save|load <slot>  write or restore a snapshot; slots lists them
clear             drop every translated block
quit              leave`

type command func(e *emulator, args []string) error

var commands = map[string]command{
	"step":    cmdStep,
	"run":     cmdRun,
	"break":   cmdBreak,
	"unbreak": cmdUnbreak,
	"breaks":  cmdBreaks,
	"jit":     cmdJIT,
	"regs":    cmdRegs,
	"blocks":  cmdBlocks,
	"ir":      cmdIR,
	"host":    cmdHost,
	"dis":     cmdDis,
	"stats":   cmdStats,
	"save":    cmdSave,
	"load":    cmdLoad,
	"slots":   cmdSlots,
	"clear":   cmdClear,
}

func repl(e *emulator) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".gekkojit-history.tmp",
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		log.Fatalf("Failed to start console: %v", err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return
			}
			continue
		} else if err == io.EOF {
			return
		} else if err != nil {
			log.Printf("Console error: %v", err)
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "help", "?":
			fmt.Println(help)
			continue
		}
		cmd, ok := commands[fields[0]]
		if !ok {
			fmt.Printf("unknown command %q, try help\n", fields[0])
			continue
		}
		if err := cmd(e, fields[1:]); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func addressArg(args []string) (uint32, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing address")
	}
	return parseAddress(args[0])
}

func countArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	return strconv.Atoi(args[0])
}

func cmdStep(e *emulator, args []string) error {
	n, err := countArg(args, 1)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		pc := e.state.PC
		e.jit.SingleStep()
		raw, _ := e.mem.Read32(pc)
		fmt.Printf("%08x  %s\n", pc, ppc.Disassemble(ppc.Inst(raw), pc))
	}
	fmt.Println(e.state)
	return nil
}

func cmdRun(e *emulator, args []string) error {
	n, err := countArg(args, defaultRunSlices)
	if err != nil {
		return err
	}
	reason := e.runSlices(n)
	fmt.Printf("stopped (%s) at %08x\n", reason, e.state.PC)
	return nil
}

func cmdBreak(e *emulator, args []string) error {
	addr, err := addressArg(args)
	if err != nil {
		return err
	}
	e.jit.AddBreakpoint(addr)
	return nil
}

func cmdUnbreak(e *emulator, args []string) error {
	addr, err := addressArg(args)
	if err != nil {
		return err
	}
	e.jit.RemoveBreakpoint(addr)
	return nil
}

func cmdBreaks(e *emulator, args []string) error {
	for _, addr := range e.jit.Breakpoints() {
		fmt.Printf("%08x\n", addr)
	}
	return nil
}

func cmdJIT(e *emulator, args []string) error {
	if len(args) == 0 {
		fmt.Println("jit enabled:", e.jit.Enabled())
		return nil
	}
	switch args[0] {
	case "on":
		e.jit.SetEnabled(true)
	case "off":
		e.jit.SetEnabled(false)
	default:
		return fmt.Errorf("jit on|off")
	}
	return nil
}

func cmdRegs(e *emulator, args []string) error {
	s := e.state
	for i := 0; i < 32; i += 4 {
		fmt.Printf("r%-2d %08x  r%-2d %08x  r%-2d %08x  r%-2d %08x\n",
			i, s.GPR[i], i+1, s.GPR[i+1], i+2, s.GPR[i+2], i+3, s.GPR[i+3])
	}
	fmt.Printf("ca %d  srr0 %08x  srr1 %08x  dar %08x  dsisr %08x\n", s.CA, s.SRR0, s.SRR1, s.DAR, s.DSISR)
	fmt.Println(s)
	return nil
}

func cmdBlocks(e *emulator, args []string) error {
	for _, b := range e.jit.Blocks() {
		linked := 0
		for _, l := range b.Links {
			if l.Linked {
				linked++
			}
		}
		fmt.Printf("%08x  %4d guest bytes  %5d host bytes  links %d/%d\n",
			b.Start, b.GuestSize, b.CodeSize, linked, len(b.Links))
	}
	return nil
}

func cmdIR(e *emulator, args []string) error {
	addr, err := addressArg(args)
	if err != nil {
		return err
	}
	out, err := e.jit.DumpIR(addr)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func cmdHost(e *emulator, args []string) error {
	addr, err := addressArg(args)
	if err != nil {
		return err
	}
	out, err := e.jit.DisassembleBlock(addr)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func cmdDis(e *emulator, args []string) error {
	addr, err := addressArg(args)
	if err != nil {
		return err
	}
	n, err := countArg(args[1:], 8)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		pc := addr + uint32(4*i)
		raw, ok := e.mem.Read32(pc)
		if !ok {
			return fmt.Errorf("%08x is not mapped", pc)
		}
		fmt.Printf("%08x  %08x  %s\n", pc, raw, ppc.Disassemble(ppc.Inst(raw), pc))
	}
	return nil
}

func cmdStats(e *emulator, args []string) error {
	st := e.jit.Stats()
	fmt.Printf("blocks %d  links %d  compiles %d  evictions %d  clears %d\n",
		st.Cache.Blocks, st.Cache.Links, st.Cache.Compiles, st.Cache.Evictions, st.Cache.Clears)
	fmt.Printf("code %s of %s  consts %d\n",
		units.BytesSize(float64(st.CodeUsed)), units.BytesSize(float64(st.CodeCapacity)), st.ConstsUsed)
	fmt.Printf("dispatches %d  fallbacks %d  interpreted %d  stale %d  host ops %d\n",
		st.Dispatches, st.Fallbacks, st.Interpreted, st.Stale, st.HostOps)
	if st.InternalErrors > 0 {
		fmt.Printf("internal errors %d, last: %v\n", st.InternalErrors, e.jit.LastInternalError())
	}
	return nil
}

func cmdSave(e *emulator, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing slot")
	}
	store, err := e.openStore()
	if err != nil {
		return err
	}
	info, err := store.Save(args[0], e.state, e.mem)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s as %s\n", info.Slot, info.ID)
	return nil
}

func cmdLoad(e *emulator, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing slot")
	}
	store, err := e.openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(args[0])
	if err != nil {
		return err
	}
	if err := snap.Restore(e.state, e.mem, e.jit); err != nil {
		return err
	}
	fmt.Printf("loaded %s from %s\n", snap.ID, snap.Created.Format("2006-01-02 15:04:05"))
	return nil
}

func cmdSlots(e *emulator, args []string) error {
	store, err := e.openStore()
	if err != nil {
		return err
	}
	infos, err := store.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%-12s %s  %s  %s\n", info.Slot, info.ID,
			info.Created.Format("2006-01-02 15:04:05"), units.BytesSize(float64(info.RAMSize)))
	}
	return nil
}

func cmdClear(e *emulator, args []string) error {
	e.jit.ClearCache()
	return nil
}
