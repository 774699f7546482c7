// Command nucleus boots the kernel against a software BIOS/device
// emulation and drives it until HALT, a signal, or a PANIC.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"nucleus/internal/bios"
	"nucleus/internal/device"
	"nucleus/internal/nucleus"
)

func main() {
	verbose := flag.Bool("verbose", false, "trace kernel dispatch decisions")
	timeScale := flag.Uint64("timescale", 1, "PLT ticks per millisecond")
	rootPriority := flag.Int("priority", nucleus.PrioHigh, "root test process priority")
	interactive := flag.Bool("interactive", false, "read terminal 0 RX from the attached tty")
	flag.Parse()

	regs := &device.Registers{}
	machine := bios.NewMachine(regs)
	machine.Trace = *verbose

	k := nucleus.NewKernel(machine, *timeScale)
	k.Trace = *verbose

	// TLB-refill and general exception entry points are out of this
	// harness's scope (no real trampoline code to jump to); the vector
	// is populated with placeholder addresses so Bootstrap's contract is
	// exercised the same way cmd/mipsvm/main.go always supplies
	// concrete boot addresses.
	const tlbRefillPC, exceptionPC = 0, 0
	const rootPC, rootSP = 0x1000, 0x8000

	pid, err := k.Bootstrap(tlbRefillPC, exceptionPC, *rootPriority, rootPC, rootSP)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	printIfVerbose(*verbose, "booted root pid=%d", pid)
	k.Scheduler()

	var restore func()
	if *interactive {
		restore = makeRaw(os.Stdin.Fd())
		defer restore()
	}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	keys := make(chan byte, 16)
	if *interactive {
		go pollTerminal(regs, 0, keys)
	}

	go run(k, machine, *timeScale, keys, done)

	select {
	case <-done:
		if reason := machine.PanicReason(); reason != "" {
			log.Printf("nucleus panicked: %s", reason)
			os.Exit(1)
		}
		fmt.Println("nucleus halted")
	case <-sigCh:
		fmt.Println("interrupted, shutting down")
	}
}

// run drives the kernel's exception loop on a single goroutine: every
// mutation of kernel state happens here, never concurrently, matching the
// nucleus's synchronous, non-reentrant design.
func run(k *nucleus.Kernel, m *bios.Machine, timeScale uint64, keys <-chan byte, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			printIfVerbose(true, "recovered: %v", r)
		}
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for !m.Halted() {
		select {
		case <-ticker.C:
			m.AdvanceTOD(1)
			m.FirePLT()
			m.DataPage().Cause = 1 << 31 // interrupt flag, as the BIOS saves it
			k.ExceptionHandler()
		case ch, ok := <-keys:
			if ok {
				m.FireDevice(device.ILTerminal, 0)
				m.DataPage().Cause = 1 << 31
				k.ExceptionHandler()
				_ = ch
			}
		}
	}
}

func pollTerminal(regs *device.Registers, dev int, out chan<- byte) {
	term := device.NewTerminal(regs, dev)
	for {
		ch, err := term.PollKey()
		if err != nil {
			close(out)
			return
		}
		out <- ch
	}
}

func makeRaw(fd uintptr) func() {
	oldState, err := term.MakeRaw(int(fd))
	if err != nil {
		log.Printf("could not set terminal raw mode: %v", err)
		return func() {}
	}
	return func() { _ = term.Restore(int(fd), oldState) }
}

func printIfVerbose(verbose bool, format string, args ...interface{}) {
	if verbose {
		log.Printf(format, args...)
	}
}
