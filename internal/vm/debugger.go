// debugger.go - interactive debugging support, adapted from the teacher's
// pkg/vm/debugger.go breakpoint/step/inspect command set for the register
// VM's Frame/Chunk shape in place of the stack machine's operand stack.
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/heap"
)

// Debugger provides interactive debugging capabilities for the VM.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool // instruction positions where execution should pause
	stepMode    bool         // if true, pause after each instruction
	enabled     bool
}

// NewDebugger creates a new debugger instance.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, breakpoints: make(map[int]bool)}
}

func (d *Debugger) Enable()  { d.enabled = true }
func (d *Debugger) Disable() { d.enabled = false }

// SetStepMode enables or disables step mode.
func (d *Debugger) SetStepMode(enabled bool) { d.stepMode = enabled }

func (d *Debugger) AddBreakpoint(ip int)    { d.breakpoints[ip] = true }
func (d *Debugger) RemoveBreakpoint(ip int) { delete(d.breakpoints, ip) }
func (d *Debugger) ClearBreakpoints()       { d.breakpoints = make(map[int]bool) }

// ShouldPause reports whether execution should pause before the next
// instruction in frame.
func (d *Debugger) ShouldPause(frame *Frame) bool {
	if !d.enabled {
		return false
	}
	if d.stepMode {
		return true
	}
	return d.breakpoints[frame.PC]
}

// ShowCurrentInstruction displays the current instruction being executed.
func (d *Debugger) ShowCurrentInstruction(frame *Frame) {
	if frame.PC >= len(frame.Chunk.Code) {
		fmt.Println("No current instruction")
		return
	}
	inst := frame.Chunk.Code[frame.PC]
	fmt.Printf("  %4d: %s", frame.PC, inst.Op)
	d.formatOperands(inst)
	fmt.Println()
}

func (d *Debugger) formatOperands(inst bytecode.Instr) {
	fmt.Printf(" A=%d B=%d C=%d D=%d", inst.A, inst.B, inst.C, inst.D)
}

// ShowRegisters displays the current frame's register file.
func (d *Debugger) ShowRegisters(frame *Frame) {
	fmt.Println("Registers:")
	if len(frame.Regs) == 0 {
		fmt.Println("  (none)")
		return
	}
	for i, v := range frame.Regs {
		fmt.Printf("  [%d] %s\n", i, d.vm.DebugValue(v))
	}
}

// ShowScope displays the current frame's scope chain, innermost first.
func (d *Debugger) ShowScope(frame *Frame) {
	fmt.Println("Scope chain:")
	depth := 0
	for s := frame.Scope; s != nil; s = s.Parent {
		fmt.Printf("  depth %d:\n", depth)
		for name, b := range s.Vars {
			n, _ := d.vm.Interner.Resolve(name)
			fmt.Printf("    %s = %s\n", n, d.vm.DebugValue(b.Value))
		}
		depth++
	}
}

// ShowCallStack walks Frame.Caller links from frame. The VM creates every
// frame with a nil Caller (nested bytecode calls recurse through CallValue
// rather than a single shared frame slice, see vm.go's CallValue doc), so
// only frame itself is listed.
func (d *Debugger) ShowCallStack(frame *Frame) {
	fmt.Println("Call stack (innermost first):")
	for f := frame; f != nil; f = f.Caller {
		name := f.Chunk.Name
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Printf("  %s [PC: %d]\n", name, f.PC)
	}
}

// InteractivePrompt pauses execution and accepts debugger commands.
// Returns whether to continue execution at all (false = abort).
func (d *Debugger) InteractivePrompt(frame *Frame) (continueExecution bool) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("\n=== Debugger Paused ===")
	d.ShowCurrentInstruction(frame)

	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		command := parts[0]

		switch command {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.SetStepMode(false)
			return true
		case "step", "s", "next", "n":
			d.SetStepMode(true)
			return true
		case "registers", "r":
			d.ShowRegisters(frame)
		case "scope", "sc":
			d.ShowScope(frame)
		case "callstack", "cs":
			d.ShowCallStack(frame)
		case "instruction", "i":
			d.ShowCurrentInstruction(frame)
		case "breakpoint", "b":
			if len(parts) < 2 {
				fmt.Println("Usage: breakpoint <instruction_number>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.AddBreakpoint(ip)
			fmt.Printf("Breakpoint added at instruction %d\n", ip)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("Usage: delete <instruction_number>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.RemoveBreakpoint(ip)
			fmt.Printf("Breakpoint removed at instruction %d\n", ip)
		case "list", "ls":
			d.listInstructions(frame)
		case "quit", "q":
			return false
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", command)
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("Debugger Commands:")
	fmt.Println("  help, h, ?           Show this help")
	fmt.Println("  continue, c          Continue execution")
	fmt.Println("  step, s, next, n     Execute one instruction, then pause again")
	fmt.Println("  registers, r         Show current frame's registers")
	fmt.Println("  scope, sc            Show current frame's scope chain")
	fmt.Println("  callstack, cs        Show call stack")
	fmt.Println("  instruction, i       Show current instruction")
	fmt.Println("  breakpoint <n>, b    Add breakpoint at instruction n")
	fmt.Println("  delete <n>, d        Remove breakpoint at instruction n")
	fmt.Println("  list, ls             List all instructions in the current chunk")
	fmt.Println("  quit, q              Quit debugging (abort execution)")
}

func (d *Debugger) listInstructions(frame *Frame) {
	fmt.Println("Instructions:")
	for i, inst := range frame.Chunk.Code {
		marker := "  "
		if i == frame.PC {
			marker = "->"
		} else if d.breakpoints[i] {
			marker = "*"
		}
		fmt.Printf("%s %4d: %s", marker, i, inst.Op)
		d.formatOperands(inst)
		fmt.Println()
	}
}

// DebugValue renders a Value for debugger/REPL display; not used for
// program-observable ToString (spec.md §4.3 keeps that VM-internal).
func (vm *VM) DebugValue(v heap.Value) string {
	return vm.toStringValue(v)
}
