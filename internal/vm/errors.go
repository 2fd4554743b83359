// errors.go - runtime error handling with stack traces, adapted from the
// teacher's pkg/vm/errors.go idiom for the register VM's Frame shape.
package vm

import (
	"fmt"
	"strings"
)

// StackFrame is one entry of a RuntimeError's captured call stack.
type StackFrame struct {
	Name       string
	IP         int
	SourceLine int
	SourceCol  int
}

// RuntimeError is an internal VM fault (call-stack overflow, malformed
// bytecode, an uncaught thrown JS value) distinguished from the JS-level
// thrown Value itself, which the caller wraps separately (spec.md §4.7,
// §7 "Uncaught errors").
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			b.WriteString(fmt.Sprintf("\n  at %s", f.Name))
			if f.SourceLine > 0 {
				b.WriteString(fmt.Sprintf(" [line %d:%d]", f.SourceLine, f.SourceCol))
			}
			b.WriteString(fmt.Sprintf(" [IP: %d]", f.IP))
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}

// MaxCallDepth bounds the frame stack (spec.md §5 "Resource limits"); a
// program recursing past this depth gets a catchable RangeError rather
// than exhausting host memory.
const MaxCallDepth = 2048
