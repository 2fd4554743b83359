// Package platform defines the host capability traits spec.md §6 calls for
// (time, randomness, console output, regular expressions) and std-backed
// default implementations, grounded on original_source/src/platform/mod.rs's
// same four-trait split. The VM/runtime core never reaches into os/time/
// math-rand directly; it only ever calls through these interfaces, so an
// embedder can swap in deterministic or sandboxed versions wholesale.
package platform

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dlclark/regexp2"
)

// TimeProvider backs Date.now() (spec.md §1's single in-scope Date entry
// point) and any timer-adjacent diagnostics.
type TimeProvider interface {
	NowMillis() int64
}

// RandomProvider backs Math.random().
type RandomProvider interface {
	Float64() float64
}

// ConsoleProvider backs the console.log/warn/error/info global the VM's
// stdlib installs (spec.md §6); output the embedded program produces never
// goes through the runtime's own zerolog logger (see internal/runtime).
type ConsoleProvider interface {
	Log(args ...string)
	Warn(args ...string)
	Error(args ...string)
	Info(args ...string)
}

// CompiledRegExp is the result of compiling a pattern, matching
// heap.CompiledRegex's IsMatch plus the richer operations spec.md §6 and
// SPEC_FULL.md §2 name for a full RegExp capability.
type CompiledRegExp interface {
	IsMatch(s string) bool
	Find(s string) (start, end int, ok bool)
	FindAll(s string) [][2]int
	Split(s string) []string
	Replace(s, repl string, all bool) string
}

// RegExpProvider compiles ECMAScript-syntax regex patterns. Go's stdlib
// regexp (RE2) cannot express backreferences or lookaround that JS regex
// literals allow, so this is backed by dlclark/regexp2 rather than stdlib
// (SPEC_FULL.md §2 "the one domain concern explicitly worth a non-stdlib
// engine").
type RegExpProvider interface {
	Compile(pattern, flags string) (CompiledRegExp, error)
}

// Capabilities bundles the four traits a Runtime is constructed with.
type Capabilities struct {
	Time    TimeProvider
	Random  RandomProvider
	Console ConsoleProvider
	RegExp  RegExpProvider
}

// Default returns std-backed implementations of every capability, writing
// console output to stdout/stderr.
func Default() *Capabilities {
	return &Capabilities{
		Time:    StdTime{},
		Random:  StdRandom{},
		Console: NewStdConsole(os.Stdout, os.Stderr),
		RegExp:  Regexp2Provider{},
	}
}

// StdTime is the time.Now-backed TimeProvider.
type StdTime struct{}

func (StdTime) NowMillis() int64 { return time.Now().UnixMilli() }

// StdRandom is the math/rand/v2-backed RandomProvider. rand/v2's top-level
// functions are safe for concurrent use and self-seeded, matching
// spec.md §5's single-threaded-but-reentrant execution model without the
// host needing to manage a seed.
type StdRandom struct{}

func (StdRandom) Float64() float64 { return rand.Float64() }

// StdConsole writes to the given writers, one line per call joining args
// with a space the way Node's console does.
type StdConsole struct {
	Out, Err io.Writer
}

func NewStdConsole(out, err io.Writer) StdConsole {
	return StdConsole{Out: out, Err: err}
}

func (c StdConsole) Log(args ...string)   { c.writeln(c.Out, "", args) }
func (c StdConsole) Info(args ...string)  { c.writeln(c.Out, "", args) }
func (c StdConsole) Warn(args ...string)  { c.writeln(c.Err, "warn: ", args) }
func (c StdConsole) Error(args ...string) { c.writeln(c.Err, "error: ", args) }

func (c StdConsole) writeln(w io.Writer, prefix string, args []string) {
	fmt.Fprint(w, prefix)
	for i, a := range args {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		fmt.Fprint(w, a)
	}
	fmt.Fprintln(w)
}

// Regexp2Provider compiles patterns with dlclark/regexp2, translating the
// common JS flag letters (i, m, s, g handled by the caller doing repeated
// matches) to regexp2.RegexOptions.
type Regexp2Provider struct{}

func (Regexp2Provider) Compile(pattern, flags string) (CompiledRegExp, error) {
	opts := regexp2.RegexOptions(0)
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	return &compiledRegexp2{re: re}, nil
}

type compiledRegexp2 struct {
	re *regexp2.Regexp
}

func (c *compiledRegexp2) IsMatch(s string) bool {
	m, err := c.re.FindStringMatch(s)
	return err == nil && m != nil
}

func (c *compiledRegexp2) Find(s string) (int, int, bool) {
	m, err := c.re.FindStringMatch(s)
	if err != nil || m == nil {
		return 0, 0, false
	}
	return m.Index, m.Index + m.Length, true
}

func (c *compiledRegexp2) FindAll(s string) [][2]int {
	var out [][2]int
	m, err := c.re.FindStringMatch(s)
	for err == nil && m != nil {
		out = append(out, [2]int{m.Index, m.Index + m.Length})
		m, err = c.re.FindNextMatch(m)
	}
	return out
}

func (c *compiledRegexp2) Split(s string) []string {
	bounds := c.FindAll(s)
	if len(bounds) == 0 {
		return []string{s}
	}
	var out []string
	prev := 0
	for _, b := range bounds {
		out = append(out, s[prev:b[0]])
		prev = b[1]
	}
	out = append(out, s[prev:])
	return out
}

func (c *compiledRegexp2) Replace(s, repl string, all bool) string {
	count := 1
	if all {
		count = -1
	}
	out, err := c.re.Replace(s, repl, -1, count)
	if err != nil {
		return s
	}
	return out
}
