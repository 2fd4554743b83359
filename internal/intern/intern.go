// Package intern implements the runtime's string interner.
//
// Every identifier, property-key string, and string constant that flows through
// the lexer, parser, compiler, and bytecode chunks is represented by a small
// integer Id rather than a copy of the string itself. Interning is idempotent:
// interning the same content twice returns the same Id, so Ids can be compared
// by identity (==) instead of content, and hashing a PropertyKey never touches
// the string bytes.
//
// The interner is process-local and single-threaded, matching the runtime's
// single-threaded execution model (spec.md §4.1, §5): no locking is done here,
// callers must not share a Table across goroutines.
package intern

// Id identifies an interned string. The zero Id is reserved for the empty
// string: Intern("") returns 0 and Table.Resolve(0) returns ("", true).
type Id int32

// Table assigns small integer identifiers to strings.
type Table struct {
	strings []string
	ids     map[string]Id
}

// New creates an empty interner. Id 0 is reserved so the zero value of Id
// can be used as a "no identifier" sentinel by callers (e.g. an unset
// PropertyKey field).
func New() *Table {
	return &Table{
		strings: []string{""},
		ids:     map[string]Id{"": 0},
	}
}

// Intern returns the Id for s, allocating a new one on first use.
// Interning the same content always returns the same Id.
func (t *Table) Intern(s string) Id {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := Id(len(t.strings))
	t.strings = append(t.strings, s)
	t.ids[s] = id
	return id
}

// Resolve returns the string for id and whether id was known.
func (t *Table) Resolve(id Id) (string, bool) {
	if id < 0 || int(id) >= len(t.strings) {
		return "", false
	}
	return t.strings[id], true
}

// MustResolve resolves id or panics. Used internally where id is known by
// construction to have come from this table (e.g. decoding a chunk's own
// constant pool) and a failure indicates a compiler or VM bug, not host error.
func (t *Table) MustResolve(id Id) string {
	s, ok := t.Resolve(id)
	if !ok {
		panic("intern: unknown id")
	}
	return s
}

// Len reports how many distinct strings (including the reserved empty
// string at Id 0) are currently interned.
func (t *Table) Len() int {
	return len(t.strings)
}
