package heap

// WellKnown holds the process/runtime-scoped well-known symbol singletons
// named in spec.md §9 ("Global well-known symbols ... allocated at runtime
// construction; never collected"). A single Heap owns exactly one of these,
// created by NewWellKnown at runtime start.
type WellKnown struct {
	Iterator      SymbolId
	AsyncIterator SymbolId
	Species       SymbolId
	ToStringTag   SymbolId
	HasInstance   SymbolId
}

// NewWellKnown allocates the well-known symbols on h. They are ordinary
// Heap symbols (not registry entries — they have no string key a user
// program could collide with via Symbol.for) and are never swept because
// the Runtime keeps them referenced for its entire lifetime.
func NewWellKnown(h *Heap) *WellKnown {
	return &WellKnown{
		Iterator:      h.NewSymbol(),
		AsyncIterator: h.NewSymbol(),
		Species:       h.NewSymbol(),
		ToStringTag:   h.NewSymbol(),
		HasInstance:   h.NewSymbol(),
	}
}
