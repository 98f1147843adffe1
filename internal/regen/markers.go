package regen

import (
	"fmt"
	"sync"

	"regenbot/internal/block"
)

// Default marker template names.
var (
	DefaultStartAliases = []string{"Wikidata list"}
	DefaultEndAliases   = []string{"Wikidata list end"}
)

// Markers is the marker vocabulary of one collection.
type Markers struct {
	Locator *block.Locator
	Aliases []string // accepted start marker names
}

func NewMarkers(start, end []string) (Markers, error) {
	if len(start) == 0 {
		start = DefaultStartAliases
	}
	if len(end) == 0 {
		end = DefaultEndAliases
	}
	loc, err := block.NewLocator(start, end)
	if err != nil {
		return Markers{}, err
	}
	return Markers{Locator: loc, Aliases: append([]string(nil), start...)}, nil
}

// MarkerTable maps collections to markers, falling back to a default.
// It is safe for concurrent use and can be replaced on config reload.
type MarkerTable struct {
	mu    sync.RWMutex
	def   Markers
	byKey map[string]Markers
}

func NewMarkerTable(def Markers) *MarkerTable {
	return &MarkerTable{def: def, byKey: map[string]Markers{}}
}

// Replace swaps the per-collection table.
func (t *MarkerTable) Replace(def Markers, byCollection map[string]Markers) {
	cp := make(map[string]Markers, len(byCollection))
	for k, v := range byCollection {
		cp[k] = v
	}
	t.mu.Lock()
	t.def = def
	t.byKey = cp
	t.mu.Unlock()
}

func (t *MarkerTable) Markers(collection string) (Markers, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.byKey[collection]; ok {
		return m, nil
	}
	if t.def.Locator == nil {
		return Markers{}, fmt.Errorf("no markers configured for %q", collection)
	}
	return t.def, nil
}
