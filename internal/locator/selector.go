package locator

import "github.com/rzbill/rtps/pkg/guid"

type selectorEntry struct {
	reader  *ReaderLocator
	enabled bool
}

// Selector aggregates the destinations of remote readers.
type Selector struct {
	entries  []selectorEntry
	selected []Locator
	dirty    bool
}

// NewSelector returns an empty selector.
func NewSelector() *Selector { return &Selector{} }

// Add registers a reader, enabled.
func (s *Selector) Add(r *ReaderLocator) {
	for i := range s.entries {
		if s.entries[i].reader.GUID() == r.GUID() {
			s.entries[i] = selectorEntry{reader: r, enabled: true}
			s.dirty = true
			return
		}
	}
	s.entries = append(s.entries, selectorEntry{reader: r, enabled: true})
	s.dirty = true
}

// Remove drops a reader and reports whether it was present.
func (s *Selector) Remove(g guid.GUID) bool {
	for i := range s.entries {
		if s.entries[i].reader.GUID() == g {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// Clear drops every reader.
func (s *Selector) Clear() {
	s.entries = s.entries[:0]
	s.selected = nil
	s.dirty = false
}

// Len returns the number of registered readers.
func (s *Selector) Len() int { return len(s.entries) }

// Reset enables or disables every entry.
func (s *Selector) Reset(enable bool) {
	for i := range s.entries {
		s.entries[i].enabled = enable
	}
	s.dirty = true
}

// Enable enables one entry and reports whether it exists.
func (s *Selector) Enable(g guid.GUID) bool {
	for i := range s.entries {
		if s.entries[i].reader.GUID() == g {
			s.entries[i].enabled = true
			s.dirty = true
			return true
		}
	}
	return false
}

// Touch marks the selection stale after a reader's locators changed.
func (s *Selector) Touch() { s.dirty = true }

// Dirty reports whether Compute must run before the next send.
func (s *Selector) Dirty() bool { return s.dirty }

// Compute rebuilds the de-duplicated destination set from enabled entries.
func (s *Selector) Compute() []Locator {
	s.selected = s.selected[:0]
	for _, e := range s.entries {
		if !e.enabled {
			continue
		}
		for _, l := range e.reader.Destinations() {
			if !contains(s.selected, l) {
				s.selected = append(s.selected, l)
			}
		}
	}
	s.dirty = false
	return s.selected
}

// Selected returns the last computed set.
func (s *Selector) Selected() []Locator { return s.selected }

// EnabledGUIDs lists the readers that contribute to the selection.
func (s *Selector) EnabledGUIDs() []guid.GUID {
	out := make([]guid.GUID, 0, len(s.entries))
	for _, e := range s.entries {
		if e.enabled {
			out = append(out, e.reader.GUID())
		}
	}
	return out
}
