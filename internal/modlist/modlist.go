// Package modlist models a server's Steam Workshop mod configuration and
// converts between the structured form and the two option strings the game
// understands: Mods= (mod ids the engine loads) and WorkshopItems= (workshop
// packages the server downloads).
package modlist

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigParse indicates a remote configuration string that cannot be
// interpreted. Syncing aborts on it since no safe default exists.
var ErrConfigParse = errors.New("modlist: malformed configuration")

// Entry is one workshop package in a server's desired mod state. A single
// workshop id may bundle several mod ids; only the enabled subset is
// written to the Mods= line.
//
// Invariants: EnabledModIDs is always a subset of ModIDs, and insertion
// order of ModIDs is meaningful for serialization.
type Entry struct {
	WorkshopID    string   `json:"workshop_id"`
	ModIDs        []string `json:"mod_ids"`
	EnabledModIDs []string `json:"enabled_mod_ids"`
	Name          string   `json:"name,omitempty"`
}

// Enabled reports whether any mod id of the entry is enabled.
func (e *Entry) Enabled() bool {
	return len(e.EnabledModIDs) > 0
}

// Validate checks the entry invariants.
func (e *Entry) Validate() error {
	if e.WorkshopID == "" {
		return fmt.Errorf("%w: entry without workshop id", ErrConfigParse)
	}
	known := make(map[string]bool, len(e.ModIDs))
	for _, id := range e.ModIDs {
		if known[id] {
			return fmt.Errorf("%w: duplicate mod id %q in workshop %s", ErrConfigParse, id, e.WorkshopID)
		}
		known[id] = true
	}
	for _, id := range e.EnabledModIDs {
		if !known[id] {
			return fmt.Errorf("%w: enabled mod id %q not in mod ids of workshop %s", ErrConfigParse, id, e.WorkshopID)
		}
	}
	return nil
}

// AddModIDs merges ids into ModIDs, preserving existing order and skipping
// duplicates.
func (e *Entry) AddModIDs(ids ...string) {
	known := make(map[string]bool, len(e.ModIDs))
	for _, id := range e.ModIDs {
		known[id] = true
	}
	for _, id := range ids {
		if id != "" && !known[id] {
			e.ModIDs = append(e.ModIDs, id)
			known[id] = true
		}
	}
}

// SetEnabled replaces EnabledModIDs with the intersection of ids and
// ModIDs, keeping ModIDs order.
func (e *Entry) SetEnabled(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	e.EnabledModIDs = e.EnabledModIDs[:0]
	for _, id := range e.ModIDs {
		if want[id] {
			e.EnabledModIDs = append(e.EnabledModIDs, id)
		}
	}
	if len(e.EnabledModIDs) == 0 {
		e.EnabledModIDs = nil
	}
}

// Report is the configuration a server currently reports: the flat id
// lists parsed from its Mods= and WorkshopItems= options.
type Report struct {
	ModIDs      []string
	WorkshopIDs []string
}

// SplitIDs splits a raw option value into cleaned ids: separators are ';'
// (and ',' for tolerance), surrounding whitespace and quotes are trimmed,
// a leading backslash on mod ids is stripped, empties are dropped, and
// duplicates are removed preserving first-seen order.
func SplitIDs(raw string) []string {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return nil
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ','
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		id := strings.TrimPrefix(strings.TrimSpace(f), `\`)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ParseReport builds a Report from the raw values of the Mods= and
// WorkshopItems= options.
func ParseReport(modsValue, workshopValue string) Report {
	return Report{
		ModIDs:      SplitIDs(modsValue),
		WorkshopIDs: SplitIDs(workshopValue),
	}
}

// Serialize renders entries into the two option values. A workshop id
// appears in the workshop value exactly once if any of its mod ids is
// enabled; the mods value carries every enabled mod id and only those, in
// entry order then within-entry order.
func Serialize(entries []*Entry) (modsValue, workshopValue string) {
	var mods, workshops []string
	for _, e := range entries {
		if !e.Enabled() {
			continue
		}
		mods = append(mods, e.EnabledModIDs...)
		workshops = append(workshops, e.WorkshopID)
	}
	return strings.Join(mods, ";"), strings.Join(workshops, ";")
}

// CommandValues renders the option values as they are passed to the
// changeoption command. The game expects mod ids prefixed with a backslash
// in the Mods option; workshop ids are passed bare.
func CommandValues(entries []*Entry) (modsValue, workshopValue string) {
	var mods, workshops []string
	for _, e := range entries {
		if !e.Enabled() {
			continue
		}
		for _, id := range e.EnabledModIDs {
			mods = append(mods, `\`+id)
		}
		workshops = append(workshops, e.WorkshopID)
	}
	return strings.Join(mods, ";"), strings.Join(workshops, ";")
}

// FindEntry returns the entry with the given workshop id, or nil.
func FindEntry(entries []*Entry, workshopID string) *Entry {
	for _, e := range entries {
		if e.WorkshopID == workshopID {
			return e
		}
	}
	return nil
}
