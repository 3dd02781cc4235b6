// Package events reads a contract's event history. It composes getEvents
// key filters from an ABI event definition, scans the log stream from a
// per-query cursor, and decodes logs into normalized records.
package events

import (
	"errors"
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/emperorhan/treasury-sync/internal/abi"
)

// MaxKeyRows is the node's limit on key filter slots, selector included.
const MaxKeyRows = 16

var (
	ErrEventNotFound  = abi.ErrEventNotFound
	ErrAmbiguousEvent = abi.ErrAmbiguousEvent
	ErrCompose        = errors.New("compose event keys")
)

// ComposeKeys returns the full getEvents key filter for ev: the selector row
// followed by the rows Compose derives from filters, truncated to MaxKeyRows.
func ComposeKeys(filters map[string]any, ev abi.Event, contract *abi.ABI) ([][]string, error) {
	keys := [][]string{{ev.Selector().String()}}
	if len(filters) > 0 {
		rows, err := Compose(filters, ev, contract)
		if err != nil {
			return nil, err
		}
		keys = append(keys, rows...)
	}
	if len(keys) > MaxKeyRows {
		keys = keys[:MaxKeyRows]
	}
	return keys, nil
}

// Compose derives positional key rows for the key members of ev. An empty
// row is a wildcard.
//
// A member with a value encodes to one row per felt. A list of alternatives
// (for a non-array member, or a list of lists for an array member) yields
// rows that each hold the i-th felt of every alternative; alternatives of
// different widths end composition. A member without a value yields
// wildcard rows when its width is fixed and ends composition otherwise.
func Compose(filters map[string]any, ev abi.Event, contract *abi.ABI) ([][]string, error) {
	if ev.Kind != abi.EventKindStruct {
		return nil, nil
	}

	var rows [][]string
	for _, m := range ev.KeyMembers() {
		value, supplied := filters[m.Name]
		if alts, ok := value.([]any); supplied && ok && len(alts) == 0 {
			supplied = false
		}

		if !supplied {
			width, fixed := abi.FixedWidth(m.Type)
			if !fixed {
				break
			}
			for i := 0; i < width; i++ {
				rows = append(rows, []string{})
			}
			continue
		}

		alts, isAlternatives := alternatives(value, m.Type)
		if !isAlternatives {
			enc, err := contract.Encode(value, m.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: member %q: %w", ErrCompose, m.Name, err)
			}
			for _, f := range enc {
				rows = append(rows, []string{f.String()})
			}
			continue
		}

		encoded := make([][]*felt.Felt, 0, len(alts))
		for i, alt := range alts {
			enc, err := contract.Encode(alt, m.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: member %q alternative %d: %w", ErrCompose, m.Name, i, err)
			}
			encoded = append(encoded, enc)
		}
		if !uniformWidth(encoded) {
			break
		}
		rows = append(rows, mergeAlternatives(encoded)...)
	}
	return rows, nil
}

// alternatives reports whether value lists several candidate values for a
// member of type t rather than a single value.
func alternatives(value any, t string) ([]any, bool) {
	list, ok := value.([]any)
	if !ok {
		return nil, false
	}
	if !abi.IsArray(t) {
		return list, true
	}
	for _, item := range list {
		if _, nested := item.([]any); !nested {
			return nil, false
		}
	}
	return list, true
}

func uniformWidth(encoded [][]*felt.Felt) bool {
	if len(encoded) == 0 {
		return false
	}
	for _, e := range encoded[1:] {
		if len(e) != len(encoded[0]) {
			return false
		}
	}
	return true
}

func mergeAlternatives(encoded [][]*felt.Felt) [][]string {
	rows := make([][]string, len(encoded[0]))
	for i := range rows {
		row := make([]string, len(encoded))
		for j, alt := range encoded {
			row[j] = alt[i].String()
		}
		rows[i] = row
	}
	return rows
}
