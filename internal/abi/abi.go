// Package abi parses Cairo 1 contract ABIs and encodes or decodes values
// against the types they declare.
package abi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/utils"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

var (
	ErrEventNotFound  = errors.New("event not found in contract ABI")
	ErrAmbiguousEvent = errors.New("ambiguous event name")
	ErrUnknownType    = errors.New("unknown ABI type")
)

const (
	EventKindStruct = "struct"
	EventKindEnum   = "enum"
)

type entry struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Members  []field `json:"members"`
	Variants []field `json:"variants"`
	Items    []entry `json:"items"`
}

type field struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// Event is an ABI event definition. Struct events carry Members; enum
// events carry Variants naming other events.
type Event struct {
	Name     string
	Kind     string
	Members  []model.EventMember
	Variants []model.EventMember
}

// ShortName is the last path segment of the fully-qualified event name.
func (e Event) ShortName() string {
	return shortName(e.Name)
}

// Selector is the first key of every log emitted for this event.
func (e Event) Selector() *felt.Felt {
	return utils.GetSelectorFromNameFelt(e.ShortName())
}

func (e Event) KeyMembers() []model.EventMember {
	return e.membersOfKind(model.MemberKindKey)
}

func (e Event) DataMembers() []model.EventMember {
	return e.membersOfKind(model.MemberKindData)
}

func (e Event) membersOfKind(kind string) []model.EventMember {
	var out []model.EventMember
	for _, m := range e.Members {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Member is a struct member or enum variant.
type Member struct {
	Name string
	Type string
}

type Struct struct {
	Name    string
	Members []Member
}

type Enum struct {
	Name     string
	Variants []Member
}

// ABI is a parsed contract ABI.
type ABI struct {
	events  []Event
	structs map[string]Struct
	enums   map[string]Enum
}

// Parse accepts the ABI either as a JSON array or as a JSON string holding
// that array, which is how some nodes return class ABIs.
func Parse(raw []byte) (*ABI, error) {
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		var nested string
		if json.Unmarshal(raw, &nested) != nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		if err := json.Unmarshal([]byte(nested), &entries); err != nil {
			return nil, fmt.Errorf("parse abi string: %w", err)
		}
	}

	a := &ABI{
		structs: make(map[string]Struct),
		enums:   make(map[string]Enum),
	}
	a.add(entries)
	return a, nil
}

func (a *ABI) add(entries []entry) {
	for _, e := range entries {
		switch e.Type {
		case "event":
			ev := Event{Name: e.Name, Kind: e.Kind}
			if ev.Kind == "" {
				ev.Kind = EventKindStruct
			}
			for _, m := range e.Members {
				ev.Members = append(ev.Members, model.EventMember{Name: m.Name, Type: m.Type, Kind: m.Kind})
			}
			for _, v := range e.Variants {
				ev.Variants = append(ev.Variants, model.EventMember{Name: v.Name, Type: v.Type, Kind: v.Kind})
			}
			a.events = append(a.events, ev)
		case "struct":
			s := Struct{Name: e.Name}
			for _, m := range e.Members {
				s.Members = append(s.Members, Member{Name: m.Name, Type: m.Type})
			}
			a.structs[e.Name] = s
		case "enum":
			en := Enum{Name: e.Name}
			for _, v := range e.Variants {
				en.Variants = append(en.Variants, Member{Name: v.Name, Type: v.Type})
			}
			a.enums[e.Name] = en
		case "interface":
			a.add(e.Items)
		}
	}
}

// Events returns every event definition in declaration order.
func (a *ABI) Events() []Event {
	return append([]Event(nil), a.events...)
}

func (a *ABI) Struct(name string) (Struct, bool) {
	s, ok := a.structs[name]
	return s, ok
}

func (a *ABI) Enum(name string) (Enum, bool) {
	e, ok := a.enums[name]
	return e, ok
}

// ResolveEvent finds the single event whose fully-qualified name ends in
// name. Zero matches is ErrEventNotFound, more than one ErrAmbiguousEvent.
func (a *ABI) ResolveEvent(name string) (Event, error) {
	var matches []Event
	for _, ev := range a.events {
		if ev.ShortName() == name {
			matches = append(matches, ev)
		}
	}
	switch len(matches) {
	case 0:
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return Event{}, fmt.Errorf("%w: %q matches %d events", ErrAmbiguousEvent, name, len(matches))
	}
}

func shortName(full string) string {
	if i := strings.LastIndex(full, "::"); i >= 0 {
		return full[i+2:]
	}
	return full
}
