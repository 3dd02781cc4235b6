package events

import (
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/emperorhan/treasury-sync/internal/abi"
	"github.com/emperorhan/treasury-sync/internal/address"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

// Decoder turns raw logs into records using one contract ABI.
type Decoder struct {
	contract *abi.ABI
}

func NewDecoder(contract *abi.ABI) *Decoder {
	return &Decoder{contract: contract}
}

// Decode parses log against ev. The returned record always carries the log
// and member types; on error Args is empty. ParsedArgs is filled only when
// format is set.
func (d *Decoder) Decode(log model.RawLog, ev abi.Event, format bool) (model.DecodedEventRecord, error) {
	rec := model.DecodedEventRecord{
		Event: ev.Name,
		Type:  ev.Members,
		Args:  map[string]any{},
		Log:   log,
	}

	args, err := d.args(log, ev)
	if err != nil {
		if format {
			rec.ParsedArgs = map[string]any{}
		}
		return rec, err
	}
	rec.Args = args
	if format {
		rec.ParsedArgs = FormatArgs(args, ev.Members)
	}
	return rec, nil
}

func (d *Decoder) args(log model.RawLog, ev abi.Event) (map[string]any, error) {
	args := map[string]any{}
	if ev.Kind != abi.EventKindStruct {
		return args, nil
	}
	if len(log.Keys) == 0 || !log.Keys[0].Equal(ev.Selector()) {
		return nil, fmt.Errorf("log selector does not match event %s", ev.ShortName())
	}

	if err := d.decodeMembers(args, log.Keys[1:], ev.KeyMembers()); err != nil {
		return nil, err
	}
	if err := d.decodeMembers(args, log.Data, ev.DataMembers()); err != nil {
		return nil, err
	}
	return args, nil
}

// decodeMembers consumes felts member by member, in declaration order.
func (d *Decoder) decodeMembers(args map[string]any, felts []*felt.Felt, members []model.EventMember) error {
	for _, m := range members {
		v, used, err := d.contract.Decode(felts, m.Type)
		if err != nil {
			return fmt.Errorf("decode %s member %q: %w", m.Kind, m.Name, err)
		}
		felts = felts[used:]
		args[m.Name] = v
	}
	return nil
}

// FormatArgs normalizes address-shaped members of args into checksum
// strings. ContractAddress values, arrays of them and ContractAddress slots
// of tuples are converted; everything else passes through unchanged.
func FormatArgs(args map[string]any, members []model.EventMember) map[string]any {
	types := make(map[string]string, len(members))
	for _, m := range members {
		types[m.Name] = m.Type
	}

	out := make(map[string]any, len(args))
	for name, v := range args {
		t, ok := types[name]
		if !ok {
			out[name] = v
			continue
		}
		out[name] = formatValue(v, t)
	}
	return out
}

func formatValue(v any, t string) any {
	switch {
	case abi.IsAddress(t):
		return checksumOf(v)
	case abi.IsArray(t):
		elem, _ := abi.ArrayElem(t)
		items, ok := v.([]any)
		if !ok || !abi.IsAddress(elem) {
			return v
		}
		out := make([]string, len(items))
		for i, item := range items {
			s, ok := checksumOf(item).(string)
			if !ok {
				return v
			}
			out[i] = s
		}
		return out
	case abi.IsTuple(t):
		items, ok := v.([]any)
		if !ok {
			return v
		}
		out := append([]any(nil), items...)
		for i, slot := range abi.TupleElems(t) {
			if i < len(out) && abi.IsAddress(slot) {
				out[i] = checksumOf(out[i])
			}
		}
		return out
	}
	return v
}

func checksumOf(v any) any {
	switch x := v.(type) {
	case *big.Int:
		return address.FromBig(x)
	case *felt.Felt:
		return address.FromFelt(x)
	case string:
		if s, err := address.Checksum(x); err == nil {
			return s
		}
	}
	return v
}
