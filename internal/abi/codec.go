package abi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
)

// ErrInvalidValue is returned when a value cannot be encoded as, or felts
// cannot be decoded into, the requested type.
var ErrInvalidValue = errors.New("invalid value for ABI type")

const byteArrayWordLen = 31

var (
	// 2^251 + 17*2^192 + 1
	fieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
	limbMask      = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// Encode serializes v as the Cairo calldata representation of type t.
//
// Accepted Go shapes follow what JSON decoding produces: strings (hex or
// decimal), json.Number, float64 with no fractional part, bool, []any for
// arrays and tuples, and map[string]any for structs, enums and low/high
// integers.
func (a *ABI) Encode(v any, t string) ([]*felt.Felt, error) {
	switch {
	case t == TypeBool:
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return []*felt.Felt{new(felt.Felt).SetUint64(1)}, nil
		}
		return []*felt.Felt{new(felt.Felt).SetUint64(0)}, nil

	case feltTypes[t]:
		n, err := toBig(v)
		if err != nil {
			if s, ok := v.(string); ok && t == TypeFelt252 && len(s) <= byteArrayWordLen {
				return []*felt.Felt{new(felt.Felt).SetBytes([]byte(s))}, nil
			}
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		if n.Sign() < 0 || n.Cmp(fieldPrime) >= 0 {
			return nil, fmt.Errorf("%w: %s out of field range for %s", ErrInvalidValue, n, t)
		}
		return []*felt.Felt{new(felt.Felt).SetBigInt(n)}, nil

	case unsignedTypes[t] > 0:
		n, err := toBig(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		if n.Sign() < 0 || n.BitLen() > int(unsignedTypes[t]) {
			return nil, fmt.Errorf("%w: %s out of range for %s", ErrInvalidValue, n, t)
		}
		return []*felt.Felt{new(felt.Felt).SetBigInt(n)}, nil

	case signedTypes[t] > 0:
		n, err := toBig(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		bits := signedTypes[t]
		limit := new(big.Int).Lsh(big.NewInt(1), bits-1)
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%w: %s out of range for %s", ErrInvalidValue, n, t)
		}
		if n.Sign() < 0 {
			n = new(big.Int).Add(n, fieldPrime)
		}
		return []*felt.Felt{new(felt.Felt).SetBigInt(n)}, nil

	case t == TypeU256:
		return encodeWide(v, 2, []string{"low", "high"})

	case t == TypeU512:
		return encodeWide(v, 4, []string{"limb0", "limb1", "limb2", "limb3"})

	case t == TypeByteArray:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: ByteArray wants a string, got %T", ErrInvalidValue, v)
		}
		return EncodeByteArray(s), nil

	case t == TypeUnit:
		return nil, nil
	}

	if elem, ok := ArrayElem(t); ok {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a list, got %T", ErrInvalidValue, t, v)
		}
		out := []*felt.Felt{new(felt.Felt).SetUint64(uint64(len(items)))}
		for i, item := range items {
			enc, err := a.Encode(item, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, enc...)
		}
		return out, nil
	}

	if IsTuple(t) {
		elems := TupleElems(t)
		items, ok := v.([]any)
		if !ok || len(items) != len(elems) {
			return nil, fmt.Errorf("%w: %s wants %d elements", ErrInvalidValue, t, len(elems))
		}
		var out []*felt.Felt
		for i, et := range elems {
			enc, err := a.Encode(items[i], et)
			if err != nil {
				return nil, fmt.Errorf("tuple slot %d: %w", i, err)
			}
			out = append(out, enc...)
		}
		return out, nil
	}

	if s, ok := a.structs[t]; ok {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: struct %s wants an object, got %T", ErrInvalidValue, t, v)
		}
		var out []*felt.Felt
		for _, m := range s.Members {
			mv, ok := obj[m.Name]
			if !ok {
				return nil, fmt.Errorf("%w: struct %s is missing %q", ErrInvalidValue, t, m.Name)
			}
			enc, err := a.Encode(mv, m.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", shortName(t), m.Name, err)
			}
			out = append(out, enc...)
		}
		return out, nil
	}

	if en, ok := a.enums[t]; ok {
		return a.encodeEnum(v, en)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
}

// encodeEnum accepts {"Variant": payload} or, for unit variants, the bare
// variant name.
func (a *ABI) encodeEnum(v any, en Enum) ([]*felt.Felt, error) {
	var name string
	var payload any
	switch x := v.(type) {
	case string:
		name = x
	case map[string]any:
		if len(x) != 1 {
			return nil, fmt.Errorf("%w: enum %s wants exactly one variant", ErrInvalidValue, en.Name)
		}
		for k, p := range x {
			name, payload = k, p
		}
	default:
		return nil, fmt.Errorf("%w: enum %s got %T", ErrInvalidValue, en.Name, v)
	}
	for i, variant := range en.Variants {
		if variant.Name != name {
			continue
		}
		out := []*felt.Felt{new(felt.Felt).SetUint64(uint64(i))}
		enc, err := a.Encode(payload, variant.Type)
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w", shortName(en.Name), name, err)
		}
		return append(out, enc...), nil
	}
	return nil, fmt.Errorf("%w: enum %s has no variant %q", ErrInvalidValue, en.Name, name)
}

// encodeWide splits an integer into 128-bit limbs, least significant first.
// A map with the named limbs is taken as already split.
func encodeWide(v any, limbs int, names []string) ([]*felt.Felt, error) {
	if obj, ok := v.(map[string]any); ok {
		out := make([]*felt.Felt, 0, limbs)
		for _, name := range names {
			n, err := toBig(obj[name])
			if err != nil {
				return nil, fmt.Errorf("limb %s: %w", name, err)
			}
			if n.Sign() < 0 || n.BitLen() > 128 {
				return nil, fmt.Errorf("%w: limb %s out of range", ErrInvalidValue, name)
			}
			out = append(out, new(felt.Felt).SetBigInt(n))
		}
		return out, nil
	}

	n, err := toBig(v)
	if err != nil {
		return nil, err
	}
	if n.Sign() < 0 || n.BitLen() > 128*limbs {
		return nil, fmt.Errorf("%w: %s does not fit %d limbs", ErrInvalidValue, n, limbs)
	}
	out := make([]*felt.Felt, limbs)
	rest := new(big.Int).Set(n)
	for i := range out {
		out[i] = new(felt.Felt).SetBigInt(new(big.Int).And(rest, limbMask))
		rest.Rsh(rest, 128)
	}
	return out, nil
}

// EncodeByteArray packs s as [full_words_len, words..., pending_word,
// pending_word_len] with 31-byte words.
func EncodeByteArray(s string) []*felt.Felt {
	b := []byte(s)
	full := len(b) / byteArrayWordLen
	out := []*felt.Felt{new(felt.Felt).SetUint64(uint64(full))}
	for i := 0; i < full; i++ {
		out = append(out, new(felt.Felt).SetBytes(b[i*byteArrayWordLen:(i+1)*byteArrayWordLen]))
	}
	pending := b[full*byteArrayWordLen:]
	out = append(out, new(felt.Felt).SetBytes(pending), new(felt.Felt).SetUint64(uint64(len(pending))))
	return out
}

// Decode reads one value of type t from the front of felts and returns it
// with the number of felts consumed. Integers decode to *big.Int, bool to
// bool, ByteArray to string, arrays and tuples to []any, structs to
// map[string]any and enums to a single-entry map keyed by variant.
func (a *ABI) Decode(felts []*felt.Felt, t string) (any, int, error) {
	if w, ok := FixedWidth(t); ok && len(felts) < w {
		return nil, 0, fmt.Errorf("%w: %s needs %d felts, have %d", ErrInvalidValue, t, w, len(felts))
	}
	switch {
	case t == TypeBool:
		return !felts[0].IsZero(), 1, nil
	case feltTypes[t], unsignedTypes[t] > 0:
		return toBigInt(felts[0]), 1, nil
	case signedTypes[t] > 0:
		n := toBigInt(felts[0])
		if n.Cmp(new(big.Int).Rsh(fieldPrime, 1)) > 0 {
			n.Sub(n, fieldPrime)
		}
		return n, 1, nil
	case t == TypeU256:
		return joinLimbs(felts[:2]), 2, nil
	case t == TypeU512:
		return joinLimbs(felts[:4]), 4, nil
	case t == TypeByteArray:
		return decodeByteArray(felts)
	case t == TypeUnit:
		return nil, 0, nil
	}

	if elem, ok := ArrayElem(t); ok {
		if len(felts) == 0 {
			return nil, 0, fmt.Errorf("%w: %s missing length", ErrInvalidValue, t)
		}
		n := felts[0].Uint64()
		if n > uint64(len(felts)) {
			return nil, 0, fmt.Errorf("%w: %s length %d exceeds payload", ErrInvalidValue, t, n)
		}
		pos := 1
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			v, used, err := a.Decode(felts[pos:], elem)
			if err != nil {
				return nil, 0, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, v)
			pos += used
		}
		return out, pos, nil
	}

	if IsTuple(t) {
		pos := 0
		var out []any
		for i, et := range TupleElems(t) {
			v, used, err := a.Decode(felts[pos:], et)
			if err != nil {
				return nil, 0, fmt.Errorf("tuple slot %d: %w", i, err)
			}
			out = append(out, v)
			pos += used
		}
		return out, pos, nil
	}

	if s, ok := a.structs[t]; ok {
		pos := 0
		out := make(map[string]any, len(s.Members))
		for _, m := range s.Members {
			v, used, err := a.Decode(felts[pos:], m.Type)
			if err != nil {
				return nil, 0, fmt.Errorf("%s.%s: %w", shortName(t), m.Name, err)
			}
			out[m.Name] = v
			pos += used
		}
		return out, pos, nil
	}

	if en, ok := a.enums[t]; ok {
		if len(felts) == 0 {
			return nil, 0, fmt.Errorf("%w: enum %s missing variant index", ErrInvalidValue, t)
		}
		idx := felts[0].Uint64()
		if idx >= uint64(len(en.Variants)) {
			return nil, 0, fmt.Errorf("%w: enum %s has no variant %d", ErrInvalidValue, t, idx)
		}
		variant := en.Variants[idx]
		v, used, err := a.Decode(felts[1:], variant.Type)
		if err != nil {
			return nil, 0, fmt.Errorf("%s::%s: %w", shortName(t), variant.Name, err)
		}
		return map[string]any{variant.Name: v}, used + 1, nil
	}

	return nil, 0, fmt.Errorf("%w: %s", ErrUnknownType, t)
}

func decodeByteArray(felts []*felt.Felt) (any, int, error) {
	if len(felts) < 3 {
		return nil, 0, fmt.Errorf("%w: ByteArray needs at least 3 felts", ErrInvalidValue)
	}
	full := felts[0].Uint64()
	if full > uint64(len(felts)-3) {
		return nil, 0, fmt.Errorf("%w: ByteArray word count %d exceeds payload", ErrInvalidValue, full)
	}
	var sb strings.Builder
	for i := uint64(1); i <= full; i++ {
		word := felts[i].Bytes()
		sb.Write(word[32-byteArrayWordLen:])
	}
	pendingLen := felts[full+2].Uint64()
	if pendingLen > byteArrayWordLen {
		return nil, 0, fmt.Errorf("%w: ByteArray pending length %d", ErrInvalidValue, pendingLen)
	}
	pending := felts[full+1].Bytes()
	sb.Write(pending[32-pendingLen:])
	return sb.String(), int(full) + 3, nil
}

func joinLimbs(limbs []*felt.Felt) *big.Int {
	out := new(big.Int)
	for i := len(limbs) - 1; i >= 0; i-- {
		out.Lsh(out, 128)
		out.Or(out, toBigInt(limbs[i]))
	}
	return out
}

func toBigInt(f *felt.Felt) *big.Int {
	return f.BigInt(new(big.Int))
}

func toBig(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("%w: nil integer", ErrInvalidValue)
		}
		return new(big.Int).Set(x), nil
	case *felt.Felt:
		return toBigInt(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, x)
		}
		n, _ := new(big.Float).SetFloat64(x).Int(nil)
		return n, nil
	case json.Number:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	case bool:
		if x {
			return big.NewInt(1), nil
		}
		return big.NewInt(0), nil
	}
	return nil, fmt.Errorf("%w: unsupported %T", ErrInvalidValue, v)
}

func parseInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	body := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, body = 16, s[2:]
	} else if strings.HasPrefix(s, "-0x") {
		base, body = 16, "-"+s[3:]
	}
	n, ok := new(big.Int).SetString(body, base)
	if !ok || body == "" {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return n, nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return b, nil
		}
	}
	n, err := toBig(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", TypeBool, err)
	}
	switch {
	case n.Sign() == 0:
		return false, nil
	case n.Cmp(big.NewInt(1)) == 0:
		return true, nil
	}
	return false, fmt.Errorf("%w: %s is not a bool", ErrInvalidValue, n)
}
