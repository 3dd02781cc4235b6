package normalize

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
)

// maxDepth bounds recursion through nested pairs and balance wrappers.
const maxDepth = 8

// lowHighNames lists the field-name pairs used for the two halves of a
// 256-bit integer.
var lowHighNames = [][2]string{
	{"low", "high"},
	{"Low", "High"},
	{"lo", "hi"},
	{"lower", "upper"},
}

// Classify determines the encoding of a raw transport value.
func Classify(raw any) Value {
	return classify(raw, 0)
}

func classify(raw any, depth int) Value {
	if depth > maxDepth {
		return Unknown()
	}

	switch v := raw.(type) {
	case nil:
		return Unknown()
	case Value:
		return v
	case *big.Int:
		if v == nil {
			return Unknown()
		}
		return Integer(v)
	case big.Int:
		return Integer(&v)
	case *felt.Felt:
		if v == nil {
			return Unknown()
		}
		return Integer(v.BigInt(new(big.Int)))
	case felt.Felt:
		return Integer(v.BigInt(new(big.Int)))
	case int:
		return Integer(big.NewInt(int64(v)))
	case int8:
		return Integer(big.NewInt(int64(v)))
	case int16:
		return Integer(big.NewInt(int64(v)))
	case int32:
		return Integer(big.NewInt(int64(v)))
	case int64:
		return Integer(big.NewInt(v))
	case uint:
		return Integer(new(big.Int).SetUint64(uint64(v)))
	case uint8:
		return Integer(new(big.Int).SetUint64(uint64(v)))
	case uint16:
		return Integer(new(big.Int).SetUint64(uint64(v)))
	case uint32:
		return Integer(new(big.Int).SetUint64(uint64(v)))
	case uint64:
		return Integer(new(big.Int).SetUint64(v))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case json.Number:
		s := v.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := v.Float64()
			if err != nil {
				return Unknown()
			}
			return Float(f)
		}
		return DecimalString(s)
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return HexString(s)
		}
		return DecimalString(s)
	case []*felt.Felt:
		switch len(v) {
		case 1:
			return classify(v[0], depth+1)
		case 2:
			return LowHigh(classify(v[0], depth+1), classify(v[1], depth+1))
		}
		return Unknown()
	case []string:
		if len(v) != 2 {
			return Unknown()
		}
		return LowHigh(classify(v[0], depth+1), classify(v[1], depth+1))
	case []any:
		if len(v) != 2 {
			return Unknown()
		}
		return LowHigh(classify(v[0], depth+1), classify(v[1], depth+1))
	case map[string]any:
		for _, names := range lowHighNames {
			low, okLow := v[names[0]]
			high, okHigh := v[names[1]]
			if okLow && okHigh {
				return LowHigh(classify(low, depth+1), classify(high, depth+1))
			}
		}
		if inner, ok := v["balance"]; ok {
			return Balance(classify(inner, depth+1))
		}
		return Unknown()
	}
	return Unknown()
}
