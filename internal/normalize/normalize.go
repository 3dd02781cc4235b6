package normalize

import (
	"math"
	"math/big"
	"strings"
)

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

// Normalize returns the canonical unsigned integer for v. It never fails:
// unparseable, negative and unrecognized inputs all yield zero.
func Normalize(v Value) *big.Int {
	switch v.Kind {
	case KindInteger:
		return nonNegative(v.Int)
	case KindDecimalString:
		return parseInt(v.Str, 10)
	case KindHexString:
		s := strings.TrimSpace(v.Str)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		return parseInt(s, 16)
	case KindFloat:
		return floorFloat(v.Float)
	case KindLowHigh:
		if v.Low == nil || v.High == nil {
			return new(big.Int)
		}
		high := Normalize(*v.High)
		low := Normalize(*v.Low)
		out := new(big.Int).Mul(high, two128)
		return out.Add(out, low)
	case KindBalance:
		if v.Inner == nil {
			return new(big.Int)
		}
		return Normalize(*v.Inner)
	default:
		return new(big.Int)
	}
}

// Parse classifies raw and normalizes it in one step.
func Parse(raw any) *big.Int {
	return Normalize(Classify(raw))
}

func nonNegative(i *big.Int) *big.Int {
	if i == nil || i.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(i)
}

func parseInt(s string, base int) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int)
	}
	out, ok := new(big.Int).SetString(s, base)
	if !ok || out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

func floorFloat(f float64) *big.Int {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return new(big.Int)
	}
	out, _ := new(big.Float).SetFloat64(math.Floor(f)).Int(nil)
	return out
}
