// Package normalize converts the numeric encodings returned by contract calls
// into one canonical unsigned big integer.
//
// Shape detection happens once, in Classify, at the boundary where raw
// transport results enter the process. Normalize then matches exhaustively
// on the resulting Value and never fails.
package normalize

import (
	"math/big"
)

// Kind tags the encoding a Value was classified as.
type Kind int

const (
	KindUnknown Kind = iota
	KindInteger
	KindDecimalString
	KindHexString
	KindFloat
	KindLowHigh
	KindBalance
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindDecimalString:
		return "decimal_string"
	case KindHexString:
		return "hex_string"
	case KindFloat:
		return "float"
	case KindLowHigh:
		return "low_high"
	case KindBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// Value is a tagged raw numeric encoding. Exactly the fields matching Kind
// are meaningful.
type Value struct {
	Kind Kind

	Int   *big.Int
	Str   string
	Float float64
	Low   *Value
	High  *Value
	Inner *Value
}

func Integer(v *big.Int) Value {
	return Value{Kind: KindInteger, Int: v}
}

func DecimalString(s string) Value {
	return Value{Kind: KindDecimalString, Str: s}
}

func HexString(s string) Value {
	return Value{Kind: KindHexString, Str: s}
}

func Float(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

func LowHigh(low, high Value) Value {
	return Value{Kind: KindLowHigh, Low: &low, High: &high}
}

func Balance(inner Value) Value {
	return Value{Kind: KindBalance, Inner: &inner}
}

func Unknown() Value {
	return Value{Kind: KindUnknown}
}
