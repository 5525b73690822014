package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Num is an optional number. A missing Num is distinct from zero and
// serializes to JSON null.
type Num struct {
	Value float64
	Valid bool
}

// Missing is the zero Num.
var Missing = Num{}

// Some returns a valid Num, or Missing when v is NaN or infinite.
func Some(v float64) Num {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return Num{Value: v, Valid: true}
}

// Add sums two numbers ignoring missing operands. The result is missing
// only when both operands are missing.
func (n Num) Add(o Num) Num {
	switch {
	case !o.Valid:
		return n
	case !n.Valid:
		return o
	}
	return Some(n.Value + o.Value)
}

// Max returns the larger valid operand.
func (n Num) Max(o Num) Num {
	switch {
	case !o.Valid:
		return n
	case !n.Valid:
		return o
	case o.Value > n.Value:
		return o
	}
	return n
}

// Or returns the value or def when missing.
func (n Num) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// Ptr returns nil for a missing value.
func (n Num) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// IsZero reports whether n holds a valid zero.
func (n Num) IsZero() bool { return n.Valid && n.Value == 0 }

func (n Num) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.Value, 'f', -1, 64), nil
}

func (n *Num) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = Missing
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

func (n Num) String() string {
	if !n.Valid {
		return "-"
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}
