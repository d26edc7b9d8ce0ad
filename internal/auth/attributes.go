package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type scalarKind uint8

const (
	kindString scalarKind = iota + 1
	kindNumber
	kindBool
)

// Scalar is an attribute value: a string, a number or a bool.
type Scalar struct {
	kind scalarKind
	s    string
	n    float64
	b    bool
}

func String(s string) Scalar  { return Scalar{kind: kindString, s: s} }
func Number(n float64) Scalar { return Scalar{kind: kindNumber, n: n} }
func Bool(b bool) Scalar      { return Scalar{kind: kindBool, b: b} }

// Equal is loose equality. Values of one kind compare directly. Across kinds
// a bool counts as 1 or 0 and a string as the number it spells, so "7" equals
// 7 and "1" equals true, while "true" equals nothing but "true".
func (v Scalar) Equal(o Scalar) bool {
	if v.kind == 0 || o.kind == 0 {
		return false
	}
	if v.kind == o.kind {
		switch v.kind {
		case kindString:
			return v.s == o.s
		case kindNumber:
			return v.n == o.n
		case kindBool:
			return v.b == o.b
		}
	}
	a, ok := v.number()
	if !ok {
		return false
	}
	b, ok := o.number()
	return ok && a == b
}

// number converts v for a cross-kind comparison. NaN never compares equal,
// so strings that spell no number report false.
func (v Scalar) number() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.n, true
	case kindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case kindString:
		return numericString(v.s)
	}
	return 0, false
}

func numericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0, true
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			return float64(n), err == nil
		}
	}
	// ParseFloat also takes inf, nan, hex floats and digit separators
	if strings.ContainsAny(s, "_xXpPiInN") {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return n, true
		}
		return 0, false
	}
	return n, true
}

func (v Scalar) String() string {
	switch v.kind {
	case kindString:
		return v.s
	case kindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v Scalar) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindString:
		return json.Marshal(v.s)
	case kindNumber:
		return json.Marshal(v.n)
	case kindBool:
		return json.Marshal(v.b)
	}
	return nil, fmt.Errorf("auth: empty attribute value")
}

func (v *Scalar) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = String(x)
	case float64:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("auth: attribute value must be a string, number or bool, got %s", bytes.TrimSpace(data))
	}
	return nil
}

// Attributes constrain a permission. A nil map means "no constraint";
// a non-nil empty map is a constraint that every constrained permission satisfies.
type Attributes map[string]Scalar

// ParseAttributes decodes the stored JSON form. Blank input yields nil.
func ParseAttributes(raw string) (Attributes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	attrs := Attributes{}
	if err := json.Unmarshal([]byte(raw), (*map[string]Scalar)(&attrs)); err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrInvalidInput, err)
	}
	return attrs, nil
}

// Encode returns the stored JSON form; nil encodes as "".
func (a Attributes) Encode() string {
	if a == nil {
		return ""
	}
	data, err := json.Marshal(map[string]Scalar(a))
	if err != nil {
		return ""
	}
	return string(data)
}

// Contains reports whether every key of required is present in a with an equal value.
func (a Attributes) Contains(required Attributes) bool {
	for k, want := range required {
		got, ok := a[k]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts an object or a string holding a JSON object.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseAttributes(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	m := map[string]Scalar{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = m
	return nil
}
