package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/brojonat/ledgersync/service/decimal"
	"github.com/itchyny/gojq"
)

// DecimalField names a Decimal stored at a byte offset in account data.
type DecimalField struct {
	Name   string
	Offset int
}

// ParseDecimalField parses "name=offset".
func ParseDecimalField(s string) (DecimalField, error) {
	name, off, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return DecimalField{}, fmt.Errorf("invalid decimal field %q: want name=offset", s)
	}
	offset, err := strconv.Atoi(off)
	if err != nil || offset < 0 {
		return DecimalField{}, fmt.Errorf("invalid offset in decimal field %q", s)
	}
	return DecimalField{Name: name, Offset: offset}, nil
}

// DecimalValue is the JSON form of a decoded Decimal. Value is approximate and
// meant for jq comparisons; Mantissa and Scale are exact.
type DecimalValue struct {
	Value    float64 `json:"value"`
	Text     string  `json:"text"`
	Mantissa string  `json:"mantissa"`
	Scale    uint32  `json:"scale"`
}

// AccountView is the JSON-friendly form of an account notification.
type AccountView struct {
	Address  string                  `json:"address"`
	Slot     uint64                  `json:"slot"`
	Lamports uint64                  `json:"lamports"`
	Owner    string                  `json:"owner"`
	Data     string                  `json:"data"`
	DataLen  int                     `json:"data_len"`
	Decimals map[string]DecimalValue `json:"decimals,omitempty"`
}

// NewAccountView builds a view of u, decoding each field from the account data.
func NewAccountView(u *AccountUpdate, fields []DecimalField) (*AccountView, error) {
	view := &AccountView{
		Address:  u.Address.String(),
		Slot:     u.Slot,
		Lamports: u.Lamports,
		Owner:    u.Owner.String(),
		Data:     base64.StdEncoding.EncodeToString(u.Data),
		DataLen:  len(u.Data),
	}
	if len(fields) == 0 {
		return view, nil
	}

	view.Decimals = make(map[string]DecimalValue, len(fields))
	for _, f := range fields {
		d, err := decimal.Decode(u.Data, f.Offset)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		view.Decimals[f.Name] = DecimalValue{
			Value:    d.ToDecimal().InexactFloat64(),
			Text:     d.String(),
			Mantissa: d.Mantissa().String(),
			Scale:    d.Scale(),
		}
	}
	return view, nil
}

// JQFilter is a compiled jq expression evaluated against an AccountView.
type JQFilter struct {
	expr string
	code *gojq.Code
}

// CompileJQ parses and compiles a jq expression.
func CompileJQ(expr string) (*JQFilter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return &JQFilter{expr: expr, code: code}, nil
}

func (f *JQFilter) String() string {
	return f.expr
}

// Match reports whether the first result of the filter is truthy.
// A filter that produces no result does not match.
func (f *JQFilter) Match(view *AccountView) (bool, error) {
	input, err := toJQInput(view)
	if err != nil {
		return false, err
	}
	iter := f.code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("jq filter %q failed: %w", f.expr, err)
	}
	return isTruthy(v), nil
}

// JQPredicate compiles exprs into a predicate that requires every filter to match.
// Filter evaluation errors count as no match.
func JQPredicate(exprs ...string) (func(*AccountView) bool, error) {
	filters := make([]*JQFilter, len(exprs))
	for i, expr := range exprs {
		f, err := CompileJQ(expr)
		if err != nil {
			return nil, err
		}
		filters[i] = f
	}
	return func(view *AccountView) bool {
		for _, f := range filters {
			ok, err := f.Match(view)
			if err != nil || !ok {
				return false
			}
		}
		return true
	}, nil
}

// toJQInput round-trips the view through JSON so gojq sees plain maps and float64s.
func toJQInput(view *AccountView) (any, error) {
	b, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account view: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account view: %w", err)
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
