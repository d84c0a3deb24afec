package vectorstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Operator is a metadata comparison operator.
type Operator string

const (
	OpEq  Operator = "$eq"
	OpNe  Operator = "$ne"
	OpGt  Operator = "$gt"
	OpGte Operator = "$gte"
	OpLt  Operator = "$lt"
	OpLte Operator = "$lte"
	OpIn  Operator = "$in"
	OpNin Operator = "$nin"
)

const (
	keyAnd = "$and"
	keyOr  = "$or"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin:
		return true
	}
	return false
}

func (op Operator) isSet() bool { return op == OpIn || op == OpNin }

func (op Operator) isRange() bool {
	return op == OpGt || op == OpGte || op == OpLt || op == OpLte
}

// Filter is a boolean predicate over record metadata. A nil Filter matches
// every record. Implementations are Condition, And and Or.
type Filter interface {
	// Match evaluates the predicate against one record's metadata.
	Match(md Metadata) bool
	// Validate reports malformed expressions.
	Validate() error

	wire() map[string]any
}

// Condition compares one metadata field against an operand. Set operators
// ($in, $nin) read Values; all others read Value.
type Condition struct {
	Field  string
	Op     Operator
	Value  Value
	Values []Value
}

func Eq(field string, v Value) Condition { return Condition{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v Value) Condition { return Condition{Field: field, Op: OpNe, Value: v} }
func Gt(field string, n float64) Condition { return Condition{Field: field, Op: OpGt, Value: Number(n)} }
func Gte(field string, n float64) Condition {
	return Condition{Field: field, Op: OpGte, Value: Number(n)}
}
func Lt(field string, n float64) Condition { return Condition{Field: field, Op: OpLt, Value: Number(n)} }
func Lte(field string, n float64) Condition {
	return Condition{Field: field, Op: OpLte, Value: Number(n)}
}
func In(field string, vs ...Value) Condition {
	return Condition{Field: field, Op: OpIn, Values: vs}
}
func Nin(field string, vs ...Value) Condition {
	return Condition{Field: field, Op: OpNin, Values: vs}
}

// And matches when every child matches.
type And []Filter

// Or matches when at least one child matches.
type Or []Filter

// AllOf builds an And expression.
func AllOf(fs ...Filter) And { return And(fs) }

// AnyOf builds an Or expression.
func AnyOf(fs ...Filter) Or { return Or(fs) }

func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("filter field name is empty")
	}
	if strings.HasPrefix(c.Field, "$") {
		return fmt.Errorf("filter field %q must not start with $", c.Field)
	}
	if !c.Op.valid() {
		return fmt.Errorf("filter field %q: unknown operator %q", c.Field, c.Op)
	}
	if c.Op.isSet() {
		if len(c.Values) == 0 {
			return fmt.Errorf("filter field %q: %s needs at least one value", c.Field, c.Op)
		}
		for _, v := range c.Values {
			if err := v.validate(); err != nil {
				return fmt.Errorf("filter field %q: %w", c.Field, err)
			}
			if v.kind == KindStringList {
				return fmt.Errorf("filter field %q: %s values must be scalars", c.Field, c.Op)
			}
		}
		return nil
	}
	if err := c.Value.validate(); err != nil {
		return fmt.Errorf("filter field %q: %w", c.Field, err)
	}
	if c.Value.kind == KindStringList {
		return fmt.Errorf("filter field %q: %s operand must be a scalar", c.Field, c.Op)
	}
	if c.Op.isRange() && c.Value.kind != KindNumber {
		return fmt.Errorf("filter field %q: %s needs a number, got %s", c.Field, c.Op, c.Value.kind)
	}
	return nil
}

// Match follows the hosted service's semantics: list-valued metadata matches
// $eq/$in when any element matches, and a missing field satisfies $ne/$nin.
func (c Condition) Match(md Metadata) bool {
	v, ok := md[c.Field]
	switch c.Op {
	case OpEq:
		return ok && scalarMatch(v, c.Value)
	case OpNe:
		return !ok || !scalarMatch(v, c.Value)
	case OpIn:
		return ok && anyMatch(v, c.Values)
	case OpNin:
		return !ok || !anyMatch(v, c.Values)
	case OpGt, OpGte, OpLt, OpLte:
		if !ok || v.kind != KindNumber || c.Value.kind != KindNumber {
			return false
		}
		switch c.Op {
		case OpGt:
			return v.num > c.Value.num
		case OpGte:
			return v.num >= c.Value.num
		case OpLt:
			return v.num < c.Value.num
		default:
			return v.num <= c.Value.num
		}
	}
	return false
}

func scalarMatch(field, operand Value) bool {
	if field.kind == KindStringList {
		if operand.kind != KindString {
			return false
		}
		for _, s := range field.list {
			if s == operand.str {
				return true
			}
		}
		return false
	}
	return field.Equal(operand)
}

func anyMatch(field Value, operands []Value) bool {
	for _, op := range operands {
		if scalarMatch(field, op) {
			return true
		}
	}
	return false
}

func (c Condition) wire() map[string]any {
	if c.Op.isSet() {
		vals := make([]any, len(c.Values))
		for i, v := range c.Values {
			vals[i] = v.Any()
		}
		return map[string]any{c.Field: map[string]any{string(c.Op): vals}}
	}
	return map[string]any{c.Field: map[string]any{string(c.Op): c.Value.Any()}}
}

func (a And) Validate() error { return validateChildren(keyAnd, a) }
func (o Or) Validate() error { return validateChildren(keyOr, o) }

func validateChildren(key string, fs []Filter) error {
	if len(fs) == 0 {
		return fmt.Errorf("%s needs at least one expression", key)
	}
	for i, f := range fs {
		if f == nil {
			return fmt.Errorf("%s[%d] is nil", key, i)
		}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (a And) Match(md Metadata) bool {
	for _, f := range a {
		if !f.Match(md) {
			return false
		}
	}
	return true
}

func (o Or) Match(md Metadata) bool {
	for _, f := range o {
		if f.Match(md) {
			return true
		}
	}
	return false
}

func (a And) wire() map[string]any { return map[string]any{keyAnd: wireChildren(a)} }
func (o Or) wire() map[string]any { return map[string]any{keyOr: wireChildren(o)} }

func wireChildren(fs []Filter) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = f.wire()
	}
	return out
}

// MatchFilter evaluates f against md, treating a nil filter as match-all.
func MatchFilter(f Filter, md Metadata) bool {
	return f == nil || f.Match(md)
}

// MarshalFilter validates f and renders it in the service's JSON syntax.
func MarshalFilter(f Filter) ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f.wire())
}

// ParseFilter reads the service's JSON filter syntax. A bare value is
// shorthand for $eq, and sibling keys in one object are joined with $and.
// An empty object or null yields a nil Filter.
func ParseFilter(data []byte) (Filter, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse filter: expected object, got %T", raw)
	}
	if len(obj) == 0 {
		return nil, nil
	}
	f, err := FilterFromMap(obj)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// FilterFromMap converts a decoded JSON filter object into a Filter tree.
func FilterFromMap(obj map[string]any) (Filter, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Filter
	for _, k := range keys {
		f, err := parseEntry(k, obj[k])
		if err != nil {
			return nil, err
		}
		parts = append(parts, f...)
	}
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("parse filter: empty expression")
	case 1:
		return parts[0], nil
	}
	return And(parts), nil
}

func parseEntry(key string, raw any) ([]Filter, error) {
	if key == keyAnd || key == keyOr {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("parse filter: %s expects an array", key)
		}
		children := make([]Filter, 0, len(list))
		for i, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parse filter: %s[%d] must be an object", key, i)
			}
			child, err := FilterFromMap(obj)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if key == keyAnd {
			return []Filter{And(children)}, nil
		}
		return []Filter{Or(children)}, nil
	}
	if strings.HasPrefix(key, "$") {
		return nil, fmt.Errorf("parse filter: unexpected operator %q at field position", key)
	}

	ops, ok := raw.(map[string]any)
	if !ok {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("parse filter: field %q: %w", key, err)
		}
		return []Filter{Eq(key, v)}, nil
	}
	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)
	out := make([]Filter, 0, len(ops))
	for _, name := range opNames {
		op := Operator(name)
		if !op.valid() {
			return nil, fmt.Errorf("parse filter: field %q: unknown operator %q", key, name)
		}
		c := Condition{Field: key, Op: op}
		if op.isSet() {
			list, ok := ops[name].([]any)
			if !ok {
				return nil, fmt.Errorf("parse filter: field %q: %s expects an array", key, name)
			}
			for _, item := range list {
				v, err := ValueOf(item)
				if err != nil {
					return nil, fmt.Errorf("parse filter: field %q: %w", key, err)
				}
				c.Values = append(c.Values, v)
			}
		} else {
			v, err := ValueOf(ops[name])
			if err != nil {
				return nil, fmt.Errorf("parse filter: field %q: %w", key, err)
			}
			c.Value = v
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse filter: field %q has no operator", key)
	}
	return out, nil
}
