package vectorstore

import (
	"encoding/json"
	"math"
	"testing"
)

func TestConditionMatch(t *testing.T) {
	md := Metadata{
		"genre": String("drama"),
		"year":  Int(2020),
		"tags":  Strings("a", "b"),
		"hit":   Bool(true),
	}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"eq string", Eq("genre", String("drama")), true},
		{"eq wrong kind", Eq("year", String("2020")), false},
		{"eq bool", Eq("hit", Bool(true)), true},
		{"eq list element", Eq("tags", String("b")), true},
		{"ne missing field", Ne("absent", String("x")), true},
		{"ne list element", Ne("tags", String("a")), false},
		{"gt", Gt("year", 2019), true},
		{"gte equal", Gte("year", 2020), true},
		{"lt", Lt("year", 2020), false},
		{"lte", Lte("year", 2020), true},
		{"range on string", Gt("genre", 1), false},
		{"in", In("genre", String("comedy"), String("drama")), true},
		{"in list", In("tags", String("z"), String("a")), true},
		{"nin", Nin("genre", String("comedy")), true},
		{"nin missing", Nin("absent", String("x")), true},
		{"and", AllOf(Eq("genre", String("drama")), Gte("year", 2021)), false},
		{"or", AnyOf(Eq("genre", String("comedy")), Eq("hit", Bool(true))), true},
		{"nested", AllOf(AnyOf(Eq("genre", String("x")), In("tags", String("b"))), Lt("year", 3000)), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Match(md); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
	if !MatchFilter(nil, md) {
		t.Fatal("nil filter must match everything")
	}
}

func TestFilterValidate(t *testing.T) {
	bad := []Filter{
		Condition{Field: "", Op: OpEq, Value: String("x")},
		Condition{Field: "$x", Op: OpEq, Value: String("x")},
		Condition{Field: "f", Op: "$like", Value: String("x")},
		Condition{Field: "f", Op: OpEq},
		Gt("f", math.NaN()),
		Condition{Field: "f", Op: OpGt, Value: String("x")},
		In("f"),
		In("f", Strings("a")),
		And{},
		Or{nil},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %#v", i, f)
		}
	}
}

func TestMarshalAndParseFilter(t *testing.T) {
	f := AllOf(
		Eq("genre", String("drama")),
		AnyOf(Gte("year", 2020), In("tags", String("a"), String("b"))),
	)
	data, err := MarshalFilter(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := wire["$and"]; !ok {
		t.Fatalf("expected $and at top level, got %s", data)
	}

	parsed, err := ParseFilter(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	md := Metadata{"genre": String("drama"), "tags": Strings("b")}
	if !parsed.Match(md) {
		t.Fatalf("parsed filter should match %v", md)
	}
	if parsed.Match(Metadata{"genre": String("drama")}) {
		t.Fatal("parsed filter should not match without year or tags")
	}
}

func TestParseFilterShorthand(t *testing.T) {
	f, err := ParseFilter([]byte(`{"genre": "drama", "year": {"$gt": 2000, "$lt": 2010}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.Match(Metadata{"genre": String("drama"), "year": Int(2005)}) {
		t.Fatal("expected match")
	}
	if f.Match(Metadata{"genre": String("drama"), "year": Int(2010)}) {
		t.Fatal("expected no match on exclusive bound")
	}

	for _, empty := range []string{`null`, `{}`} {
		f, err := ParseFilter([]byte(empty))
		if err != nil || f != nil {
			t.Fatalf("%s: expected nil filter, got %v %v", empty, f, err)
		}
	}

	for _, bad := range []string{`[1]`, `{"a": {"$regex": "x"}}`, `{"$and": {}}`, `{"a": {"$in": 3}}`, `{"a": {"$gt": "x"}}`, `{"a": {"b": 1}}`} {
		if _, err := ParseFilter([]byte(bad)); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestValueJSON(t *testing.T) {
	var md Metadata
	if err := json.Unmarshal([]byte(`{"s":"x","n":1.5,"b":false,"l":["p","q"]}`), &md); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Metadata{"s": String("x"), "n": Number(1.5), "b": Bool(false), "l": Strings("p", "q")}
	if !md.Equal(want) {
		t.Fatalf("got %v, want %v", md, want)
	}
	for _, bad := range []string{`{"x":null}`, `{"x":{"y":1}}`, `{"x":[1,2]}`} {
		var m Metadata
		if err := json.Unmarshal([]byte(bad), &m); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
	if _, err := json.Marshal(Number(math.Inf(1))); err == nil {
		t.Error("expected error marshaling infinity")
	}
}
