package streamz

import (
	"testing"
)

func TestType_Equal_Structural(t *testing.T) {
	a := RecordType(
		Field{Name: "x", Type: Int64Type()},
		Field{Name: "y", Type: ListType(StringType())},
	)
	b := RecordType(
		Field{Name: "x", Type: Int64Type()},
		Field{Name: "y", Type: ListType(StringType())},
	)
	if !a.Equal(b) {
		t.Errorf("expected structurally equal types, got %s vs %s", a, b)
	}
	c := RecordType(
		Field{Name: "x", Type: Int64Type()},
		Field{Name: "y", Type: ListType(BlobType())},
	)
	if a.Equal(c) {
		t.Errorf("expected %s != %s", a, c)
	}
}

func TestType_Equal_AttributesDistinguish(t *testing.T) {
	plain := StringType()
	hidden := StringType().WithAttrs(Attribute{Key: "hidden", Value: "true"})
	if plain.Equal(hidden) {
		t.Error("attributes must take part in equality")
	}
	if v, ok := hidden.Attr("hidden"); !ok || v != "true" {
		t.Errorf("attribute lookup: got %q, %v", v, ok)
	}
	if _, ok := plain.Attr("hidden"); ok {
		t.Error("unexpected attribute on plain type")
	}
}

func TestType_Hash_EqualTypesHashEqual(t *testing.T) {
	a := MapType(StringType(), ListType(Int64Type()))
	b := MapType(StringType(), ListType(Int64Type()))
	if a.Hash() != b.Hash() {
		t.Error("equal types must hash equally")
	}
	c := MapType(StringType(), ListType(Uint64Type()))
	if a.Hash() == c.Hash() {
		t.Error("expected different hashes for different types")
	}
}

func TestType_Subsumes(t *testing.T) {
	if !NullType().Subsumes(Int64Type()) {
		t.Error("null subsumes anything")
	}
	if !Int64Type().Subsumes(NullType()) {
		t.Error("anything subsumes null")
	}
	enum := EnumType(EnumVariant{Name: "a", Value: 0}, EnumVariant{Name: "b", Value: 1})
	if !enum.Subsumes(Uint64Type()) {
		t.Error("enum is numerically compatible with uint64")
	}
	if StringType().Subsumes(Int64Type()) {
		t.Error("string must not subsume int64")
	}
}

func TestType_RecordType_DuplicateFieldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate field name")
		}
	}()
	RecordType(Field{Name: "a", Type: Int64Type()}, Field{Name: "a", Type: Int64Type()})
}

func TestType_Resolve_NestedAndExpansion(t *testing.T) {
	schema := RecordType(
		Field{Name: "src", Type: RecordType(
			Field{Name: "ip", Type: IPType()},
			Field{Name: "port", Type: Uint64Type()},
		)},
		Field{Name: "dst", Type: RecordType(
			Field{Name: "ip", Type: IPType()},
		)},
	)
	matches := schema.Resolve("src.ip")
	if len(matches) != 1 || matches[0].Name != "src.ip" {
		t.Fatalf("src.ip: got %v", matches)
	}
	all := schema.Resolve("src.*")
	if len(all) != 2 || all[0].Name != "src.ip" || all[1].Name != "src.port" {
		t.Fatalf("src.*: got %v", all)
	}
	// A bare suffix matches in both records, in schema order.
	ips := schema.Resolve("ip")
	if len(ips) != 2 || ips[0].Name != "src.ip" || ips[1].Name != "dst.ip" {
		t.Fatalf("ip: got %v", ips)
	}
}

func TestType_ResolveOne_TieBreak(t *testing.T) {
	schema := RecordType(
		Field{Name: "b", Type: RecordType(Field{Name: "x", Type: Int64Type()})},
		Field{Name: "a", Type: RecordType(Field{Name: "x", Type: Int64Type()})},
	)
	// Same length: lexicographically first dotted name wins.
	resolved, ok := schema.ResolveOne("x")
	if !ok || resolved.Name != "a.x" {
		t.Errorf("expected a.x, got %v (ok=%v)", resolved.Name, ok)
	}
	// Longer dotted names win over shorter ones.
	deep := RecordType(
		Field{Name: "x", Type: Int64Type()},
		Field{Name: "outer", Type: RecordType(Field{Name: "x", Type: Int64Type()})},
	)
	resolved, ok = deep.ResolveOne("x")
	if !ok || resolved.Name != "outer.x" {
		t.Errorf("expected outer.x (longest), got %v", resolved.Name)
	}
}
