package streamz

import (
	"net/netip"
	"testing"
	"time"
)

func TestValue_PackUnpackRoundtrip(t *testing.T) {
	cases := []any{
		nil,
		true,
		int64(-7),
		uint64(7),
		1.5,
		"hello",
		[]byte{1, 2, 3},
		5 * time.Second,
		time.Unix(1000, 0).UTC(),
		netip.MustParseAddr("192.168.0.1"),
		[]any{int64(1), int64(2)},
		map[string]any{"a": int64(1), "b": "x"},
	}
	for _, in := range cases {
		v, err := Pack(in)
		if err != nil {
			t.Fatalf("Pack(%v): %v", in, err)
		}
		out := v.Unpack()
		roundtrip, err := Pack(out)
		if err != nil {
			t.Fatalf("Pack(Unpack(%v)): %v", in, err)
		}
		if !v.Equal(roundtrip) {
			t.Errorf("roundtrip changed %v: %s vs %s", in, v, roundtrip)
		}
	}
}

func TestValue_Pack_IPv4MapsTo16Bytes(t *testing.T) {
	v := IP(netip.MustParseAddr("10.0.0.1"))
	a, ok := v.AsIP()
	if !ok || a.Is4() {
		t.Errorf("addresses must be stored in 16-byte form, got %v", a)
	}
}

func TestValue_Subnet_NormalizesPrefix(t *testing.T) {
	v := Subnet(netip.MustParsePrefix("10.0.0.0/8"))
	p, ok := v.AsSubnet()
	if !ok {
		t.Fatal("not a subnet")
	}
	if p.Bits() != 104 {
		t.Errorf("IPv4 /8 must map to /104 in 16-byte form, got /%d", p.Bits())
	}
	if p.Bits() > 128 {
		t.Error("prefix length must never exceed 128")
	}
}

func TestValue_Equal_NullOnlyEqualsNull(t *testing.T) {
	if !Null().Equal(NullOf(Int64Type())) {
		t.Error("nulls are equal regardless of nominal type")
	}
	if Null().Equal(Int64(0)) {
		t.Error("null must not equal zero")
	}
}

func TestValue_Equal_EnumNumericCompatibility(t *testing.T) {
	enum := EnumType(EnumVariant{Name: "low", Value: 1}, EnumVariant{Name: "high", Value: 2})
	if !Enum(enum, 2).Equal(Int64(2)) {
		t.Error("enum must equal a numerically identical integer")
	}
	if Enum(enum, 2).Equal(Uint64(3)) {
		t.Error("enum must not equal a different integer")
	}
}

func TestValue_Compare_AcrossNumericKinds(t *testing.T) {
	c, ok := Int64(2).Compare(Double(2.5))
	if !ok || c >= 0 {
		t.Errorf("2 < 2.5: got %d, %v", c, ok)
	}
	c, ok = Uint64(9).Compare(Int64(3))
	if !ok || c <= 0 {
		t.Errorf("9 > 3: got %d, %v", c, ok)
	}
	if _, ok := String("a").Compare(Int64(1)); ok {
		t.Error("string and int must not compare")
	}
}

func TestValue_FieldAccess(t *testing.T) {
	v := MustPack(map[string]any{"inner": map[string]any{"x": int64(5)}})
	inner, ok := v.Field("inner")
	if !ok {
		t.Fatal("missing inner")
	}
	x, ok := inner.Field("x")
	if !ok {
		t.Fatal("missing inner.x")
	}
	if got, _ := x.AsInt64(); got != 5 {
		t.Errorf("inner.x: got %d", got)
	}
}
